package audit

import (
	"context"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Profile 控制启用哪些外部检查工具。
type Profile string

const (
	// ProfileOff 只运行内置规范检查，不调用外部工具。
	ProfileOff Profile = "off"
	// ProfileBasic 在内置规则之外只启用 ruff。
	ProfileBasic Profile = "basic"
	// ProfileStrict 启用全部工具并抬高通过阈值。
	ProfileStrict Profile = "strict"
	// ProfileTailored 启用全部工具并使用为插件代码定制的配置，默认档位。
	ProfileTailored Profile = "tailored"
)

const strictThreshold = 85

// Options 是审查器的配置。
type Options struct {
	Profile            Profile
	Threshold          int
	ToolTimeout        time.Duration
	BannedDependencies []string
}

// Auditor 对生成的插件代码做多层静态审查：
// 内置 AstrBot 规范检查始终执行，外部工具按档位并发执行。
type Auditor struct {
	opts    Options
	runners []Runner
}

// NewAuditor 按档位装配审查器。
func NewAuditor(opts Options) *Auditor {
	if opts.Threshold <= 0 {
		opts.Threshold = 80
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = 30 * time.Second
	}
	a := &Auditor{opts: opts}
	switch opts.Profile {
	case ProfileOff:
	case ProfileBasic:
		a.runners = []Runner{&RuffRunner{Timeout: opts.ToolTimeout}}
	case ProfileStrict:
		if opts.Threshold < strictThreshold {
			a.opts.Threshold = strictThreshold
		}
		fallthrough
	default:
		a.runners = []Runner{
			&RuffRunner{Timeout: opts.ToolTimeout},
			&PylintRunner{Timeout: opts.ToolTimeout},
			&MypyRunner{Timeout: opts.ToolTimeout},
		}
	}
	return a
}

// Audit 对插件代码执行一次完整审查。
// 外部工具的任何失败都不会阻断审查，只会体现在结果里。
func (a *Auditor) Audit(ctx context.Context, code string, dependencies []string) *Report {
	ruleFindings := RunRules(code, dependencies, a.opts.BannedDependencies)

	reports := make([]ToolReport, len(a.runners))
	if len(a.runners) > 0 {
		dir, err := os.MkdirTemp("", "astrbot_audit_")
		if err != nil {
			klog.Errorf("创建审查临时目录失败: %v", err)
		} else {
			defer os.RemoveAll(dir)
			mainFile, werr := writeWorkspace(dir, code)
			if werr != nil {
				klog.Errorf("写入审查工作区失败: %v", werr)
			} else {
				g, gctx := errgroup.WithContext(ctx)
				for i, r := range a.runners {
					g.Go(func() error {
						reports[i] = r.Run(gctx, dir, mainFile)
						return nil
					})
				}
				_ = g.Wait()
			}
		}
	}

	rep := aggregate(ruleFindings, reports, a.opts.Threshold)
	klog.V(6).Infof("审查完成: approved=%v score=%d issues=%d", rep.Approved, rep.Score, len(rep.Issues))
	return rep
}

// Threshold 返回当前生效的通过阈值。
func (a *Auditor) Threshold() int { return a.opts.Threshold }
