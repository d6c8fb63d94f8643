package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/codemage/backend/internal/eventbus"
	"github.com/codemage/backend/internal/model"
	"github.com/codemage/backend/internal/pkg/installer"
	"github.com/codemage/backend/internal/service/statemachine"
)

// runBuild 构建阶段：代码生成 -> 审查修复循环 -> 安装。
// 进入时任务状态必须已是 generating_code。
func (s *GenerationService) runBuild(ctx context.Context, taskID string) {
	task, err := s.repo.GetByTaskID(taskID)
	if err != nil || task == nil {
		klog.Errorf("加载生成任务失败: taskID=%s, err=%v", taskID, err)
		return
	}

	task.Step = 4
	if err := s.repo.Save(task); err != nil {
		s.fail(ctx, task, err)
		return
	}
	s.publish(eventbus.EventStepStarted, task, model.StepDescription(4))
	s.notify(ctx, task, fmt.Sprintf("⏳ [4/%d] %s", model.TotalSteps, model.StepDescription(4)))

	meta := task.Metadata()
	code, err := s.gen.GenerateCode(ctx, meta, task.Markdown, task.ConfigSchema)
	if err != nil {
		s.fail(ctx, task, fmt.Errorf("生成插件代码失败: %w", err))
		return
	}

	// 审查修复循环。budget 为允许的修复次数，-1 表示不限。
	budget := s.cfg.Generation.MaxRetries
	repairs := 0
	installMode := ResolveInstallMode(s.cfg.Generation.InstallMethod)
	if installMode == InstallModeAuto && s.cfg.Generation.APIPasswordMD5 == "" {
		// 没有 API 凭据时 auto 直接收敛为文件安装
		installMode = InstallModeFile
	}

	if err := s.stepTo(ctx, task, statemachine.StatusAuditing, 5); err != nil {
		s.fail(ctx, task, err)
		return
	}

	for {
		vd := s.review(ctx, task, code)
		if vd.approved {
			if err := s.stepTo(ctx, task, statemachine.StatusInstalling, 6); err != nil {
				s.fail(ctx, task, err)
				return
			}
			healthIssues, installErr := s.install(ctx, task, meta, code, installMode)
			if installErr != nil {
				s.fail(ctx, task, installErr)
				return
			}
			if len(healthIssues) == 0 {
				s.finish(ctx, task)
				return
			}
			// 安装后的错误日志回流到修复循环
			if budget >= 0 && repairs >= budget {
				s.fail(ctx, task, fmt.Errorf("安装后日志仍有错误且修复次数已用完: %v", healthIssues))
				return
			}
			vd.reason = "安装后日志存在错误"
			vd.issues = healthIssues
			vd.suggestions = []string{"根据安装日志中的错误修复插件代码"}
			if err := s.transition(ctx, task, statemachine.StatusRepairing); err != nil {
				s.fail(ctx, task, err)
				return
			}
		} else {
			if budget >= 0 && repairs >= budget {
				s.fail(ctx, task, fmt.Errorf("代码审查未通过且修复次数已用完: %s", vd.reason))
				return
			}
			if err := s.transition(ctx, task, statemachine.StatusRepairing); err != nil {
				s.fail(ctx, task, err)
				return
			}
		}

		repairs++
		if err := s.repo.Save(task); err != nil {
			s.fail(ctx, task, err)
			return
		}
		s.notify(ctx, task, fmt.Sprintf("🔧 正在修复插件代码（第 %d 次）：%s", repairs, vd.reason))

		fixed, fixErr := s.gen.FixCode(ctx, code, vd.issues, vd.suggestions, 3)
		if fixErr != nil {
			s.fail(ctx, task, fmt.Errorf("修复插件代码失败: %w", fixErr))
			return
		}
		code = fixed
		if err := s.transition(ctx, task, statemachine.StatusAuditing); err != nil {
			s.fail(ctx, task, err)
			return
		}
		if err := s.repo.Save(task); err != nil {
			s.fail(ctx, task, err)
			return
		}
	}
}

// verdict 静态审查与 LLM 审查的合并结论
type verdict struct {
	approved    bool
	reason      string
	issues      []string
	suggestions []string
}

// review 先做静态审查，严格模式下再叠加一次 LLM 语义审查。
// 任意一层不通过即不通过，问题与建议合并后交给修复环节。
func (s *GenerationService) review(ctx context.Context, task *model.GenerationTask, code string) verdict {
	meta := task.Metadata()
	report := s.auditor.Audit(ctx, code, meta.Extra.Dependencies)

	v := verdict{
		approved:    report.Approved,
		reason:      report.Reason,
		issues:      report.Issues,
		suggestions: report.Suggestions,
	}

	if !s.cfg.Generation.StrictReview {
		return v
	}

	llm, err := s.gen.ReviewCode(ctx, code, meta, task.Markdown)
	if err != nil {
		// LLM 审查不可用时退回静态审查结论
		klog.Warningf("LLM审查失败，仅使用静态审查结论: taskID=%s, err=%v", task.TaskID, err)
		return v
	}
	v.issues = append(v.issues, llm.Issues...)
	v.suggestions = append(v.suggestions, llm.Suggestions...)
	if !llm.Approved || llm.SatisfactionScore < s.auditor.Threshold() {
		v.approved = false
		if v.reason == "通过静态审查" || v.reason == "" {
			v.reason = llm.Reason
		}
	}
	return v
}

// install 按安装方式落地插件，返回安装后日志中的错误（仅 API 安装有健康检查）。
func (s *GenerationService) install(ctx context.Context, task *model.GenerationTask, meta model.Metadata, code string, mode InstallMode) ([]string, error) {
	if mode == InstallModeFile {
		dir, err := installer.WritePluginFiles(s.pluginsDir, meta, code, task.Markdown, task.ConfigSchema)
		if err != nil {
			return nil, fmt.Errorf("写入插件文件失败: %w", err)
		}
		s.notify(ctx, task, fmt.Sprintf("📦 插件文件已写入 %s，等待 AstrBot 加载", dir))
		return nil, nil
	}

	// API 安装在临时目录打包，上传失败或回流修复时插件目录不留半成品
	stage, err := os.MkdirTemp("", "astrbot_plugin_")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(stage)

	dir, err := installer.WritePluginFiles(stage, meta, code, task.Markdown, task.ConfigSchema)
	if err != nil {
		return nil, fmt.Errorf("写入插件文件失败: %w", err)
	}

	zipPath, err := installer.PackageDirectory(dir, meta.Name)
	if err != nil {
		return nil, err
	}
	defer os.Remove(zipPath)

	if _, err := s.installer.InstallArchive(ctx, zipPath, meta.Name); err != nil {
		if mode == InstallModeAPI {
			return nil, fmt.Errorf("API安装失败: %w", err)
		}
		// auto 模式回退到文件安装
		klog.Warningf("API安装失败，回退到文件安装: taskID=%s, err=%v", task.TaskID, err)
		fallbackDir, werr := installer.WritePluginFiles(s.pluginsDir, meta, code, task.Markdown, task.ConfigSchema)
		if werr != nil {
			return nil, fmt.Errorf("回退文件安装失败: %w", werr)
		}
		s.notify(ctx, task, fmt.Sprintf("📦 API安装失败，插件文件已写入 %s", fallbackDir))
		return nil, nil
	}

	health, err := s.installer.CheckInstallHealth(ctx, meta.Name)
	if err != nil {
		klog.Warningf("安装健康检查失败: taskID=%s, err=%v", task.TaskID, err)
		return nil, nil
	}
	if health.HasErrors {
		// 带错误的安装先卸载，避免坏插件留在 AstrBot 里
		if uerr := s.installer.Uninstall(ctx, meta.Name); uerr != nil {
			klog.Warningf("卸载异常插件失败: taskID=%s, err=%v", task.TaskID, uerr)
		}
		return health.ErrorLogs, nil
	}
	if health.HasWarnings {
		s.notify(ctx, task, fmt.Sprintf("⚠️ 插件已安装但日志有警告：%v", health.WarningLogs))
	}
	return nil, nil
}

// finish 标记任务完成并汇报结果。
func (s *GenerationService) finish(ctx context.Context, task *model.GenerationTask) {
	task.Status = string(statemachine.StatusDone)
	now := time.Now()
	task.CompletedAt = &now
	if err := s.repo.Save(task); err != nil {
		klog.Errorf("保存完成状态出错: taskID=%s, err=%v", task.TaskID, err)
	}
	s.publish(eventbus.EventPipelineCompleted, task, "插件生成完成")
	s.notify(ctx, task, fmt.Sprintf("🎉 插件 %s 生成并安装完成！", task.Name))
	s.releaseNotifier(task.TaskID)
	klog.Infof("生成任务完成: taskID=%s, plugin=%s", task.TaskID, task.Name)
}
