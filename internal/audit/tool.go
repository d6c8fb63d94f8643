package audit

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"k8s.io/klog/v2"
)

// Runner 抽象一个外部静态检查工具。
// 工具未安装时返回 Available=false，不计入扣分。
type Runner interface {
	Name() string
	Run(ctx context.Context, dir, mainFile string) ToolReport
}

// runCommand 在指定目录下执行工具命令并返回标准输出。
// 多数检查工具在发现问题时返回非零退出码，这不算执行失败，
// 只有超时和无法启动才视为失败。
func runCommand(ctx context.Context, timeout time.Duration, dir, name string, args ...string) (out string, timedOut bool, err error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		klog.Warningf("工具 %s 执行超时 (%v)", name, timeout)
		return stdout.String(), true, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// 非零退出码，输出里带着检查结果
			return stdout.String(), false, nil
		}
		klog.Errorf("工具 %s 启动失败: %v, stderr=%s", name, runErr, stderr.String())
		return "", false, runErr
	}
	return stdout.String(), false, nil
}

// timeoutFinding 把超时折算成一条 error 级别的问题。
func timeoutFinding(tool string) Finding {
	return Finding{
		Tool:     tool,
		Code:     "timeout",
		Message:  "执行超时",
		Severity: SeverityError,
	}
}

// toolAvailable 检查工具二进制是否在 PATH 中。
func toolAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
