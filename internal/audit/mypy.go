package audit

import (
	"context"
	"regexp"
	"strconv"
	"time"
)

// MypyRunner 调用 mypy 做类型检查。
type MypyRunner struct {
	Timeout time.Duration
}

func (r *MypyRunner) Name() string { return "mypy" }

// 输出格式: main.py:12: error: MSG  [code]，开启列号时行号后多一段 :col
var mypyLineRe = regexp.MustCompile(`^([^:]+):(\d+)(?::(\d+))?:\s+(error|warning|note):\s+(.*?)(?:\s+\[([\w-]+)\])?$`)

func (r *MypyRunner) Run(ctx context.Context, dir, mainFile string) ToolReport {
	report := ToolReport{Name: "mypy", Available: toolAvailable("mypy")}
	if !report.Available {
		return report
	}
	out, timedOut, err := runCommand(ctx, r.Timeout, dir, "mypy", mainFile,
		"--config-file", "mypy.ini",
		"--show-error-codes",
		"--hide-error-context",
		"--no-error-summary",
		"--no-color-output",
	)
	report.Raw = out
	if timedOut {
		report.TimedOut = true
		report.Findings = append(report.Findings, timeoutFinding("mypy"))
		return report
	}
	if err != nil {
		report.Available = false
		return report
	}

	report.Findings = parseMypyOutput(out)
	return report
}

func parseMypyOutput(out string) []Finding {
	var findings []Finding
	lines := nonEmptyLines(out)
	for _, line := range lines {
		m := mypyLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNo, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		sev := SeverityWarning
		switch m[4] {
		case "error":
			sev = SeverityError
		case "note":
			sev = SeverityInfo
		}
		findings = append(findings, Finding{
			Tool:     "mypy",
			Code:     m[6],
			Message:  m[5],
			Line:     lineNo,
			Column:   col,
			Severity: sev,
		})
	}
	// 一行都没解析出来时按原始行兜底，不静默丢弃
	if len(findings) == 0 && len(lines) > 0 {
		return rawLineFindings("mypy", out)
	}
	return findings
}
