package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// RuffRunner 调用 ruff 做风格与缺陷检查。
type RuffRunner struct {
	Timeout time.Duration
}

func (r *RuffRunner) Name() string { return "ruff" }

type ruffItem struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
}

func (r *RuffRunner) Run(ctx context.Context, dir, mainFile string) ToolReport {
	report := ToolReport{Name: "ruff", Available: toolAvailable("ruff")}
	if !report.Available {
		return report
	}
	out, timedOut, err := runCommand(ctx, r.Timeout, dir, "ruff", "check", mainFile, "--output-format", "json")
	report.Raw = out
	if timedOut {
		report.TimedOut = true
		report.Findings = append(report.Findings, timeoutFinding("ruff"))
		return report
	}
	if err != nil {
		report.Available = false
		return report
	}

	report.Findings = parseRuffOutput(out)
	return report
}

func parseRuffOutput(out string) []Finding {
	var items []ruffItem
	if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(out)), &items); jsonErr != nil {
		// 输出不是 JSON 时按行兜底
		return rawLineFindings("ruff", out)
	}
	var findings []Finding
	for _, item := range items {
		findings = append(findings, Finding{
			Tool:     "ruff",
			Code:     item.Code,
			Message:  item.Message,
			Line:     item.Location.Row,
			Column:   item.Location.Column,
			Severity: ruffSeverity(item.Code),
		})
	}
	return findings
}

// E9xx 与 F 开头的规则对应真实缺陷，其余按风格问题处理。
func ruffSeverity(code string) Severity {
	if strings.HasPrefix(code, "E9") || strings.HasPrefix(code, "F") || strings.HasPrefix(code, "B") {
		return SeverityError
	}
	return SeverityWarning
}

// rawLineFindings 把无法结构化解析的工具输出按非空行转为 Finding
func rawLineFindings(tool, out string) []Finding {
	var findings []Finding
	for _, line := range nonEmptyLines(out) {
		findings = append(findings, Finding{
			Tool: tool, Message: line, Severity: SeverityWarning,
		})
	}
	return findings
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
