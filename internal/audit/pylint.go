package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// PylintRunner 调用 pylint 做缺陷检查。
type PylintRunner struct {
	Timeout time.Duration
}

func (r *PylintRunner) Name() string { return "pylint" }

type pylintItem struct {
	Type    string `json:"type"`
	Symbol  string `json:"symbol"`
	Message string `json:"message"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
}

func (r *PylintRunner) Run(ctx context.Context, dir, mainFile string) ToolReport {
	report := ToolReport{Name: "pylint", Available: toolAvailable("pylint")}
	if !report.Available {
		return report
	}
	out, timedOut, err := runCommand(ctx, r.Timeout, dir, "pylint", "--output-format=json", "-sn", "-rn", mainFile)
	report.Raw = out
	if timedOut {
		report.TimedOut = true
		report.Findings = append(report.Findings, timeoutFinding("pylint"))
		return report
	}
	if err != nil {
		report.Available = false
		return report
	}

	report.Findings = parsePylintOutput(out)
	return report
}

func parsePylintOutput(out string) []Finding {
	var items []pylintItem
	if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(out)), &items); jsonErr != nil {
		return rawLineFindings("pylint", out)
	}
	var findings []Finding
	for _, item := range items {
		sev := SeverityWarning
		switch item.Type {
		case "error", "fatal":
			sev = SeverityError
		case "convention", "refactor", "info":
			sev = SeverityInfo
		}
		findings = append(findings, Finding{
			Tool:     "pylint",
			Code:     item.Symbol,
			Message:  item.Message,
			Line:     item.Line,
			Column:   item.Column,
			Severity: sev,
		})
	}
	return findings
}
