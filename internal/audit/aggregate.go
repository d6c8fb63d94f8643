package audit

import "fmt"

// 内置规则按严重程度扣分。
var ruleWeights = map[Severity]int{
	SeverityCritical: 15,
	SeverityError:    8,
	SeverityWarning:  5,
	SeverityInfo:     1,
}

// 外部工具按 (工具, 严重程度) 扣分，单个工具的总扣分封顶。
var toolWeights = map[string]map[Severity]int{
	"ruff":   {SeverityError: 2, SeverityWarning: 1, SeverityInfo: 1},
	"pylint": {SeverityError: 3, SeverityWarning: 1, SeverityInfo: 1},
	"mypy":   {SeverityError: 3, SeverityWarning: 1, SeverityInfo: 1},
}

const perToolPenaltyCap = 30

// 每个工具最多保留的问题条数，避免刷屏。
const perToolIssueLimit = 50

// aggregate 把内置规则与外部工具的结果汇总为统一结论。
// reports 的顺序即 runner 注册顺序，保证输出稳定。
func aggregate(ruleFindings []Finding, reports []ToolReport, threshold int) *Report {
	rep := &Report{
		Score:       100,
		ToolReports: make(map[string]ToolReport, len(reports)),
	}

	hasSyntaxError := false
	hasCritical := false
	seen := make(map[string]bool)

	// 先列关键问题，再列普通问题
	for _, f := range ruleFindings {
		if f.Severity == SeverityCritical {
			rep.Issues = append(rep.Issues, f.Text())
		}
	}
	for _, f := range ruleFindings {
		if f.Severity != SeverityCritical {
			rep.Issues = append(rep.Issues, f.Text())
		}
	}
	for _, f := range ruleFindings {
		rep.Score -= ruleWeights[f.Severity]
		if f.Severity == SeverityCritical {
			hasCritical = true
		}
		if f.Code == codeSyntaxError {
			hasSyntaxError = true
		}
		if s := ruleSuggestions[f.Code]; s != "" && !seen[f.Code] {
			seen[f.Code] = true
			rep.Suggestions = append(rep.Suggestions, s)
		}
	}

	toolFailed := false
	for _, tr := range reports {
		if tr.Name == "" {
			continue
		}
		rep.ToolReports[tr.Name] = tr
		if !tr.Available {
			continue
		}
		if tr.TimedOut {
			toolFailed = true
		}
		penalty := 0
		for i, f := range tr.Findings {
			if i < perToolIssueLimit {
				rep.Issues = append(rep.Issues, f.Text())
			}
			w := toolWeights[tr.Name][f.Severity]
			if w == 0 {
				w = 1
			}
			penalty += w
		}
		if penalty > perToolPenaltyCap {
			penalty = perToolPenaltyCap
		}
		rep.Score -= penalty
	}

	if rep.Score < 0 {
		rep.Score = 0
	}
	if rep.Score > 100 {
		rep.Score = 100
	}

	rep.Approved = !hasCritical && rep.Score >= threshold
	switch {
	case hasSyntaxError:
		rep.Reason = "代码存在语法错误，无法进入审查"
	case hasCritical:
		rep.Reason = "存在不满足 AstrBot 规范的关键问题，请修复后重试"
	case rep.Score < threshold && toolFailed:
		rep.Reason = fmt.Sprintf("外部检查工具执行失败且得分低于阈值: %d < %d", rep.Score, threshold)
	case rep.Score < threshold:
		rep.Reason = fmt.Sprintf("静态审查得分低于阈值: %d < %d", rep.Score, threshold)
	default:
		rep.Reason = "通过静态审查"
	}
	return rep
}
