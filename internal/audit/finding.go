package audit

import "fmt"

// Severity 表示审查问题的严重程度，从低到高排序。
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Finding 是一条具体的审查问题，来源可能是内置规则或外部工具。
type Finding struct {
	Tool     string
	Code     string
	Message  string
	Line     int
	Column   int
	Severity Severity
}

// Text 渲染为面向用户的单行描述。
func (f Finding) Text() string {
	if f.Line > 0 {
		return fmt.Sprintf("[%s %s] 第%d行: %s", f.Tool, f.Code, f.Line, f.Message)
	}
	return fmt.Sprintf("[%s %s] %s", f.Tool, f.Code, f.Message)
}

// ToolReport 是单个外部工具的执行结果。
// Available 为 false 表示环境中没有安装该工具，此时不产生任何扣分。
type ToolReport struct {
	Name      string
	Available bool
	TimedOut  bool
	Findings  []Finding
	Raw       string
}

// Report 是一次完整审查的聚合结论。
type Report struct {
	Approved    bool
	Score       int
	Reason      string
	Issues      []string
	Suggestions []string
	ToolReports map[string]ToolReport
}
