package audit

import (
	"fmt"
	"strings"
)

const ruleTool = "astrbot"

// 规则编号集中定义，聚合器按编号查建议文案。
const (
	codeSyntaxError    = "ASTR000"
	codeMissingLogger  = "ASTR001"
	codeBannedImport   = "ASTR002"
	codeFilterImport   = "ASTR003"
	codeNoStarClass    = "ASTR004"
	codeDangerousCall  = "ASTR005"
	codeHookArity      = "ASTR007"
	codeYieldInHook    = "ASTR008"
	codeToolPermission = "ASTR009"
	codeMissingEvent   = "ASTR010"
	codeBannedDep      = "ASTR011"
)

var ruleSuggestions = map[string]string{
	codeSyntaxError:    "先修复语法错误，保证代码可以被解析",
	codeMissingLogger:  "使用 from astrbot.api import logger 获取日志对象",
	codeBannedImport:   "删除被禁用的模块导入，日志统一使用 astrbot.api 提供的 logger",
	codeFilterImport:   "添加 from astrbot.api.event import filter",
	codeNoStarClass:    "插件主类必须继承 Star，例如 class MyPlugin(Star):",
	codeDangerousCall:  "移除 eval/exec/os.system 等危险调用",
	codeHookArity:      "钩子方法签名应为 (self, event, req/resp)",
	codeYieldInHook:    "该钩子不支持生成器，请改用普通返回",
	codeToolPermission: "llm_tool 与 permission_type 不能装饰同一个方法，请拆分",
	codeMissingEvent:   "监听方法需要声明 event 参数，例如 (self, event: AstrMessageEvent)",
	codeBannedDep:      "从依赖列表中移除被禁用的第三方库",
}

// 这些模块禁止在插件代码中直接导入。
var bannedImports = map[string]Severity{
	"logging":  SeverityCritical,
	"loguru":   SeverityCritical,
	"requests": SeverityCritical,
}

// 这些钩子不允许写成生成器。
var noYieldHooks = map[string]bool{
	"on_llm_request":      true,
	"on_llm_response":     true,
	"on_decorating_result": true,
	"after_message_sent":  true,
}

var dangerousCalls = []string{"eval(", "exec(", "__import__(", "os.system(", "subprocess."}

// RunRules 对插件源码执行全部内置规范检查。
// 解析失败时只返回一条 critical 级别的语法错误。
func RunRules(source string, dependencies, banned []string) []Finding {
	mod, err := ParsePython(source)
	if err != nil {
		line := 0
		if pe, ok := err.(*ParseError); ok {
			line = pe.Line
		}
		return []Finding{{
			Tool:     ruleTool,
			Code:     codeSyntaxError,
			Message:  fmt.Sprintf("代码存在语法错误: %v", err),
			Line:     line,
			Severity: SeverityCritical,
		}}
	}

	var findings []Finding
	add := func(code, msg string, line int, sev Severity) {
		findings = append(findings, Finding{Tool: ruleTool, Code: code, Message: msg, Line: line, Severity: sev})
	}

	// 主类必须继承 Star。
	hasStar := false
	for _, cls := range mod.Classes {
		for _, base := range cls.Bases {
			if base == "Star" || strings.HasSuffix(base, ".Star") {
				hasStar = true
			}
		}
	}
	if !hasStar {
		add(codeNoStarClass, "未找到继承 Star 的插件主类", 0, SeverityCritical)
	}

	// 导入检查。
	hasLogger := false
	hasFilter := false
	for _, imp := range mod.Imports {
		root := imp.Module
		if idx := strings.Index(root, "."); idx >= 0 {
			root = root[:idx]
		}
		if sev, ok := bannedImports[root]; ok {
			add(codeBannedImport, fmt.Sprintf("禁止直接导入 %s 模块", root), imp.Line, sev)
		}
		if imp.Module == "astrbot.api" && containsName(imp.Names, "logger") {
			hasLogger = true
		}
		if imp.Module == "astrbot.api.event" && containsName(imp.Names, "filter") {
			hasFilter = true
		}
	}
	if !hasLogger {
		add(codeMissingLogger, "缺少 from astrbot.api import logger，日志应使用框架提供的 logger", 0, SeverityWarning)
	}

	usesFilter := false
	for _, fn := range mod.Functions {
		for _, dec := range fn.Decorators {
			if dec.Value == "filter" {
				usesFilter = true
			}
		}
	}
	if usesFilter && !hasFilter {
		add(codeFilterImport, "使用了 @filter 装饰器但缺少 from astrbot.api.event import filter", 0, SeverityCritical)
	}

	// 函数级规则。
	for _, fn := range mod.Functions {
		filterDecorated := false
		hasLLMTool := false
		hasPermission := false
		for _, dec := range fn.Decorators {
			if dec.Value == "filter" {
				filterDecorated = true
				switch dec.Attr {
				case "llm_tool":
					hasLLMTool = true
				case "permission_type":
					hasPermission = true
				case "on_llm_request", "on_llm_response":
					if len(fn.Params) < 3 {
						add(codeHookArity, fmt.Sprintf("%s 钩子至少需要 3 个参数 (self, event, req/resp)", dec.Attr), fn.Line, SeverityError)
					}
				}
				if noYieldHooks[dec.Attr] && fn.HasYield {
					add(codeYieldInHook, fmt.Sprintf("%s 钩子内不允许使用 yield", dec.Attr), fn.Line, SeverityCritical)
				}
			}
		}
		if hasLLMTool && hasPermission {
			add(codeToolPermission, fmt.Sprintf("方法 %s 同时使用了 llm_tool 和 permission_type 装饰器", fn.Name), fn.Line, SeverityError)
		}
		if filterDecorated && fn.Name != "on_astrbot_loaded" && !hasEventParam(fn.Params) {
			add(codeMissingEvent, fmt.Sprintf("监听方法 %s 缺少 event 参数", fn.Name), fn.Line, SeverityWarning)
		}
	}

	// 危险调用按原文扫描。
	for i, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		for _, call := range dangerousCalls {
			if strings.Contains(trimmed, call) {
				add(codeDangerousCall, fmt.Sprintf("检测到危险调用 %s", strings.TrimSuffix(call, "(")), i+1, SeverityCritical)
			}
		}
	}

	// 依赖黑名单。
	for _, dep := range dependencies {
		name := strings.ToLower(strings.TrimSpace(dep))
		for _, sep := range []string{"==", ">=", "<=", "~=", ">", "<"} {
			if idx := strings.Index(name, sep); idx >= 0 {
				name = name[:idx]
			}
		}
		for _, b := range banned {
			if name == strings.ToLower(b) {
				add(codeBannedDep, fmt.Sprintf("依赖 %s 在禁用名单中", name), 0, SeverityError)
			}
		}
	}

	return findings
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want || n == "*" {
			return true
		}
	}
	return false
}

func hasEventParam(params []string) bool {
	for i, p := range params {
		if i == 0 && p == "self" {
			continue
		}
		if strings.Contains(strings.ToLower(p), "event") {
			return true
		}
	}
	return false
}
