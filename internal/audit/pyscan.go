package audit

import (
	"fmt"
	"regexp"
	"strings"
)

// pyscan 提供一个轻量的 Python 结构扫描器，只抽取规则检查需要的信息：
// 导入、类定义、函数定义（含装饰器、参数、是否有 yield）。
// 它不是完整的解析器，遇到明显的语法问题会返回 ParseError。

// ParseError 表示源代码存在无法继续扫描的结构错误。
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("第%d行: %s", e.Line, e.Msg)
}

// PyImport 对应一条 import 语句。Module 为被导入的模块路径，
// Names 仅在 from ... import ... 时非空。
type PyImport struct {
	Module string
	Names  []string
	Line   int
}

// PyClass 对应一个类定义。
type PyClass struct {
	Name  string
	Bases []string
	Line  int
}

// PyDecorator 对应一个装饰器。Value 是第一段标识符，
// Attr 是紧随其后的属性名，如 @filter.command("x") 中 Value=filter、Attr=command。
type PyDecorator struct {
	Raw   string
	Value string
	Attr  string
	Line  int
}

// PyFunction 对应一个函数或方法定义。
type PyFunction struct {
	Name       string
	Params     []string
	Decorators []PyDecorator
	Async      bool
	HasYield   bool
	Line       int
	indent     int
}

// PyModule 是一次扫描的结果。Functions 包含模块内全部函数定义，含类方法。
type PyModule struct {
	Imports   []PyImport
	Classes   []PyClass
	Functions []PyFunction
}

// logicalLine 是合并续行之后的一条逻辑行。
type logicalLine struct {
	text   string
	indent int
	line   int
}

var (
	importRe    = regexp.MustCompile(`^import\s+(.+)$`)
	fromRe      = regexp.MustCompile(`^from\s+([.\w]+)\s+import\s+(.+)$`)
	defRe       = regexp.MustCompile(`^(async\s+)?def\s+([A-Za-z_]\w*)\s*\((.*)\)\s*(->[^:]*)?:`)
	classRe     = regexp.MustCompile(`^class\s+([A-Za-z_]\w*)\s*(?:\(([^)]*)\))?\s*:`)
	decoratorRe = regexp.MustCompile(`^@\s*([A-Za-z_]\w*)(?:\.([A-Za-z_]\w*))?`)
	yieldRe     = regexp.MustCompile(`(^|[^\w])yield([^\w]|$)`)
)

// ParsePython 扫描源代码并返回结构信息。
func ParsePython(source string) (*PyModule, error) {
	lines, err := splitLogicalLines(source)
	if err != nil {
		return nil, err
	}

	mod := &PyModule{}
	var pending []PyDecorator

	for i, ll := range lines {
		text := ll.text
		switch {
		case strings.HasPrefix(text, "@"):
			m := decoratorRe.FindStringSubmatch(text)
			if m == nil {
				return nil, &ParseError{Line: ll.line, Msg: "无法识别的装饰器"}
			}
			pending = append(pending, PyDecorator{Raw: text, Value: m[1], Attr: m[2], Line: ll.line})

		case strings.HasPrefix(text, "import "):
			m := importRe.FindStringSubmatch(text)
			if m != nil {
				for _, part := range strings.Split(m[1], ",") {
					name := strings.TrimSpace(part)
					if idx := strings.Index(name, " as "); idx >= 0 {
						name = strings.TrimSpace(name[:idx])
					}
					if name != "" {
						mod.Imports = append(mod.Imports, PyImport{Module: name, Line: ll.line})
					}
				}
			}
			pending = nil

		case strings.HasPrefix(text, "from "):
			m := fromRe.FindStringSubmatch(text)
			if m != nil {
				imp := PyImport{Module: m[1], Line: ll.line}
				names := strings.Trim(m[2], "()")
				for _, part := range strings.Split(names, ",") {
					name := strings.TrimSpace(part)
					if idx := strings.Index(name, " as "); idx >= 0 {
						name = strings.TrimSpace(name[:idx])
					}
					if name != "" {
						imp.Names = append(imp.Names, name)
					}
				}
				mod.Imports = append(mod.Imports, imp)
			}
			pending = nil

		case strings.HasPrefix(text, "class "):
			m := classRe.FindStringSubmatch(text)
			if m == nil {
				return nil, &ParseError{Line: ll.line, Msg: "类定义缺少冒号"}
			}
			cls := PyClass{Name: m[1], Line: ll.line}
			for _, base := range strings.Split(m[2], ",") {
				base = strings.TrimSpace(base)
				if base != "" {
					cls.Bases = append(cls.Bases, base)
				}
			}
			mod.Classes = append(mod.Classes, cls)
			pending = nil

		case strings.HasPrefix(text, "def ") || strings.HasPrefix(text, "async def "):
			m := defRe.FindStringSubmatch(text)
			if m == nil {
				return nil, &ParseError{Line: ll.line, Msg: "函数定义缺少冒号"}
			}
			fn := PyFunction{
				Name:       m[2],
				Params:     splitParams(m[3]),
				Decorators: pending,
				Async:      m[1] != "",
				Line:       ll.line,
				indent:     ll.indent,
			}
			fn.HasYield = bodyHasYield(lines[i+1:], ll.indent)
			mod.Functions = append(mod.Functions, fn)
			pending = nil

		default:
			pending = nil
		}
	}
	return mod, nil
}

// bodyHasYield 判断函数体内是否出现 yield。与 ast.walk 一致，
// 嵌套函数里的 yield 也计入外层函数。
func bodyHasYield(rest []logicalLine, indent int) bool {
	for _, ll := range rest {
		if ll.indent <= indent {
			return false
		}
		if yieldRe.MatchString(ll.text) {
			return true
		}
	}
	return false
}

// splitParams 按顶层逗号切分参数列表，去掉注解、默认值和星号前缀。
func splitParams(raw string) []string {
	var params []string
	depth := 0
	start := 0
	flush := func(end int) {
		p := strings.TrimSpace(raw[start:end])
		if p == "" {
			return
		}
		if idx := strings.IndexAny(p, ":="); idx >= 0 {
			p = strings.TrimSpace(p[:idx])
		}
		p = strings.TrimLeft(p, "*")
		if p != "" {
			params = append(params, p)
		}
	}
	for i, r := range raw {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(raw))
	return params
}

// splitLogicalLines 把物理行合并成逻辑行：跟踪括号深度、反斜杠续行
// 和三引号字符串；同时剥离注释与字符串字面量内容。
func splitLogicalLines(source string) ([]logicalLine, error) {
	var out []logicalLine
	var buf strings.Builder
	var startLine, startIndent int

	depth := 0
	inTriple := false
	tripleQuote := ""
	tripleStart := 0
	continued := false

	raw := strings.Split(source, "\n")
	for i, line := range raw {
		lineNo := i + 1

		if inTriple {
			if idx := strings.Index(line, tripleQuote); idx >= 0 {
				inTriple = false
				line = line[idx+3:]
			} else {
				continue
			}
		}

		stripped, stillOpen, quote, err := stripLine(line, lineNo)
		if err != nil {
			return nil, err
		}
		if stillOpen {
			inTriple = true
			tripleQuote = quote
			tripleStart = lineNo
		}

		trimmed := strings.TrimSpace(stripped)
		if !continued && depth == 0 {
			if trimmed == "" {
				continue
			}
			startLine = lineNo
			startIndent = indentOf(line)
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(trimmed)

		for _, r := range stripped {
			switch r {
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				depth--
				if depth < 0 {
					return nil, &ParseError{Line: lineNo, Msg: "括号不匹配"}
				}
			}
		}

		continued = strings.HasSuffix(trimmed, "\\")
		if continued {
			s := buf.String()
			buf.Reset()
			buf.WriteString(strings.TrimSuffix(s, "\\"))
			continue
		}
		if depth > 0 {
			continue
		}
		out = append(out, logicalLine{text: buf.String(), indent: startIndent, line: startLine})
		buf.Reset()
	}

	if inTriple {
		return nil, &ParseError{Line: tripleStart, Msg: "三引号字符串未闭合"}
	}
	if depth > 0 {
		return nil, &ParseError{Line: len(raw), Msg: "括号未闭合"}
	}
	if continued {
		return nil, &ParseError{Line: len(raw), Msg: "续行符后没有内容"}
	}
	return out, nil
}

// stripLine 去掉单行内的注释和字符串内容，字符串被替换为空串，
// 保留引号便于后续正则不被字符串内容干扰。返回是否开启了三引号字符串。
func stripLine(line string, lineNo int) (string, bool, string, error) {
	var b strings.Builder
	i := 0
	for i < len(line) {
		c := line[i]
		if c == '#' {
			break
		}
		if c == '\'' || c == '"' {
			q := string(c)
			if strings.HasPrefix(line[i:], q+q+q) {
				if idx := strings.Index(line[i+3:], q+q+q); idx >= 0 {
					b.WriteString(`""`)
					i += 3 + idx + 3
					continue
				}
				return b.String(), true, q + q + q, nil
			}
			end := -1
			for j := i + 1; j < len(line); j++ {
				if line[j] == '\\' {
					j++
					continue
				}
				if line[j] == c {
					end = j
					break
				}
			}
			if end < 0 {
				return "", false, "", &ParseError{Line: lineNo, Msg: "字符串未闭合"}
			}
			b.WriteString(`""`)
			i = end + 1
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), false, "", nil
}

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}
