package codegen

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n(.*?)```")
	nameCleanRe   = regexp.MustCompile(`[^a-z0-9_]+`)
	underscoreRe  = regexp.MustCompile(`_{2,}`)
)

// ExtractCodeBlocks 提取响应中所有围栏代码块的内容，按出现顺序返回。
func ExtractCodeBlocks(s string) []string {
	var blocks []string
	for _, m := range fencedBlockRe.FindAllStringSubmatch(s, -1) {
		block := strings.TrimRight(m[1], "\n\r")
		if strings.TrimSpace(block) != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// ExtractJSONObject 从 LLM 响应中提取一段 JSON 文本：
// 依次尝试整体解析、围栏代码块、首尾花括号截取。
func ExtractJSONObject(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return trimmed, true
	}
	for _, block := range ExtractCodeBlocks(s) {
		candidate := strings.TrimSpace(block)
		if json.Valid([]byte(candidate)) && strings.HasPrefix(candidate, "{") {
			return candidate, true
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		candidate := s[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	return "", false
}

// SanitizePluginName 把元数据中的插件名收敛为 astrbot_plugin_xxx 形式。
func SanitizePluginName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	name = nameCleanRe.ReplaceAllString(name, "_")
	name = underscoreRe.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if strings.HasPrefix(name, "astrbot_plugin") {
		name = strings.Trim(strings.TrimPrefix(name, "astrbot_plugin"), "_")
	}
	if name == "" {
		name = "generated"
	}
	return "astrbot_plugin_" + name
}

// PrettyJSON 规范化 JSON 文本为两空格缩进，非法输入原样返回。
func PrettyJSON(s string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(strings.TrimSpace(s)), "", "  "); err != nil {
		return s
	}
	return buf.String()
}
