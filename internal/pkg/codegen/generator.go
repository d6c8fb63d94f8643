package codegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/codemage/backend/internal/model"
)

// Provider 抽象底层 LLM 调用，由 llm.Client 实现。
type Provider interface {
	Generate(ctx context.Context, prompt, systemPrompt string, expectJSON bool) (string, error)
}

// ReviewResult 是 LLM 代码审查的结构化结论。
type ReviewResult struct {
	Approved          bool     `json:"approved"`
	SatisfactionScore int      `json:"satisfaction_score"`
	Reason            string   `json:"reason"`
	Issues            []string `json:"issues"`
	Suggestions       []string `json:"suggestions"`
}

// Generator 负责插件各产物的 LLM 生成与修改。
type Generator struct {
	provider       Provider
	negativePrompt string
}

func NewGenerator(provider Provider, negativePrompt string) *Generator {
	return &Generator{provider: provider, negativePrompt: negativePrompt}
}

func metadataJSON(meta model.Metadata) string {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// GenerateMetadata 根据用户描述生成插件元数据，插件名会被规范化。
func (g *Generator) GenerateMetadata(ctx context.Context, description string) (*model.Metadata, error) {
	systemPrompt := fmt.Sprintf(`你是一个专业的AstrBot插件规划助手。请根据用户描述生成插件的元数据信息，不要生成Markdown文档。

请严格遵守以下要求：
1. 输出必须是JSON，并放在`+"```json和```"+`之间
2. JSON需要包含以下字段：
   - name: string，插件名称，格式为 astrbot_plugin_xxx
   - author: string
   - description: string
   - version: string，格式为 "1.0.0"
   - tags: string数组，可选
   - commands: 数组，每个元素包含 command(指令名) 和 description(说明)
   - metadata: 对象，其中包含：
       - repo_url: string
       - dependencies: 字符串数组（可为空数组）
3. 严格遵守反向提示词要求：%s`, g.negativePrompt)

	prompt := fmt.Sprintf("根据以下描述生成AstrBot插件的元数据：\n\n%s", description)

	response, err := g.provider.Generate(ctx, prompt, systemPrompt, true)
	if err != nil {
		return nil, err
	}
	meta, err := parseMetadata(response)
	if err != nil {
		return nil, fmt.Errorf("无法解析LLM返回的插件元数据: %w", err)
	}
	meta.Name = SanitizePluginName(meta.Name)
	return meta, nil
}

// GenerateMarkdown 根据元数据和原始描述生成插件文档。
func (g *Generator) GenerateMarkdown(ctx context.Context, meta model.Metadata, description string) (string, error) {
	systemPrompt := fmt.Sprintf(`你是一个专业的AstrBot插件技术作家。请根据插件元数据生成详细的Markdown文档。

请严格遵守以下要求：
1. 输出必须放在`+"```markdown和```"+`之间
2. 文档需要包含以下章节：
   - 插件简介
   - 功能说明
   - 插件流程（必须详细说明插件的工作流程和内部逻辑）
   - 使用方法（必须详细说明如何使用插件的各种功能）
   - 配置说明（如果有配置项）
   - 注意事项
3. 文档内容必须与元数据描述一致，并符合反向提示词要求：%s`, g.negativePrompt)

	prompt := fmt.Sprintf("根据以下插件信息生成Markdown文档：\n\n元数据：\n%s\n\n用户描述：\n%s", metadataJSON(meta), description)

	response, err := g.provider.Generate(ctx, prompt, systemPrompt, false)
	if err != nil {
		return "", err
	}
	if blocks := ExtractCodeBlocks(response); len(blocks) > 0 {
		return blocks[0], nil
	}
	return "", errors.New("无法从LLM响应中提取插件Markdown文档")
}

// GenerateConfigSchema 生成 _conf_schema.json 内容，返回规范化后的 JSON 文本。
// 插件不需要配置时返回空对象。
func (g *Generator) GenerateConfigSchema(ctx context.Context, meta model.Metadata, description string) (string, error) {
	systemPrompt := fmt.Sprintf(`你是一个专业的AstrBot插件配置设计助手。请根据插件元数据和功能描述生成插件的配置文件(_conf_schema.json)。

请严格遵守以下要求：
1. 输出必须是JSON格式，并放在`+"```json和```"+`之间
2. 配置文件需要包含插件可能需要的配置项
3. 根据插件功能智能推断合适的配置项类型和默认值
4. 配置项应该包含description、type、hint、default等字段
5. 配置项类型要准确（string、int、float、bool、object、list）
6. 对于需要大量文本的配置项，可以启用editor_mode
7. 插件不需要任何配置时返回空对象 {}
8. 严格遵守反向提示词要求：%s`, g.negativePrompt)

	prompt := fmt.Sprintf("请为以下插件生成配置文件：\n\n插件元数据：\n%s\n\n功能描述：\n%s", metadataJSON(meta), description)

	response, err := g.provider.Generate(ctx, prompt, systemPrompt, true)
	if err != nil {
		return "", err
	}
	if obj, ok := ExtractJSONObject(response); ok {
		return PrettyJSON(obj), nil
	}
	return "", errors.New("无法生成有效的插件配置文件")
}

// GenerateCode 根据元数据、文档和配置生成完整的 main.py。
func (g *Generator) GenerateCode(ctx context.Context, meta model.Metadata, markdown, configSchema string) (string, error) {
	systemPrompt := fmt.Sprintf(`你是一个专业的AstrBot插件开发助手。请根据插件元数据和Markdown文档生成完整的插件代码。

要求：
1. 生成完整的main.py文件
2. 代码要符合AstrBot插件开发规范：主类继承 Star；日志必须 from astrbot.api import logger；事件监听器使用 @filter 装饰器并从 astrbot.api.event 导入 filter
3. 包含必要的错误处理
4. 代码要有良好的注释
5. 确保生成的内容符合反向提示词要求：%s
6. 如果有配置文件，必须在插件的__init__方法中正确接收和使用config参数
7. 配置项的使用示例：self.config.get("配置项名", "默认值")

配置文件内容（如果有）：
`+"```json\n%s\n```"+`

请直接返回Python代码，包含在`+"```python和```"+`之间。`, g.negativePrompt, configSchema)

	prompt := fmt.Sprintf("请根据以下插件元数据和Markdown文档生成插件代码：\n\n元数据：\n%s\n\n文档：\n%s", metadataJSON(meta), markdown)

	response, err := g.provider.Generate(ctx, prompt, systemPrompt, false)
	if err != nil {
		return "", err
	}
	if blocks := ExtractCodeBlocks(response); len(blocks) > 0 {
		return blocks[0], nil
	}
	return "", errors.New("无法从LLM响应中提取插件代码")
}

// FixCode 根据审查问题修复插件代码。
// 每次提取失败都会在提示词中追加更明确的围栏要求再试，最多 maxAttempts 次。
func (g *Generator) FixCode(ctx context.Context, code string, issues, suggestions []string, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	systemPrompt := fmt.Sprintf(`你是一个专业的AstrBot插件开发助手。请根据审查结果修复插件代码中的问题。

要求：
1. 修复所有列出的问题
2. 采纳合理的建议
3. 保持原有功能不变
4. 确保修复后的代码符合反向提示词要求：%s

请直接返回修复后的Python代码，包含在`+"```python和```"+`之间。`, g.negativePrompt)

	prompt := fmt.Sprintf("请修复以下插件代码中的问题：\n\n代码：\n%s\n\n问题：\n%s\n\n建议：\n%s",
		code, bulletList(issues), bulletList(suggestions))

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		response, err := g.provider.Generate(ctx, prompt, systemPrompt, false)
		if err != nil {
			lastErr = err
			klog.Errorf("修复插件代码失败（尝试 %d/%d）: %v", attempt, maxAttempts, err)
			if attempt == maxAttempts {
				return "", err
			}
			continue
		}
		if blocks := ExtractCodeBlocks(response); len(blocks) > 0 {
			return blocks[0], nil
		}
		if attempt < maxAttempts {
			prompt += "\n\n重要：请确保返回的代码包含在```python和```之间，不要包含其他内容。"
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("经过%d次重试，仍无法从LLM响应中提取修复后的插件代码", maxAttempts)
}

// ReviewCode 让 LLM 对插件代码做一次语义审查，返回结构化结论。
func (g *Generator) ReviewCode(ctx context.Context, code string, meta model.Metadata, markdown string) (*ReviewResult, error) {
	systemPrompt := fmt.Sprintf(`你是一位资深的 Python 代码审查专家，专注于代码质量、安全性和异步最佳实践。

核心审查要求：
1. Python 版本严格限定为 3.10，代码运行在异步环境中
2. 日志记录器 logger 必须且只能从 astrbot.api 导入，严禁使用 loguru 或内置 logging 模块
3. 文件中必须存在一个继承自 Star 的类
4. 所有 @filter 装饰器必须配合 from astrbot.api.event import filter
5. on_llm_request / on_llm_response 钩子必须是 async def 且接收三个参数
6. @filter.permission_type 不能用于 @filter.llm_tool 装饰的方法
7. 除 on_astrbot_loaded 外，@filter 装饰的监听器签名必须包含 event 参数
8. on_llm_request、on_llm_response、on_decorating_result、after_message_sent 内禁止使用 yield 发送消息
9. 严格检查是否违反反向提示词要求：%s

请严格按照以下JSON格式返回审查结果：
`+"```json"+`
{
  "approved": true,
  "satisfaction_score": 0,
  "reason": "审查理由",
  "issues": ["问题1"],
  "suggestions": ["建议1"]
}
`+"```"+`

满意度评分标准：90-100 优秀；80-89 良好；70-79 一般；60-69 较差；0-59 不合格。
发现任何无法运行的问题时必须将 approved 设置为 false。`, g.negativePrompt)

	prompt := fmt.Sprintf("请审查以下插件代码：\n\n代码：\n%s\n\n元数据：\n%s\n\n文档：\n%s", code, metadataJSON(meta), markdown)

	response, err := g.provider.Generate(ctx, prompt, systemPrompt, true)
	if err != nil {
		return nil, err
	}
	obj, ok := ExtractJSONObject(response)
	if !ok {
		return nil, errors.New("无法解析LLM返回的代码审查结果")
	}
	var result ReviewResult
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		return nil, fmt.Errorf("无法解析LLM返回的代码审查结果: %w", err)
	}
	return &result, nil
}

// OptimizeMetadata 根据用户反馈重新生成元数据。
func (g *Generator) OptimizeMetadata(ctx context.Context, meta model.Metadata, feedback string) (*model.Metadata, error) {
	systemPrompt := fmt.Sprintf(`你是一个专业的AstrBot插件开发助手。请根据用户反馈优化插件的元数据。

请严格遵守以下要求：
1. 根据用户反馈进行针对性修改
2. 保持元数据结构完整，字段与原格式一致
3. 插件名称格式为 astrbot_plugin_xxx
4. 输出必须是JSON，并放在`+"```json和```"+`之间
5. 严格遵守反向提示词要求：%s`, g.negativePrompt)

	prompt := fmt.Sprintf("请根据用户反馈优化以下插件元数据：\n\n当前元数据：\n%s\n\n用户反馈：\n%s", metadataJSON(meta), feedback)

	response, err := g.provider.Generate(ctx, prompt, systemPrompt, true)
	if err != nil {
		return nil, err
	}
	out, err := parseMetadata(response)
	if err != nil {
		return nil, fmt.Errorf("无法解析优化后的插件元数据: %w", err)
	}
	out.Name = SanitizePluginName(out.Name)
	return out, nil
}

// ModifyMarkdown 根据用户反馈修改文档。
func (g *Generator) ModifyMarkdown(ctx context.Context, current string, meta model.Metadata, feedback string) (string, error) {
	systemPrompt := fmt.Sprintf(`你是一个专业的AstrBot插件文档修改助手。请根据用户反馈修改插件的Markdown文档。

请严格遵守以下要求：
1. 根据用户反馈进行针对性修改
2. 保持Markdown格式正确
3. 确保文档内容与元数据描述一致
4. 严格遵守反向提示词要求：%s

请直接返回修改后的Markdown文档内容，包含在`+"```markdown和```"+`之间。`, g.negativePrompt)

	prompt := fmt.Sprintf("请根据用户反馈修改以下插件Markdown文档：\n\n当前文档：\n%s\n\n插件元数据：\n%s\n\n用户反馈：\n%s", current, metadataJSON(meta), feedback)

	response, err := g.provider.Generate(ctx, prompt, systemPrompt, false)
	if err != nil {
		return "", err
	}
	if blocks := ExtractCodeBlocks(response); len(blocks) > 0 {
		return blocks[0], nil
	}
	return "", errors.New("无法修改插件Markdown文档")
}

// ModifyConfigSchema 根据用户反馈修改配置文件。
func (g *Generator) ModifyConfigSchema(ctx context.Context, current string, meta model.Metadata, feedback string) (string, error) {
	systemPrompt := fmt.Sprintf(`你是一个专业的AstrBot插件配置修改助手。请根据用户反馈修改插件的配置文件。

请严格遵守以下要求：
1. 根据用户反馈进行针对性修改
2. 保持JSON格式正确
3. 确保配置项设计合理，符合AstrBot配置规范
4. 严格遵守反向提示词要求：%s

请直接返回修改后的JSON配置文件内容，包含在`+"```json和```"+`之间。`, g.negativePrompt)

	prompt := fmt.Sprintf("请根据用户反馈修改以下插件配置文件：\n\n当前配置：\n%s\n\n插件元数据：\n%s\n\n用户反馈：\n%s", current, metadataJSON(meta), feedback)

	response, err := g.provider.Generate(ctx, prompt, systemPrompt, true)
	if err != nil {
		return "", err
	}
	if obj, ok := ExtractJSONObject(response); ok {
		return PrettyJSON(obj), nil
	}
	return "", errors.New("无法修改插件配置文件")
}

// ModifyMetadata 根据用户反馈修改元数据。
func (g *Generator) ModifyMetadata(ctx context.Context, meta model.Metadata, feedback string) (*model.Metadata, error) {
	systemPrompt := fmt.Sprintf(`你是一个专业的AstrBot插件元数据修改助手。请根据用户反馈修改插件的元数据。

请严格遵守以下要求：
1. 根据用户反馈进行针对性修改
2. 保持JSON格式正确
3. 确保元数据包含必要字段：name、author、description、version、metadata
4. 插件名称格式为 astrbot_plugin_xxx
5. 输出必须放在`+"```json和```"+`之间
6. 严格遵守反向提示词要求：%s`, g.negativePrompt)

	prompt := fmt.Sprintf("请根据用户反馈修改以下插件元数据：\n\n当前元数据：\n%s\n\n用户反馈：\n%s", metadataJSON(meta), feedback)

	response, err := g.provider.Generate(ctx, prompt, systemPrompt, true)
	if err != nil {
		return nil, err
	}
	out, err := parseMetadata(response)
	if err != nil {
		return nil, fmt.Errorf("无法修改插件元数据: %w", err)
	}
	out.Name = SanitizePluginName(out.Name)
	return out, nil
}

func parseMetadata(response string) (*model.Metadata, error) {
	obj, ok := ExtractJSONObject(response)
	if !ok {
		return nil, errors.New("响应中没有合法的JSON对象")
	}
	var meta model.Metadata
	if err := json.Unmarshal([]byte(obj), &meta); err != nil {
		return nil, err
	}
	if strings.TrimSpace(meta.Name) == "" && strings.TrimSpace(meta.Description) == "" {
		return nil, errors.New("元数据缺少 name 和 description 字段")
	}
	return &meta, nil
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
