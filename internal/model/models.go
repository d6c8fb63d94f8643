package model

import (
	"encoding/json"
	"time"
)

// GenerationTask 插件生成任务模型
// 持久化待确认任务的可序列化字段，event/通知通道等活对象不入库
type GenerationTask struct {
	ID                   uint       `json:"id" gorm:"primaryKey"`
	TaskID               string     `json:"task_id" gorm:"size:64;uniqueIndex"` // UUID
	Description          string     `json:"description" gorm:"type:text"`
	Name                 string     `json:"name" gorm:"size:255;index"` // 规范化后的插件名（astrbot_plugin_ 前缀）
	MetadataJSON         string     `json:"metadata_json" gorm:"type:text"`
	Markdown             string     `json:"markdown" gorm:"type:text"`
	ConfigSchema         string     `json:"config_schema" gorm:"type:text"`
	Step                 int        `json:"step" gorm:"default:0"`                   // 1..6
	Status               string     `json:"status" gorm:"size:50;default:idle"`      // 见 statemachine
	AwaitingConfirmation bool       `json:"awaiting_confirmation" gorm:"default:false"`
	Origin               string     `json:"origin" gorm:"size:255"` // 发起方标识（unified_msg_origin）
	ErrorMsg             string     `json:"error_msg" gorm:"size:2000"`
	ModHistory           string     `json:"mod_history" gorm:"type:text"` // JSON 数组
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	CompletedAt          *time.Time `json:"completed_at"`
}

// Modification 一次用户修改记录
type Modification struct {
	Target   string    `json:"target"` // config, docs, metadata, all
	Feedback string    `json:"feedback"`
	At       time.Time `json:"at"`
}

// Metadata LLM 生成的插件元数据结构
type Metadata struct {
	Name        string          `json:"name"`
	Author      string          `json:"author"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Tags        []string        `json:"tags,omitempty"`
	Commands    []Command       `json:"commands"`
	Extra       MetadataDetails `json:"metadata"`
}

type Command struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

type MetadataDetails struct {
	RepoURL      string   `json:"repo_url,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Metadata 解析任务中保存的元数据 JSON，内容为空或非法时返回零值
func (t *GenerationTask) Metadata() Metadata {
	var meta Metadata
	if t.MetadataJSON != "" {
		json.Unmarshal([]byte(t.MetadataJSON), &meta)
	}
	return meta
}

// SetMetadata 序列化并保存元数据
func (t *GenerationTask) SetMetadata(meta Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	t.MetadataJSON = string(data)
	t.Name = meta.Name
	return nil
}

// Modifications 解析修改历史
func (t *GenerationTask) Modifications() []Modification {
	var mods []Modification
	if t.ModHistory != "" {
		json.Unmarshal([]byte(t.ModHistory), &mods)
	}
	return mods
}

// AppendModification 追加一条修改记录
func (t *GenerationTask) AppendModification(mod Modification) {
	mods := append(t.Modifications(), mod)
	data, err := json.Marshal(mods)
	if err != nil {
		return
	}
	t.ModHistory = string(data)
}

// Pipeline step definitions
var PipelineSteps = []struct {
	Step        int
	Description string
}{
	{1, "生成插件元数据"},
	{2, "生成插件文档"},
	{3, "生成配置文件"},
	{4, "生成插件代码"},
	{5, "代码审查与修复"},
	{6, "打包并安装插件"},
}

const TotalSteps = 6

// StepDescription 返回步骤描述，越界时返回空串
func StepDescription(step int) string {
	for _, s := range PipelineSteps {
		if s.Step == step {
			return s.Description
		}
	}
	return ""
}
