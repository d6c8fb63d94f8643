package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	LLM        LLMConfig        `yaml:"llm"`
	Data       DataConfig       `yaml:"data"`
	Generation GenerationConfig `yaml:"generation"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite, mysql
	DSN  string `yaml:"dsn"`
}

type LLMConfig struct {
	APIURL    string `yaml:"api_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type DataConfig struct {
	Dir        string `yaml:"dir"`
	PluginsDir string `yaml:"plugins_dir"`
}

// GenerationConfig 插件生成流程相关配置
type GenerationConfig struct {
	AutoApprove           bool     `yaml:"auto_approve"`
	SatisfactionThreshold int      `yaml:"satisfaction_threshold"`
	MaxRetries            int      `yaml:"max_retries"` // -1 表示无限重试
	StrictReview          bool     `yaml:"strict_review"`
	InstallMethod         string   `yaml:"install_method"` // api, file, auto
	AuditProfile          string   `yaml:"audit_profile"`  // off, basic, strict, tailored
	ToolTimeoutSeconds    int      `yaml:"tool_timeout_seconds"`
	AllowDependencies     bool     `yaml:"allow_dependencies"`
	BannedDependencies    []string `yaml:"banned_dependencies"`
	AstrBotURL            string   `yaml:"astrbot_url"`
	APIUsername           string   `yaml:"api_username"`
	APIPasswordMD5        string   `yaml:"api_password_md5"`
	NegativePrompt        string   `yaml:"negative_prompt"`
}

var (
	cfg  *Config
	once sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		cfg = loadConfig()
	})
	return cfg
}

func loadConfig() *Config {
	config := &Config{
		Server: ServerConfig{
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			DSN:  "./data/app.db",
		},
		LLM: LLMConfig{
			APIURL:    "https://api.openai.com/v1",
			Model:     "gpt-4o",
			MaxTokens: 4096,
		},
		Data: DataConfig{
			Dir:        "./data",
			PluginsDir: "./data/plugins",
		},
		Generation: GenerationConfig{
			AutoApprove:           false,
			SatisfactionThreshold: 80,
			MaxRetries:            3,
			StrictReview:          true,
			InstallMethod:         "auto",
			AuditProfile:          "tailored",
			ToolTimeoutSeconds:    30,
			AllowDependencies:     true,
			BannedDependencies:    []string{"requests", "loguru"},
			AstrBotURL:            "http://localhost:6185",
			APIUsername:           "astrbot",
		},
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err == nil {
		yaml.Unmarshal(data, config)
	}

	// 环境变量优先级高于配置文件
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.LLM.APIURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL_NAME"); model != "" {
		config.LLM.Model = model
	}

	// 数据库环境变量
	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if dbDSN := os.Getenv("DB_DSN"); dbDSN != "" {
		config.Database.DSN = dbDSN
	}

	// 数据目录环境变量
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		config.Data.Dir = dataDir
	}
	if pluginsDir := os.Getenv("PLUGINS_DIR"); pluginsDir != "" {
		config.Data.PluginsDir = pluginsDir
	}
	if config.Data.PluginsDir == "" {
		config.Data.PluginsDir = filepath.Join(config.Data.Dir, "plugins")
	}

	// AstrBot API 环境变量
	if url := os.Getenv("ASTRBOT_URL"); url != "" {
		config.Generation.AstrBotURL = url
	}
	if pwd := os.Getenv("ASTRBOT_API_PASSWORD_MD5"); pwd != "" {
		config.Generation.APIPasswordMD5 = pwd
	}
	if retries := os.Getenv("GENERATION_MAX_RETRIES"); retries != "" {
		if v, err := strconv.Atoi(retries); err == nil {
			config.Generation.MaxRetries = v
		}
	}

	return config
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func UpdateConfig(newCfg *Config) {
	cfg = newCfg
}
