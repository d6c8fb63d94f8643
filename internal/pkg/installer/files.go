package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/codemage/backend/internal/model"
)

// metadata.yaml 采用 AstrBot 插件市场的字段约定。
type pluginManifest struct {
	Name    string `yaml:"name"`
	Desc    string `yaml:"desc"`
	Version string `yaml:"version"`
	Author  string `yaml:"author"`
	Repo    string `yaml:"repo,omitempty"`
}

// WritePluginFiles 把生成的产物落盘为标准插件目录结构，返回插件目录路径。
// 目录已存在时会先清空，保证重装干净。
func WritePluginFiles(pluginsDir string, meta model.Metadata, code, markdown, configSchema string) (string, error) {
	dir := filepath.Join(pluginsDir, meta.Name)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("清理旧插件目录失败: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("创建插件目录失败: %w", err)
	}

	manifest, err := yaml.Marshal(pluginManifest{
		Name:    meta.Name,
		Desc:    meta.Description,
		Version: meta.Version,
		Author:  meta.Author,
		Repo:    meta.Extra.RepoURL,
	})
	if err != nil {
		return "", err
	}

	files := map[string]string{
		"main.py":       code,
		"metadata.yaml": string(manifest),
		"README.md":     markdown,
	}
	if len(meta.Extra.Dependencies) > 0 {
		files["requirements.txt"] = strings.Join(meta.Extra.Dependencies, "\n") + "\n"
	}
	if hasSchemaContent(configSchema) {
		files["_conf_schema.json"] = configSchema
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("写入 %s 失败: %w", name, err)
		}
	}
	klog.V(6).Infof("插件文件已写入: %s", dir)
	return dir, nil
}

// PluginExists 检查插件目录下是否已有同名插件。
func PluginExists(pluginsDir, name string) bool {
	info, err := os.Stat(filepath.Join(pluginsDir, name))
	return err == nil && info.IsDir()
}

// RemovePlugin 删除插件目录。
func RemovePlugin(pluginsDir, name string) error {
	if name == "" {
		return fmt.Errorf("插件名为空，拒绝删除")
	}
	return os.RemoveAll(filepath.Join(pluginsDir, name))
}

// 空对象或空白的配置不值得落盘。
func hasSchemaContent(schema string) bool {
	s := strings.TrimSpace(schema)
	return s != "" && s != "{}" && s != "null"
}
