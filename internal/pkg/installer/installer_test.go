package installer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/codemage/backend/internal/model"
)

func testMetadata() model.Metadata {
	return model.Metadata{
		Name:        "astrbot_plugin_demo",
		Author:      "dev",
		Version:     "1.0.0",
		Description: "示例插件",
		Extra: model.MetadataDetails{
			RepoURL:      "https://example.com/repo",
			Dependencies: []string{"aiohttp"},
		},
	}
}

func TestWritePluginFiles(t *testing.T) {
	pluginsDir := t.TempDir()
	dir, err := WritePluginFiles(pluginsDir, testMetadata(), "print(1)", "# README", `{"key": {"type": "string"}}`)
	if err != nil {
		t.Fatalf("WritePluginFiles: %v", err)
	}

	for _, name := range []string{"main.py", "metadata.yaml", "README.md", "requirements.txt", "_conf_schema.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("缺少文件 %s: %v", name, err)
		}
	}

	manifest, err := os.ReadFile(filepath.Join(dir, "metadata.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"name: astrbot_plugin_demo", "desc: 示例插件", "version: 1.0.0", "author: dev"} {
		if !strings.Contains(string(manifest), want) {
			t.Errorf("metadata.yaml 缺少 %q:\n%s", want, manifest)
		}
	}

	if !PluginExists(pluginsDir, "astrbot_plugin_demo") {
		t.Error("PluginExists 应返回 true")
	}
	if err := RemovePlugin(pluginsDir, "astrbot_plugin_demo"); err != nil {
		t.Fatal(err)
	}
	if PluginExists(pluginsDir, "astrbot_plugin_demo") {
		t.Error("删除后 PluginExists 应返回 false")
	}
}

func TestWritePluginFilesSkipsEmptySchema(t *testing.T) {
	pluginsDir := t.TempDir()
	meta := testMetadata()
	meta.Extra.Dependencies = nil
	dir, err := WritePluginFiles(pluginsDir, meta, "print(1)", "# README", "{}")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "_conf_schema.json")); !os.IsNotExist(err) {
		t.Error("空配置不应写入 _conf_schema.json")
	}
	if _, err := os.Stat(filepath.Join(dir, "requirements.txt")); !os.IsNotExist(err) {
		t.Error("无依赖不应写入 requirements.txt")
	}
}

func TestPackageDirectoryKeepsTopLevelDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("print(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "assets"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "assets", "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	zipPath, err := PackageDirectory(dir, "astrbot_plugin_demo")
	if err != nil {
		t.Fatalf("PackageDirectory: %v", err)
	}
	defer os.Remove(zipPath)

	entries, err := ArchiveEntries(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	if got := topLevelName(entries); got != "astrbot_plugin_demo" {
		t.Errorf("zip 顶层目录应为插件名，实际 %q (entries=%v)", got, entries)
	}
	found := false
	for _, e := range entries {
		if e == "astrbot_plugin_demo/main.py" {
			found = true
		}
	}
	if !found {
		t.Errorf("zip 中缺少 main.py: %v", entries)
	}
}

func newTestServer(t *testing.T, logs []map[string]any) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "astrbot" || body["password"] != "md5pass" {
			json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "认证失败"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"data":   map[string]string{"token": "tok123"},
		})
	})
	mux.HandleFunc("/api/plugin/install-upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok123" {
			json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "未登录"})
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "缺少文件"})
			return
		}
		file.Close()
		if !strings.HasSuffix(header.Filename, ".zip") {
			json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "文件名不是zip"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"message": "安装成功",
			"data":    map[string]string{"name": "astrbot_plugin_demo", "repo": "local"},
		})
	})
	mux.HandleFunc("/api/log-history", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"data":   map[string]any{"logs": logs},
		})
	})
	mux.HandleFunc("/api/plugin/uninstall", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "astrbot", "md5pass")
	c.HealthCheckDelay = 0
	return srv, c
}

func TestClientLoginAndInstall(t *testing.T) {
	_, c := newTestServer(t, nil)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("print(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	zipPath, err := PackageDirectory(dir, "astrbot_plugin_demo")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(zipPath)

	result, err := c.InstallArchive(context.Background(), zipPath, "astrbot_plugin_demo")
	if err != nil {
		t.Fatalf("InstallArchive: %v", err)
	}
	if result.PluginName != "astrbot_plugin_demo" {
		t.Errorf("插件名不符: %q", result.PluginName)
	}

	if err := c.Uninstall(context.Background(), "astrbot_plugin_demo"); err != nil {
		t.Errorf("Uninstall: %v", err)
	}
}

func TestClientLoginFailure(t *testing.T) {
	_, c := newTestServer(t, nil)
	c.PasswordMD5 = "wrong"
	if err := c.Login(context.Background()); err == nil {
		t.Fatal("期望登录失败")
	}
}

func TestCheckInstallHealth(t *testing.T) {
	logs := []map[string]any{
		{"level": "INFO", "data": map[string]any{"message": "loaded astrbot_plugin_demo", "module": "star_manager"}},
		{"level": "ERROR", "data": map[string]any{"message": "astrbot_plugin_demo 加载失败: ImportError", "module": "plugin"}},
		{"level": "WARN", "data": map[string]any{"message": "astrbot_plugin_demo deprecation warning", "module": "plugin"}},
		{"level": "ERROR", "data": map[string]any{"message": "unrelated subsystem error", "module": "db"}},
		{"level": "INFO", "data": "astrbot_plugin_demo 安装失败"},
	}
	_, c := newTestServer(t, logs)

	report, err := c.CheckInstallHealth(context.Background(), "astrbot_plugin_demo")
	if err != nil {
		t.Fatalf("CheckInstallHealth: %v", err)
	}
	if !report.HasErrors {
		t.Error("应检测到错误日志")
	}
	if len(report.ErrorLogs) != 2 {
		t.Errorf("期望 2 条错误日志，实际 %v", report.ErrorLogs)
	}
	if !report.HasWarnings || len(report.WarningLogs) != 1 {
		t.Errorf("期望 1 条警告日志，实际 %v", report.WarningLogs)
	}
}

func TestCheckInstallHealthClean(t *testing.T) {
	logs := []map[string]any{
		{"level": "INFO", "data": map[string]any{"message": "loaded astrbot_plugin_demo", "module": "star_manager"}},
	}
	_, c := newTestServer(t, logs)
	report, err := c.CheckInstallHealth(context.Background(), "astrbot_plugin_demo")
	if err != nil {
		t.Fatal(err)
	}
	if report.HasErrors || report.HasWarnings {
		t.Errorf("干净日志不应有错误或警告: %+v", report)
	}
}
