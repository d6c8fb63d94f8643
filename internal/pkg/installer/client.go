package installer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// Client 通过 AstrBot 管理面板 API 完成插件的上传安装与状态检查。
type Client struct {
	BaseURL     string
	Username    string
	PasswordMD5 string
	HTTP        *http.Client

	// 安装后等待插件加载再拉取日志的时间
	HealthCheckDelay time.Duration

	token string
}

// InstallResult 是一次 API 安装的返回信息。
type InstallResult struct {
	PluginName string
	Repo       string
}

// HealthReport 汇总安装后与插件相关的错误和警告日志。
type HealthReport struct {
	HasErrors   bool
	HasWarnings bool
	ErrorLogs   []string
	WarningLogs []string
}

func NewClient(baseURL, username, passwordMD5 string) *Client {
	return &Client{
		BaseURL:          strings.TrimRight(baseURL, "/"),
		Username:         username,
		PasswordMD5:      passwordMD5,
		HTTP:             &http.Client{Timeout: 60 * time.Second},
		HealthCheckDelay: 3 * time.Second,
	}
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Login 登录 AstrBot 并缓存 token。
func (c *Client) Login(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{
		"username": c.Username,
		"password": c.PasswordMD5,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	result, err := c.do(req)
	if err != nil {
		return fmt.Errorf("登录AstrBot失败: %w", err)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(result.Data, &data); err != nil || data.Token == "" {
		return fmt.Errorf("登录响应中没有token: %s", result.Message)
	}
	c.token = data.Token
	klog.V(6).Infof("AstrBot登录成功: %s", c.BaseURL)
	return nil
}

func (c *Client) ensureToken(ctx context.Context) error {
	if c.token != "" {
		return nil
	}
	return c.Login(ctx)
}

// InstallArchive 上传插件 zip 包并触发安装。
func (c *Client) InstallArchive(ctx context.Context, zipPath, pluginName string) (*InstallResult, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	f, err := os.Open(zipPath)
	if err != nil {
		return nil, fmt.Errorf("打开插件包失败: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", pluginName+".zip")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/plugin/install-upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	result, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("插件安装失败: %w", err)
	}
	var data struct {
		Name string `json:"name"`
		Repo string `json:"repo"`
	}
	_ = json.Unmarshal(result.Data, &data)
	if data.Name == "" {
		data.Name = pluginName
	}
	klog.Infof("插件安装成功: %s", data.Name)
	return &InstallResult{PluginName: data.Name, Repo: data.Repo}, nil
}

// Uninstall 卸载指定插件，插件不存在时 AstrBot 返回错误。
func (c *Client) Uninstall(ctx context.Context, pluginName string) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"name": pluginName})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/plugin/uninstall", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("卸载插件 %s 失败: %w", pluginName, err)
	}
	return nil
}

type logEntry struct {
	Level string          `json:"level"`
	Data  json.RawMessage `json:"data"`
}

// CheckInstallHealth 安装后拉取日志历史，筛选与插件相关的错误和警告。
// 每类最多保留 5 条。
func (c *Client) CheckInstallHealth(ctx context.Context, pluginName string) (*HealthReport, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	if c.HealthCheckDelay > 0 {
		select {
		case <-time.After(c.HealthCheckDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/log-history?limit=200", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	result, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("获取日志失败: %w", err)
	}
	var data struct {
		Logs []logEntry `json:"logs"`
	}
	if err := json.Unmarshal(result.Data, &data); err != nil {
		return nil, fmt.Errorf("解析日志历史失败: %w", err)
	}

	report := &HealthReport{}
	lowerName := strings.ToLower(pluginName)
	for _, entry := range data.Logs {
		level, message, module := parseLogEntry(entry)

		related := strings.Contains(strings.ToLower(module), "plugin") ||
			strings.Contains(strings.ToLower(module), "star") ||
			strings.Contains(strings.ToLower(message), lowerName) ||
			strings.Contains(strings.ToLower(module), lowerName)
		if !related {
			continue
		}
		switch {
		case level == "ERROR" || level == "ERRO" ||
			strings.Contains(strings.ToLower(message), "error") || strings.Contains(message, "失败"):
			if len(report.ErrorLogs) < 5 {
				report.ErrorLogs = append(report.ErrorLogs, message)
			}
			report.HasErrors = true
		case level == "WARN" || strings.Contains(strings.ToLower(message), "warn"):
			if len(report.WarningLogs) < 5 {
				report.WarningLogs = append(report.WarningLogs, message)
			}
			report.HasWarnings = true
		}
	}
	return report, nil
}

// 日志条目的 data 字段可能是字符串也可能是结构化对象。
func parseLogEntry(entry logEntry) (level, message, module string) {
	level = strings.ToUpper(entry.Level)
	var text string
	if err := json.Unmarshal(entry.Data, &text); err == nil {
		return level, text, ""
	}
	var obj struct {
		Level   string `json:"level"`
		Message string `json:"message"`
		Module  string `json:"module"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(entry.Data, &obj); err != nil {
		return level, "", ""
	}
	if obj.Level != "" {
		level = strings.ToUpper(obj.Level)
	}
	module = obj.Module
	if module == "" {
		module = obj.Name
	}
	return level, obj.Message, module
}

func (c *Client) do(req *http.Request) (*apiResponse, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var result apiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("响应解析失败 (HTTP %d): %w", resp.StatusCode, err)
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("%s", result.Message)
	}
	return &result, nil
}
