package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codemage/backend/config"
	"github.com/codemage/backend/internal/eventbus"
	"github.com/codemage/backend/internal/model"
	"github.com/codemage/backend/internal/service"
)

type mockTaskRepo struct {
	GetActiveFunc   func() (*model.GenerationTask, error)
	GetByTaskIDFunc func(taskID string) (*model.GenerationTask, error)
	CreateFunc      func(task *model.GenerationTask) error
}

func (m *mockTaskRepo) Create(task *model.GenerationTask) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(task)
	}
	return nil
}

func (m *mockTaskRepo) Get(id uint) (*model.GenerationTask, error) {
	return nil, nil
}

func (m *mockTaskRepo) GetByTaskID(taskID string) (*model.GenerationTask, error) {
	if m.GetByTaskIDFunc != nil {
		return m.GetByTaskIDFunc(taskID)
	}
	return nil, nil
}

func (m *mockTaskRepo) GetActive() (*model.GenerationTask, error) {
	if m.GetActiveFunc != nil {
		return m.GetActiveFunc()
	}
	return nil, nil
}

func (m *mockTaskRepo) Save(task *model.GenerationTask) error {
	return nil
}

func (m *mockTaskRepo) Delete(id uint) error {
	return nil
}

func (m *mockTaskRepo) CleanupStuckTasks(timeout time.Duration) (int64, error) {
	return 0, nil
}

// noopRunner 接收任务但不执行，避免在 handler 测试里跑完整流水线
type noopRunner struct{}

func (noopRunner) Submit(taskID string, fn func(ctx context.Context)) error {
	return nil
}

func newHandlerRouter(repo *mockTaskRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := service.NewGenerationService(&config.Config{}, repo, nil, nil, nil, noopRunner{}, eventbus.NewBus())
	h := NewGenerationHandler(svc)

	r := gin.New()
	r.POST("/api/generations", h.Start)
	r.GET("/api/generations/active", h.Active)
	r.GET("/api/generations/status", h.Status)
	r.POST("/api/generations/active/approve", h.Approve)
	r.POST("/api/generations/active/modify", h.Modify)
	return r
}

func TestGenerationHandlerStartAccepted(t *testing.T) {
	r := newHandlerRouter(&mockTaskRepo{})

	body := strings.NewReader(`{"description": "做一个天气查询插件"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/generations", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var task model.GenerationTask
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatalf("unmarshal response error: %v", err)
	}
	if task.TaskID == "" {
		t.Error("expected task_id in response")
	}
}

func TestGenerationHandlerStartMissingDescription(t *testing.T) {
	r := newHandlerRouter(&mockTaskRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestGenerationHandlerStartConflict(t *testing.T) {
	repo := &mockTaskRepo{
		GetActiveFunc: func() (*model.GenerationTask, error) {
			return &model.GenerationTask{TaskID: "busy", Status: "auditing"}, nil
		},
	}
	r := newHandlerRouter(repo)

	body := strings.NewReader(`{"description": "另一个插件"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/generations", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", w.Code)
	}
}

func TestGenerationHandlerActiveNotFound(t *testing.T) {
	r := newHandlerRouter(&mockTaskRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/generations/active", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestGenerationHandlerStatus(t *testing.T) {
	repo := &mockTaskRepo{
		GetActiveFunc: func() (*model.GenerationTask, error) {
			return &model.GenerationTask{TaskID: "t1", Status: "generating_docs", Step: 2}, nil
		},
	}
	r := newHandlerRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/generations/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var info service.StatusInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("unmarshal response error: %v", err)
	}
	if info.Step != 2 || info.TotalSteps != model.TotalSteps {
		t.Errorf("unexpected progress: %+v", info)
	}
}

func TestGenerationHandlerApproveNotAwaiting(t *testing.T) {
	repo := &mockTaskRepo{
		GetActiveFunc: func() (*model.GenerationTask, error) {
			return &model.GenerationTask{TaskID: "t1", Status: "generating_code"}, nil
		},
	}
	r := newHandlerRouter(repo)

	req := httptest.NewRequest(http.MethodPost, "/api/generations/active/approve", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", w.Code)
	}
}

func TestGenerationHandlerModifyWithoutTask(t *testing.T) {
	r := newHandlerRouter(&mockTaskRepo{})

	body := strings.NewReader(`{"target": "config", "feedback": "加个开关"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/generations/active/modify", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestConfigHandlerRedactsSecrets(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.LLM.APIKey = "sk-secret"
	cfg.Generation.APIPasswordMD5 = "deadbeef"
	h := NewConfigHandler(cfg)

	r := gin.New()
	r.GET("/api/config", h.Get)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "sk-secret") || strings.Contains(w.Body.String(), "deadbeef") {
		t.Errorf("secrets leaked in response: %s", w.Body.String())
	}
}
