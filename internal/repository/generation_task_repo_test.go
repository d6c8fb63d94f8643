package repository

import (
	"testing"

	"github.com/codemage/backend/internal/model"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db error: %v", err)
	}
	if err := db.AutoMigrate(&model.GenerationTask{}); err != nil {
		t.Fatalf("migrate error: %v", err)
	}
	return db
}

func TestGenerationTaskRoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewGenerationTaskRepository(db)

	task := &model.GenerationTask{
		TaskID:               "task-123",
		Description:          "天气查询插件",
		Status:               "awaiting_confirmation",
		Step:                 3,
		AwaitingConfirmation: true,
		Origin:               "qq:group:42",
		Markdown:             "# astrbot_plugin_weather\n\n查询天气",
		ConfigSchema:         `{"api_key": {"type": "string", "default": ""}}`,
	}
	if err := task.SetMetadata(model.Metadata{
		Name:        "astrbot_plugin_weather",
		Author:      "CodeMage",
		Version:     "1.0.0",
		Description: "查询天气",
		Commands:    []model.Command{{Command: "weather", Description: "查询天气"}},
		Extra:       model.MetadataDetails{Dependencies: []string{"aiohttp"}},
	}); err != nil {
		t.Fatalf("SetMetadata error: %v", err)
	}
	if err := repo.Create(task); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	// 模拟进程重启：用新的 repository 实例从库中恢复
	reloadedRepo := NewGenerationTaskRepository(db)
	loaded, err := reloadedRepo.GetActive()
	if err != nil {
		t.Fatalf("GetActive error: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected active task after reload")
	}
	if loaded.TaskID != task.TaskID {
		t.Fatalf("task id mismatch: %s != %s", loaded.TaskID, task.TaskID)
	}
	if loaded.Markdown != task.Markdown || loaded.ConfigSchema != task.ConfigSchema {
		t.Fatal("markdown/config schema not preserved across reload")
	}
	meta := loaded.Metadata()
	if meta.Name != "astrbot_plugin_weather" || len(meta.Commands) != 1 {
		t.Fatalf("metadata not preserved: %+v", meta)
	}
	if !loaded.AwaitingConfirmation {
		t.Fatal("awaiting_confirmation flag lost")
	}
}

func TestGetActiveIgnoresTerminalTasks(t *testing.T) {
	db := newTestDB(t)
	repo := NewGenerationTaskRepository(db)

	for _, status := range []string{"done", "failed", "idle"} {
		if err := repo.Create(&model.GenerationTask{TaskID: "t-" + status, Status: status}); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}

	active, err := repo.GetActive()
	if err != nil {
		t.Fatalf("GetActive error: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active task, got %s", active.TaskID)
	}
}

func TestModificationHistoryOrdering(t *testing.T) {
	db := newTestDB(t)
	repo := NewGenerationTaskRepository(db)

	task := &model.GenerationTask{TaskID: "t-mods", Status: "awaiting_confirmation"}
	task.AppendModification(model.Modification{Target: "config", Feedback: "加一个超时配置"})
	task.AppendModification(model.Modification{Target: "docs", Feedback: "补充使用示例"})
	if err := repo.Create(task); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	loaded, err := repo.GetByTaskID("t-mods")
	if err != nil {
		t.Fatalf("GetByTaskID error: %v", err)
	}
	mods := loaded.Modifications()
	if len(mods) != 2 {
		t.Fatalf("expected 2 modifications, got %d", len(mods))
	}
	if mods[0].Target != "config" || mods[1].Target != "docs" {
		t.Fatalf("modification order not preserved: %+v", mods)
	}
}
