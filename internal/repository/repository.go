package repository

import (
	"time"

	"github.com/codemage/backend/internal/model"
)

// GenerationTaskRepository 生成任务数据访问接口
type GenerationTaskRepository interface {
	Create(task *model.GenerationTask) error
	Get(id uint) (*model.GenerationTask, error)
	GetByTaskID(taskID string) (*model.GenerationTask, error)
	GetActive() (*model.GenerationTask, error)
	Save(task *model.GenerationTask) error
	Delete(id uint) error
	CleanupStuckTasks(timeout time.Duration) (int64, error)
}
