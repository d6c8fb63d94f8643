package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/codemage/backend/internal/model"
	"gorm.io/gorm"
)

type generationTaskRepository struct {
	db *gorm.DB
}

func NewGenerationTaskRepository(db *gorm.DB) GenerationTaskRepository {
	return &generationTaskRepository{db: db}
}

func (r *generationTaskRepository) Create(task *model.GenerationTask) error {
	return r.db.Create(task).Error
}

func (r *generationTaskRepository) Get(id uint) (*model.GenerationTask, error) {
	var task model.GenerationTask
	err := r.db.First(&task, id).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *generationTaskRepository) GetByTaskID(taskID string) (*model.GenerationTask, error) {
	var task model.GenerationTask
	err := r.db.Where("task_id = ?", taskID).First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// GetActive 返回当前唯一的进行中任务（含等待确认的任务），不存在时返回 nil
func (r *generationTaskRepository) GetActive() (*model.GenerationTask, error) {
	var task model.GenerationTask
	err := r.db.Where("status NOT IN ?", []string{"idle", "done", "failed"}).
		Order("created_at DESC").First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *generationTaskRepository) Save(task *model.GenerationTask) error {
	return r.db.Save(task).Error
}

func (r *generationTaskRepository) Delete(id uint) error {
	return r.db.Delete(&model.GenerationTask{}, id).Error
}

// CleanupStuckTasks 清理卡在生成中状态的任务（进程异常退出后遗留）
// 等待确认的任务不在清理范围内，确认可能跨进程生命周期到达
func (r *generationTaskRepository) CleanupStuckTasks(timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	result := r.db.Model(&model.GenerationTask{}).
		Where("status NOT IN ? AND awaiting_confirmation = ? AND updated_at < ?",
			[]string{"idle", "done", "failed", "awaiting_confirmation"}, false, cutoff).
		Updates(map[string]interface{}{
			"status":    "failed",
			"error_msg": fmt.Sprintf("任务超时（超过 %v），已自动标记为失败", timeout),
		})
	return result.RowsAffected, result.Error
}
