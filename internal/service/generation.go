package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/codemage/backend/config"
	"github.com/codemage/backend/internal/audit"
	"github.com/codemage/backend/internal/eventbus"
	"github.com/codemage/backend/internal/model"
	"github.com/codemage/backend/internal/pkg/codegen"
	"github.com/codemage/backend/internal/pkg/installer"
	"github.com/codemage/backend/internal/repository"
	"github.com/codemage/backend/internal/service/statemachine"
)

var (
	ErrGenerationInProgress    = errors.New("已有插件生成任务在进行中")
	ErrNoActiveTask            = errors.New("当前没有进行中的生成任务")
	ErrNotAwaitingConfirmation = errors.New("当前任务不在等待确认状态")
	ErrPluginExists            = errors.New("同名插件已存在")
)

// PluginGenerator 是生成流程用到的全部 LLM 操作，由 codegen.Generator 实现。
type PluginGenerator interface {
	GenerateMetadata(ctx context.Context, description string) (*model.Metadata, error)
	GenerateMarkdown(ctx context.Context, meta model.Metadata, description string) (string, error)
	GenerateConfigSchema(ctx context.Context, meta model.Metadata, description string) (string, error)
	GenerateCode(ctx context.Context, meta model.Metadata, markdown, configSchema string) (string, error)
	FixCode(ctx context.Context, code string, issues, suggestions []string, maxAttempts int) (string, error)
	ReviewCode(ctx context.Context, code string, meta model.Metadata, markdown string) (*codegen.ReviewResult, error)
	OptimizeMetadata(ctx context.Context, meta model.Metadata, feedback string) (*model.Metadata, error)
	ModifyMarkdown(ctx context.Context, current string, meta model.Metadata, feedback string) (string, error)
	ModifyConfigSchema(ctx context.Context, current string, meta model.Metadata, feedback string) (string, error)
	ModifyMetadata(ctx context.Context, meta model.Metadata, feedback string) (*model.Metadata, error)
}

// CodeAuditor 静态审查入口，由 audit.Auditor 实现。
type CodeAuditor interface {
	Audit(ctx context.Context, code string, dependencies []string) *audit.Report
	Threshold() int
}

// PluginInstaller 是 AstrBot 管理 API 的安装操作，由 installer.Client 实现。
type PluginInstaller interface {
	InstallArchive(ctx context.Context, zipPath, pluginName string) (*installer.InstallResult, error)
	CheckInstallHealth(ctx context.Context, pluginName string) (*installer.HealthReport, error)
	Uninstall(ctx context.Context, pluginName string) error
}

// BackgroundRunner 把生成流程放到后台执行。
type BackgroundRunner interface {
	Submit(taskID string, fn func(ctx context.Context)) error
}

// GenerationService 驱动插件生成的完整生命周期：
// 预览（元数据、文档、配置）、用户确认、代码生成、审查修复循环、安装。
// 同一时刻全局只允许一个进行中的任务。
type GenerationService struct {
	cfg        *config.Config
	repo       repository.GenerationTaskRepository
	gen        PluginGenerator
	auditor    CodeAuditor
	installer  PluginInstaller
	runner     BackgroundRunner
	sm         *statemachine.GenerationStateMachine
	bus        *eventbus.Bus
	pluginsDir string

	mu        sync.Mutex
	notifiers map[string]Notifier
}

func NewGenerationService(
	cfg *config.Config,
	repo repository.GenerationTaskRepository,
	gen PluginGenerator,
	auditor CodeAuditor,
	inst PluginInstaller,
	run BackgroundRunner,
	bus *eventbus.Bus,
) *GenerationService {
	return &GenerationService{
		cfg:        cfg,
		repo:       repo,
		gen:        gen,
		auditor:    auditor,
		installer:  inst,
		runner:     run,
		sm:         statemachine.NewGenerationStateMachine(),
		bus:        bus,
		pluginsDir: cfg.Data.PluginsDir,
		notifiers:  make(map[string]Notifier),
	}
}

// Start 创建新的生成任务并在后台跑预览阶段。
// 已有进行中任务时返回 ErrGenerationInProgress。
func (s *GenerationService) Start(ctx context.Context, description, origin string, notifier Notifier) (*model.GenerationTask, error) {
	s.mu.Lock()
	active, err := s.repo.GetActive()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if active != nil {
		s.mu.Unlock()
		return nil, ErrGenerationInProgress
	}

	// 直接以 generating_metadata 落库，Create 提交的瞬间就占住单飞槽位，
	// 不给后台任务启动前的第二个 Start 留窗口
	task := &model.GenerationTask{
		TaskID:      uuid.NewString(),
		Description: description,
		Origin:      origin,
		Status:      string(statemachine.StatusGeneratingMetadata),
		Step:        1,
	}
	if err := s.repo.Create(task); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if notifier != nil {
		s.notifiers[task.TaskID] = notifier
	}
	s.mu.Unlock()

	if err := s.runner.Submit(task.TaskID, func(jobCtx context.Context) {
		s.runPreview(jobCtx, task.TaskID)
	}); err != nil {
		return nil, err
	}
	klog.Infof("插件生成任务已创建: taskID=%s", task.TaskID)
	return task, nil
}

// AttachNotifier 重新挂接通知通道。持久化恢复的任务没有活的通知对象，
// 用户再次交互时通过这里补上。
func (s *GenerationService) AttachNotifier(taskID string, notifier Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if notifier != nil {
		s.notifiers[taskID] = notifier
	}
}

// Approve 用户确认预览产物，开始构建。
// feedback 非空时会先按反馈重新优化元数据再进入构建。
func (s *GenerationService) Approve(ctx context.Context, feedback string) error {
	task, err := s.awaitingTask(ctx)
	if err != nil {
		return err
	}

	if feedback != "" {
		if err := s.transition(ctx, task, statemachine.StatusGeneratingMetadata); err != nil {
			return err
		}
		meta, optErr := s.gen.OptimizeMetadata(ctx, task.Metadata(), feedback)
		if optErr != nil {
			s.fail(ctx, task, fmt.Errorf("根据反馈优化元数据失败: %w", optErr))
			return optErr
		}
		if err := task.SetMetadata(*meta); err != nil {
			return err
		}
		// 元数据变了，配置结构跟着重新生成
		combined := task.Description + "\n\n用户反馈：" + feedback
		schema, schemaErr := s.gen.GenerateConfigSchema(ctx, *meta, combined)
		if schemaErr != nil {
			s.fail(ctx, task, fmt.Errorf("根据反馈重新生成配置失败: %w", schemaErr))
			return schemaErr
		}
		task.ConfigSchema = schema
		task.Status = string(statemachine.StatusAwaitingConfirmation)
		task.AppendModification(model.Modification{Target: "metadata", Feedback: feedback, At: time.Now()})
		if err := s.repo.Save(task); err != nil {
			return err
		}
		s.notify(ctx, task, "✨ 优化后的插件方案：\n"+previewText(task))
	}

	// 重名插件在确认时再查一次，预览期间可能被其他途径装上了同名插件
	if installer.PluginExists(s.pluginsDir, task.Name) {
		dupErr := fmt.Errorf("%w: %s", ErrPluginExists, task.Name)
		s.fail(ctx, task, dupErr)
		return dupErr
	}

	if err := s.transition(ctx, task, statemachine.StatusGeneratingCode); err != nil {
		return err
	}
	task.AwaitingConfirmation = false
	if err := s.repo.Save(task); err != nil {
		return err
	}
	return s.runner.Submit(task.TaskID, func(jobCtx context.Context) {
		s.runBuild(jobCtx, task.TaskID)
	})
}

// Reject 用户放弃当前预览，任务删除，生成槽位立即释放。
func (s *GenerationService) Reject(ctx context.Context) error {
	task, err := s.awaitingTask(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(task.ID); err != nil {
		return err
	}
	s.releaseNotifier(task.TaskID)

	s.publish(eventbus.EventPipelineFailed, task, "用户拒绝了生成结果")
	klog.Infof("生成任务被用户拒绝: taskID=%s", task.TaskID)
	return nil
}

// Modify 按用户反馈修改预览产物后继续等待确认。
// target 取值 config、docs、metadata、all。
func (s *GenerationService) Modify(ctx context.Context, target, feedback string) error {
	task, err := s.awaitingTask(ctx)
	if err != nil {
		return err
	}

	meta := task.Metadata()
	switch target {
	case "metadata":
		newMeta, err := s.gen.ModifyMetadata(ctx, meta, feedback)
		if err != nil {
			return err
		}
		if err := task.SetMetadata(*newMeta); err != nil {
			return err
		}
	case "docs":
		markdown, err := s.gen.ModifyMarkdown(ctx, task.Markdown, meta, feedback)
		if err != nil {
			return err
		}
		task.Markdown = markdown
	case "config":
		schema, err := s.gen.ModifyConfigSchema(ctx, task.ConfigSchema, meta, feedback)
		if err != nil {
			return err
		}
		task.ConfigSchema = schema
	case "all":
		newMeta, err := s.gen.ModifyMetadata(ctx, meta, feedback)
		if err != nil {
			return err
		}
		if err := task.SetMetadata(*newMeta); err != nil {
			return err
		}
		markdown, err := s.gen.ModifyMarkdown(ctx, task.Markdown, *newMeta, feedback)
		if err != nil {
			return err
		}
		task.Markdown = markdown
		schema, err := s.gen.ModifyConfigSchema(ctx, task.ConfigSchema, *newMeta, feedback)
		if err != nil {
			return err
		}
		task.ConfigSchema = schema
	default:
		return fmt.Errorf("不支持的修改目标: %s", target)
	}

	task.AppendModification(model.Modification{Target: target, Feedback: feedback, At: time.Now()})
	if err := s.repo.Save(task); err != nil {
		return err
	}
	s.notify(ctx, task, fmt.Sprintf("✅ %s 已按反馈更新，请确认或继续修改", targetLabel(target)))
	return nil
}

// StatusInfo 当前任务的进度快照
type StatusInfo struct {
	Task            *model.GenerationTask `json:"task"`
	Step            int                   `json:"step"`
	TotalSteps      int                   `json:"total_steps"`
	StepDescription string                `json:"step_description"`
	Preview         string                `json:"preview,omitempty"`
}

// Status 返回进行中任务的进度，没有任务时返回 ErrNoActiveTask。
func (s *GenerationService) Status(ctx context.Context) (*StatusInfo, error) {
	task, err := s.repo.GetActive()
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrNoActiveTask
	}
	info := &StatusInfo{
		Task:            task,
		Step:            task.Step,
		TotalSteps:      model.TotalSteps,
		StepDescription: model.StepDescription(task.Step),
	}
	if task.AwaitingConfirmation {
		info.Preview = previewText(task)
	}
	return info, nil
}

// Active 返回进行中的任务，没有时返回 nil。
func (s *GenerationService) Active(ctx context.Context) (*model.GenerationTask, error) {
	return s.repo.GetActive()
}

// Get 按 TaskID 查询任务。
func (s *GenerationService) Get(ctx context.Context, taskID string) (*model.GenerationTask, error) {
	return s.repo.GetByTaskID(taskID)
}

// runPreview 预览阶段：元数据 -> 文档 -> 配置，然后等待确认或直接进入构建。
func (s *GenerationService) runPreview(ctx context.Context, taskID string) {
	task, err := s.repo.GetByTaskID(taskID)
	if err != nil || task == nil {
		klog.Errorf("加载生成任务失败: taskID=%s, err=%v", taskID, err)
		return
	}

	if err := s.stepTo(ctx, task, statemachine.StatusGeneratingMetadata, 1); err != nil {
		s.fail(ctx, task, err)
		return
	}
	meta, err := s.gen.GenerateMetadata(ctx, task.Description)
	if err != nil {
		s.fail(ctx, task, fmt.Errorf("生成插件元数据失败: %w", err))
		return
	}
	if !s.cfg.Generation.AllowDependencies {
		meta.Extra.Dependencies = nil
	}
	if err := task.SetMetadata(*meta); err != nil {
		s.fail(ctx, task, err)
		return
	}
	if err := s.repo.Save(task); err != nil {
		s.fail(ctx, task, err)
		return
	}

	if installer.PluginExists(s.pluginsDir, task.Name) {
		s.fail(ctx, task, fmt.Errorf("%w: %s", ErrPluginExists, task.Name))
		return
	}

	if err := s.stepTo(ctx, task, statemachine.StatusGeneratingDocs, 2); err != nil {
		s.fail(ctx, task, err)
		return
	}
	markdown, err := s.gen.GenerateMarkdown(ctx, *meta, task.Description)
	if err != nil {
		s.fail(ctx, task, fmt.Errorf("生成插件文档失败: %w", err))
		return
	}
	task.Markdown = markdown

	if err := s.stepTo(ctx, task, statemachine.StatusGeneratingConfig, 3); err != nil {
		s.fail(ctx, task, err)
		return
	}
	schema, err := s.gen.GenerateConfigSchema(ctx, *meta, task.Description)
	if err != nil {
		s.fail(ctx, task, fmt.Errorf("生成配置文件失败: %w", err))
		return
	}
	task.ConfigSchema = schema

	if s.cfg.Generation.AutoApprove {
		if err := s.transition(ctx, task, statemachine.StatusAwaitingConfirmation); err != nil {
			s.fail(ctx, task, err)
			return
		}
		if err := s.transition(ctx, task, statemachine.StatusGeneratingCode); err != nil {
			s.fail(ctx, task, err)
			return
		}
		if err := s.repo.Save(task); err != nil {
			s.fail(ctx, task, err)
			return
		}
		s.runBuild(ctx, task.TaskID)
		return
	}

	task.AwaitingConfirmation = true
	if err := s.transition(ctx, task, statemachine.StatusAwaitingConfirmation); err != nil {
		s.fail(ctx, task, err)
		return
	}
	if err := s.repo.Save(task); err != nil {
		s.fail(ctx, task, err)
		return
	}
	s.publish(eventbus.EventAwaitingConfirmation, task, "预览已生成，等待确认")
	s.notify(ctx, task, fmt.Sprintf(
		"📋 插件 %s 预览已生成。\n%s\n回复「确认」开始构建，「拒绝」放弃，或「修改 <config|docs|metadata|all> <意见>」调整预览。",
		task.Name, previewText(task)))
}

func (s *GenerationService) awaitingTask(ctx context.Context) (*model.GenerationTask, error) {
	task, err := s.repo.GetActive()
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrNoActiveTask
	}
	if task.Status != string(statemachine.StatusAwaitingConfirmation) {
		return nil, ErrNotAwaitingConfirmation
	}
	return task, nil
}

// stepTo 推进状态机并更新步骤号，同时发布步骤事件。
// 任务在 Start 时已带着第一个状态落库，所以进入同状态时只推进步骤。
func (s *GenerationService) stepTo(ctx context.Context, task *model.GenerationTask, to statemachine.GenerationStatus, step int) error {
	if statemachine.GenerationStatus(task.Status) != to {
		if err := s.transition(ctx, task, to); err != nil {
			return err
		}
	}
	task.Step = step
	if err := s.repo.Save(task); err != nil {
		return err
	}
	s.publish(eventbus.EventStepStarted, task, model.StepDescription(step))
	s.notify(ctx, task, fmt.Sprintf("⏳ [%d/%d] %s", step, model.TotalSteps, model.StepDescription(step)))
	return nil
}

func (s *GenerationService) transition(ctx context.Context, task *model.GenerationTask, to statemachine.GenerationStatus) error {
	from := statemachine.GenerationStatus(task.Status)
	if err := s.sm.Transition(from, to, task.TaskID); err != nil {
		return err
	}
	task.Status = string(to)
	return nil
}

// fail 把任务标记为失败并通知发起方。
func (s *GenerationService) fail(ctx context.Context, task *model.GenerationTask, cause error) {
	klog.Errorf("生成任务失败: taskID=%s, err=%v", task.TaskID, cause)
	task.Status = string(statemachine.StatusFailed)
	task.AwaitingConfirmation = false
	task.ErrorMsg = cause.Error()
	now := time.Now()
	task.CompletedAt = &now
	if err := s.repo.Save(task); err != nil {
		klog.Errorf("保存失败状态出错: taskID=%s, err=%v", task.TaskID, err)
	}
	s.publish(eventbus.EventStepFailed, task, cause.Error())
	s.publish(eventbus.EventPipelineFailed, task, cause.Error())
	s.notify(ctx, task, fmt.Sprintf("❌ 插件生成失败：%v", cause))
	s.releaseNotifier(task.TaskID)
}

// releaseNotifier 任务进入终态后释放通知通道，避免 map 常驻增长
func (s *GenerationService) releaseNotifier(taskID string) {
	s.mu.Lock()
	delete(s.notifiers, taskID)
	s.mu.Unlock()
}

func (s *GenerationService) notify(ctx context.Context, task *model.GenerationTask, message string) {
	s.mu.Lock()
	n := s.notifiers[task.TaskID]
	s.mu.Unlock()
	if n != nil {
		n.Notify(ctx, message)
	}
}

func (s *GenerationService) publish(eventType eventbus.EventType, task *model.GenerationTask, message string) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.Background(), eventbus.Event{
		Type:    eventType,
		TaskID:  task.TaskID,
		Step:    task.Step,
		Message: message,
	}); err != nil {
		klog.V(6).Infof("事件发布失败: %v", err)
	}
}

// previewText 构建插件方案预览文本，指令最多列 5 条
func previewText(task *model.GenerationTask) string {
	meta := task.Metadata()
	lines := []string{
		"插件名称：" + meta.Name,
		"作者：" + meta.Author,
		"描述：" + meta.Description,
		"版本：" + meta.Version,
	}
	if len(meta.Commands) > 0 {
		lines = append(lines, "指令预览：")
		for i, cmd := range meta.Commands {
			if i >= 5 {
				break
			}
			lines = append(lines, fmt.Sprintf("  - %s: %s", cmd.Command, cmd.Description))
		}
	}
	return strings.Join(lines, "\n")
}

func targetLabel(target string) string {
	switch target {
	case "config":
		return "配置文件"
	case "docs":
		return "插件文档"
	case "metadata":
		return "插件元数据"
	default:
		return "预览内容"
	}
}
