package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/codemage/backend/config"
	"github.com/codemage/backend/internal/audit"
	"github.com/codemage/backend/internal/eventbus"
	"github.com/codemage/backend/internal/handler"
	"github.com/codemage/backend/internal/pkg/codegen"
	"github.com/codemage/backend/internal/pkg/database"
	"github.com/codemage/backend/internal/pkg/installer"
	"github.com/codemage/backend/internal/pkg/llm"
	"github.com/codemage/backend/internal/repository"
	"github.com/codemage/backend/internal/router"
	"github.com/codemage/backend/internal/service"
	"github.com/codemage/backend/internal/service/runner"
)

func main() {
	// 初始化 klog
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	klog.V(6).Info("服务启动中...")

	cfg := config.GetConfig()

	if err := os.MkdirAll(cfg.Data.Dir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	if err := os.MkdirAll(cfg.Data.PluginsDir, 0755); err != nil {
		log.Fatalf("Failed to create plugins directory: %v", err)
	}

	// 初始化数据库
	db, err := database.InitDB(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	taskRepo := repository.NewGenerationTaskRepository(db)

	// 启动时清理卡住的任务（进程异常退出后遗留的生成中状态）
	cleanupStuckTasks(taskRepo)

	// 组装生成流水线：LLM 生成器、静态审查器、安装客户端、后台执行器
	llmClient := llm.NewClient(cfg)
	generator := codegen.NewGenerator(llmClient, cfg.Generation.NegativePrompt)

	auditor := audit.NewAuditor(audit.Options{
		Profile:            audit.Profile(cfg.Generation.AuditProfile),
		Threshold:          cfg.Generation.SatisfactionThreshold,
		ToolTimeout:        time.Duration(cfg.Generation.ToolTimeoutSeconds) * time.Second,
		BannedDependencies: cfg.Generation.BannedDependencies,
	})

	installClient := installer.NewClient(
		cfg.Generation.AstrBotURL,
		cfg.Generation.APIUsername,
		cfg.Generation.APIPasswordMD5,
	)

	// maxWorkers=1：全局同一时刻只允许一个生成任务
	run, err := runner.New(1, 30*time.Minute)
	if err != nil {
		log.Fatalf("Failed to create runner: %v", err)
	}
	defer run.Stop()

	bus := eventbus.NewBus()
	subscribeProgressLog(bus)

	genService := service.NewGenerationService(cfg, taskRepo, generator, auditor, installClient, run, bus)

	// 初始化 Handler
	genHandler := handler.NewGenerationHandler(genService)
	configHandler := handler.NewConfigHandler(cfg)

	// 设置路由
	r := router.Setup(cfg, genHandler, configHandler)

	log.Printf("Server starting on port %s...", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// cleanupStuckTasks 清理启动前卡住的任务
func cleanupStuckTasks(repo repository.GenerationTaskRepository) {
	timeout := 30 * time.Minute

	affected, err := repo.CleanupStuckTasks(timeout)
	if err != nil {
		klog.V(6).Infof("清理卡住任务失败: %v", err)
		return
	}

	if affected > 0 {
		klog.V(6).Infof("启动时清理了 %d 个卡住的任务", affected)
	}
}

// subscribeProgressLog 把生成进度事件落到日志
func subscribeProgressLog(bus *eventbus.Bus) {
	for _, et := range []eventbus.EventType{
		eventbus.EventStepStarted,
		eventbus.EventAwaitingConfirmation,
		eventbus.EventPipelineCompleted,
		eventbus.EventPipelineFailed,
	} {
		bus.Subscribe(et, func(ctx context.Context, event eventbus.Event) error {
			klog.Infof("生成事件: type=%s taskID=%s step=%d msg=%s",
				event.Type, event.TaskID, event.Step, event.Message)
			return nil
		})
	}
}
