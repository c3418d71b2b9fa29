package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/voxnote/internal/ai"
	"github.com/xxxsen/voxnote/internal/config"
	"github.com/xxxsen/voxnote/internal/db"
	"github.com/xxxsen/voxnote/internal/filestore"
	"github.com/xxxsen/voxnote/internal/handler"
	"github.com/xxxsen/voxnote/internal/index"
	"github.com/xxxsen/voxnote/internal/job"
	"github.com/xxxsen/voxnote/internal/middleware"
	"github.com/xxxsen/voxnote/internal/notify"
	"github.com/xxxsen/voxnote/internal/pipeline"
	"github.com/xxxsen/voxnote/internal/repo"
	"github.com/xxxsen/voxnote/internal/schedule"
	"github.com/xxxsen/voxnote/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "voxnote",
		Short: "voxnote voice note server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run voxnote server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			database, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := db.ApplyMigrations(database); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, database)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, database *sql.DB) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logutil.GetLogger(ctx).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("file_store", cfg.FileStore.Type),
	)

	noteRepo := repo.NewNoteRepo(database)
	jobRepo := repo.NewJobRepo(database)
	embeddingRepo := repo.NewEmbeddingRepo(database)
	pipelineRepo := repo.NewPipelineRepo(database)

	providerArgs := cfg.AI.Data
	if providerArgs == nil {
		providerArgs = cfg.AI
	}
	aiProvider, err := ai.NewProvider(cfg.AI.Provider, providerArgs)
	if err != nil {
		return fmt.Errorf("init ai provider: %w", err)
	}
	manager := ai.NewManager(aiProvider, ai.ManagerConfig{
		GenerateModel:   cfg.AI.GenerateModel,
		TranscribeModel: cfg.AI.TranscribeModel,
		EmbedModel:      cfg.AI.EmbedModel,
		Timeout:         cfg.AI.Timeout,
		MaxInputChars:   cfg.AI.MaxInputChars,
	})
	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	notifier, err := notify.New(cfg.Notifier)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}

	idx := index.NewManager(embeddingRepo)
	if err := idx.Rebuild(ctx, manager.EmbeddingModelVersion()); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	orchestrator := pipeline.NewOrchestrator(
		noteRepo, jobRepo, pipelineRepo, store,
		manager, manager, manager,
		idx, notifier,
		pipeline.Config{
			MaxAttempts: cfg.Pipeline.MaxAttempts,
			BaseBackoff: time.Duration(cfg.Pipeline.BaseBackoffMillis) * time.Millisecond,
			MaxBackoff:  time.Duration(cfg.Pipeline.MaxBackoffMillis) * time.Millisecond,
		},
	)
	reconciler := pipeline.NewReconciler(noteRepo, jobRepo, embeddingRepo, idx, manager, 0)
	reindexer := pipeline.NewReindexer(noteRepo, jobRepo, embeddingRepo, manager, 0)

	// repair whatever the last shutdown left behind before taking traffic
	if err := reconciler.Run(ctx); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}

	pool := pipeline.NewPool(jobRepo, orchestrator, cfg.Pipeline.Workers,
		time.Duration(cfg.Pipeline.PollIntervalMillis)*time.Millisecond)
	pool.Start(ctx)
	defer pool.Stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewReconcileJob(reconciler), cfg.Schedule.ReconcileSpec); err != nil {
		return fmt.Errorf("schedule reconcile: %w", err)
	}
	if err := scheduler.AddJob(job.NewReindexJob(reindexer), cfg.Schedule.ReindexSpec); err != nil {
		return fmt.Errorf("schedule reindex: %w", err)
	}
	if err := scheduler.AddJob(job.NewJobPurgeJob(jobRepo, cfg.Pipeline.JobKeepDays), cfg.Schedule.JobPurgeSpec); err != nil {
		return fmt.Errorf("schedule job purge: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	noteService := service.NewNoteService(noteRepo, jobRepo, embeddingRepo, store, idx, cfg.Pipeline.QueueLimit)
	searchService := service.NewSearchService(manager, noteRepo, idx)

	deps := handler.RouterDeps{
		Notes:        handler.NewNoteHandler(noteService, cfg.Server.MaxUploadMB<<20),
		Search:       handler.NewSearchHandler(searchService),
		UploadWindow: time.Duration(cfg.Server.UploadWindowMillis) * time.Millisecond,
		AnswerWindow: time.Duration(cfg.Server.AnswerWindowMillis) * time.Millisecond,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.Server.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
