package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/clipso/clipso-backend/internal/captions"
	"github.com/clipso/clipso-backend/internal/clients/ffmpeg"
	"github.com/clipso/clipso-backend/internal/clients/gcp"
	"github.com/clipso/clipso-backend/internal/clients/gcs"
	"github.com/clipso/clipso-backend/internal/clients/openai"
	"github.com/clipso/clipso-backend/internal/clients/redis"
	"github.com/clipso/clipso-backend/internal/domain"
	httpH "github.com/clipso/clipso-backend/internal/http/handlers"
	"github.com/clipso/clipso-backend/internal/jobs"
	"github.com/clipso/clipso-backend/internal/jobs/orchestrator"
	"github.com/clipso/clipso-backend/internal/jobs/pipeline/enhance"
	"github.com/clipso/clipso-backend/internal/jobs/runtime"
	"github.com/clipso/clipso-backend/internal/pkg/logger"
	"github.com/clipso/clipso-backend/internal/repos"
	"github.com/clipso/clipso-backend/internal/server"
	"github.com/clipso/clipso-backend/internal/services"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine
	Cfg    Config

	worker      *jobs.Worker
	store       gcs.Store
	transcriber gcp.Transcriber
	bus         redis.JobBus
	cancel      context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	pg, err := NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	db := pg.DB()

	// Capability adapters
	store, err := gcs.NewStore(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init artifact store: %w", err)
	}
	transcriber, err := gcp.NewTranscriber(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init transcriber: %w", err)
	}
	images, err := openai.NewImageGenerator(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init image generator: %w", err)
	}
	media := ffmpeg.New(log)
	if err := media.AssertReady(context.Background()); err != nil {
		log.Warn("ffmpeg not ready, compositing will fail until fixed", "error", err)
	}
	styles, err := captions.LoadStyles(cfg.CaptionStylePath)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load caption styles: %w", err)
	}

	// Job events over redis when configured, silent otherwise.
	var notify runtime.Notifier = services.NopNotifier{}
	bus, err := redis.NewJobBus(log)
	if err != nil {
		log.Warn("redis job bus unavailable, job events disabled", "error", err)
		bus = nil
	} else {
		notify = services.NewBusNotifier(log, bus)
	}

	jobRepo := repos.NewEnhancementJobRepo(db, log)

	pipeline, err := enhance.New(enhance.Deps{
		Log:         log,
		Store:       store,
		Transcriber: transcriber,
		Images:      images,
		Media:       media,
		Styles:      styles,
	}, enhance.Options{
		TranscribePollBudget: cfg.TranscribePollBudget,
		Windowing: captions.WindowOptions{
			MaxWindowMS: cfg.CaptionMaxWindowMS,
			MaxChars:    cfg.CaptionMaxChars,
		},
		PromptMaxRunes:      cfg.BRollPromptMaxRunes,
		BRollOverlaySeconds: cfg.BRollOverlaySeconds,
		PreviewWidth:        cfg.PreviewWidth,
	}, pipelinePolicies(cfg))
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init enhance pipeline: %w", err)
	}

	registry := runtime.NewRegistry()
	if err := registry.Register(pipeline); err != nil {
		log.Sync()
		return nil, err
	}

	worker := jobs.NewWorker(log, db, jobRepo, registry, notify, jobs.WorkerOptions{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		StaleRunning: cfg.WorkerStaleRunning,
	})

	enhancementService := services.NewEnhancementService(db, log, jobRepo, store)

	router := server.NewRouter(server.RouterConfig{
		Log:           log,
		JobHandler:    httpH.NewJobHandler(enhancementService),
		HealthHandler: httpH.NewHealthHandler(),
	})

	return &App{
		Log:         log,
		DB:          db,
		Router:      router,
		Cfg:         cfg,
		worker:      worker,
		store:       store,
		transcriber: transcriber,
		bus:         bus,
	}, nil
}

// pipelinePolicies applies the configured retry budgets on top of the
// stage defaults.
func pipelinePolicies(cfg Config) orchestrator.Policies {
	policies := orchestrator.DefaultPolicies()

	transcribe := policies[domain.StageTranscribing]
	transcribe.MinBackoff = cfg.TranscribePollInterval
	policies[domain.StageTranscribing] = transcribe

	broll := policies[domain.StageGeneratingBRoll]
	broll.MaxAttempts = cfg.BRollMaxAttempts
	policies[domain.StageGeneratingBRoll] = broll

	composite := policies[domain.StageCompositing]
	composite.MaxAttempts = cfg.CompositeMaxAttempts
	policies[domain.StageCompositing] = composite

	return policies
}

// Start launches the background job worker.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go func() {
		if err := a.worker.Run(ctx); err != nil {
			a.Log.Error("worker exited", "error", err)
		}
	}()
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Server listening", "port", a.Cfg.Port)
	return a.Router.Run(":" + a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.transcriber != nil {
		_ = a.transcriber.Close()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
