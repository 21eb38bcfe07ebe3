package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"FilingsMonitor/internal/classifier"
	"FilingsMonitor/internal/config"
	"FilingsMonitor/internal/decision"
	"FilingsMonitor/internal/dispatch"
	"FilingsMonitor/internal/domain"
	"FilingsMonitor/internal/infrastructure/edgar"
	"FilingsMonitor/internal/infrastructure/llm"
	"FilingsMonitor/internal/infrastructure/ollama"
	"FilingsMonitor/internal/infrastructure/scheduler"
	"FilingsMonitor/internal/infrastructure/storage"
	"FilingsMonitor/internal/infrastructure/telegram"
	"FilingsMonitor/internal/logging"
	"FilingsMonitor/internal/metrics"
	"FilingsMonitor/internal/ports"
	"FilingsMonitor/internal/prefilter"
	"FilingsMonitor/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    ports.Store
	backend  ports.ModelBackend
	pipeline *usecase.Pipeline
}

// New opens the store and builds the pipeline with every configured adapter.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.Path,
		DSN:    cfg.Storage.DSN,
	}, baseLogger.With("component", "storage"))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	app, err := build(cfg, store, baseLogger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

func build(cfg config.Config, store ports.Store, baseLogger *slog.Logger) (*Application, error) {
	backend, err := NewModelBackend(cfg.Model, baseLogger.With("component", "model"))
	if err != nil {
		return nil, err
	}

	adapter, err := classifier.New(backend, classifier.Options{
		RetryLimit:      cfg.Pipeline.RetryLimit(),
		BackendAttempts: cfg.Pipeline.BackendAttempts,
		Timeout:         cfg.Pipeline.ClassificationTimeout,
		MaxChars:        cfg.Model.MaxChars,
		SystemPrompt:    cfg.Model.SystemPrompt,
		BackoffInitial:  cfg.Pipeline.BackoffInitial,
		BackoffMax:      cfg.Pipeline.BackoffMax,
	}, baseLogger.With("component", "classifier"))
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}

	filter, err := prefilter.New(prefilter.Options{
		MinContentLength:    cfg.Pipeline.MinLength(),
		BoilerplatePatterns: cfg.Pipeline.BoilerplatePatterns,
		DuplicateLookback:   cfg.Pipeline.DuplicateLookback,
	}, store)
	if err != nil {
		return nil, fmt.Errorf("build pre-filter: %w", err)
	}

	threshold, err := domain.ParseImpactLevel(cfg.Pipeline.ImpactAlertThreshold)
	if err != nil {
		return nil, fmt.Errorf("impact threshold: %w", err)
	}

	client := edgar.NewClient(edgar.ClientOptions{
		SubmissionsURL:    cfg.Edgar.SubmissionsURL,
		ArchivesURL:       cfg.Edgar.ArchivesURL,
		UserAgent:         cfg.Edgar.UserAgent,
		RequestsPerSecond: cfg.Edgar.RequestsPerSecond,
		Timeout:           cfg.Edgar.Timeout,
	})
	source := edgar.NewSource(client, cfg.Edgar, cfg.Model.MaxChars, store, baseLogger.With("component", "edgar"))

	dispatcher, err := NewDispatcher(cfg.Notifications, baseLogger)
	if err != nil {
		return nil, err
	}

	pipeline, err := usecase.NewPipeline(usecase.PipelineDeps{
		Source:     source,
		Store:      store,
		Filter:     filter,
		Classifier: adapter,
		Policy: decision.Policy{
			Threshold: threshold,
			Cooldown:  cfg.Pipeline.Cooldown(),
			Scope:     decision.CooldownScope(cfg.Pipeline.CooldownScope),
		},
		Dispatcher:  dispatcher,
		Concurrency: cfg.Pipeline.BatchConcurrencyLimit,
		Logger:      baseLogger,
	})
	if err != nil {
		return nil, err
	}

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		store:    store,
		backend:  backend,
		pipeline: pipeline,
	}, nil
}

// NewModelBackend selects the language model adapter for cfg.Backend.
func NewModelBackend(cfg config.ModelConfig, logger *slog.Logger) (ports.ModelBackend, error) {
	switch cfg.Backend {
	case "openai":
		return llm.NewOpenAIBackend(cfg, logger)
	case "ollama":
		return ollama.NewClient(cfg)
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
}

// NewDispatcher registers every channel that has enough configuration and
// fans out to the ones named in cfg.Channels.
func NewDispatcher(cfg config.NotificationConfig, logger *slog.Logger) (ports.Dispatcher, error) {
	registry := dispatch.NewRegistry()
	registry.Register(dispatch.NewLogDispatcher(logger.With("component", "dispatch.log")))

	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		registry.Register(telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIURL))
	}
	if slices.Contains(cfg.Channels, "email") {
		email, err := dispatch.NewEmailDispatcher(cfg.Email)
		if err != nil {
			return nil, fmt.Errorf("email channel: %w", err)
		}
		registry.Register(email)
	}

	channels := cfg.Channels
	if len(channels) == 0 {
		channels = []string{"log"}
	}
	fanout, err := registry.Fanout(channels, logger.With("component", "dispatch"))
	if err != nil {
		return nil, fmt.Errorf("notification channels: %w", err)
	}
	return fanout, nil
}

// RunOnce executes a single fetch-process-dispatch cycle.
func (a *Application) RunOnce(ctx context.Context) (usecase.BatchReport, error) {
	return a.pipeline.RunOnce(ctx)
}

// Serve runs the pipeline on the configured interval and exposes metrics
// until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	srv := metrics.NewServer(a.cfg.Metrics.Listen, a.logger.With("component", "metrics"))
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	driver := scheduler.NewIntervalScheduler(a.cfg.Scheduler.Interval, a.cfg.Scheduler.Location())
	sched := usecase.NewScheduler(driver, a.pipeline, a.logger)
	if err := sched.Start(ctx); err != nil {
		_ = srv.Shutdown(context.Background())
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("monitor started",
		"interval", a.cfg.Scheduler.Interval,
		"companies", len(a.cfg.Edgar.Companies),
		"metrics", a.cfg.Metrics.Listen)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Pipeline.ClassificationTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("stop scheduler: %w", err))
	}
	if err := srv.Shutdown(stopCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("stop metrics server: %w", err))
	}
	return runErr
}

// CheckModel verifies the model backend is reachable and serves the model.
func (a *Application) CheckModel(ctx context.Context) error {
	return a.backend.Ping(ctx)
}

// Store exposes the persistence handle to operator commands.
func (a *Application) Store() ports.Store {
	return a.store
}

// Close releases the store.
func (a *Application) Close() error {
	return a.store.Close()
}
