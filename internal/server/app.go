// Package server builds the monitor's dependency graph from configuration and
// runs it until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/change-monitor/internal/api"
	"github.com/JakeFAU/change-monitor/internal/classifier"
	"github.com/JakeFAU/change-monitor/internal/classifier/gemini"
	"github.com/JakeFAU/change-monitor/internal/clock/system"
	"github.com/JakeFAU/change-monitor/internal/config"
	"github.com/JakeFAU/change-monitor/internal/dispatcher"
	"github.com/JakeFAU/change-monitor/internal/extract"
	"github.com/JakeFAU/change-monitor/internal/fetcher"
	collyfetcher "github.com/JakeFAU/change-monitor/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/change-monitor/internal/fetcher/headless"
	"github.com/JakeFAU/change-monitor/internal/fetcher/provider"
	"github.com/JakeFAU/change-monitor/internal/fetcher/website"
	"github.com/JakeFAU/change-monitor/internal/hash/sha256"
	"github.com/JakeFAU/change-monitor/internal/headless/detector"
	"github.com/JakeFAU/change-monitor/internal/id/uuid"
	"github.com/JakeFAU/change-monitor/internal/logging"
	"github.com/JakeFAU/change-monitor/internal/monitor"
	"github.com/JakeFAU/change-monitor/internal/notify"
	"github.com/JakeFAU/change-monitor/internal/policy/blocklist"
	"github.com/JakeFAU/change-monitor/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/change-monitor/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/change-monitor/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/change-monitor/internal/queue/memory"
	"github.com/JakeFAU/change-monitor/internal/retry"
	"github.com/JakeFAU/change-monitor/internal/scheduler"
	gcsstorage "github.com/JakeFAU/change-monitor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/change-monitor/internal/storage/local"
	memorystorage "github.com/JakeFAU/change-monitor/internal/storage/memory"
	pgstore "github.com/JakeFAU/change-monitor/internal/storage/postgres"
	"github.com/JakeFAU/change-monitor/internal/worker"
	"github.com/JakeFAU/change-monitor/internal/workflow"
)

const shutdownTimeout = 10 * time.Second

// Stores groups the persistence contracts. The memory and Postgres backends
// both satisfy it.
type Stores interface {
	monitor.TargetStore
	monitor.ChangeStore
	monitor.RunStore
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	scheduler *scheduler.Scheduler
	queue     *queuememory.Queue
	stores    Stores
	publisher monitor.Publisher
	archive   monitor.BlobStore
	checks    map[string]api.ReadinessCheck
	closers   []closer
}

type closer struct {
	name string
	fn   func() error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{
		cfg:    cfg,
		logger: logger,
		checks: map[string]api.ReadinessCheck{},
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("scheduler_enabled", cfg.Scheduler.Enabled),
		zap.Int("workers", cfg.Worker.Concurrency),
	)

	if err := app.setupDatabase(ctx); err != nil {
		app.closeAll()
		return nil, err
	}
	if err := app.setupStorage(ctx); err != nil {
		app.closeAll()
		return nil, err
	}
	if err := app.setupPublisher(ctx); err != nil {
		app.closeAll()
		return nil, err
	}
	if err := app.setupPipeline(ctx); err != nil {
		app.closeAll()
		return nil, err
	}
	return app, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory stores")
		a.stores = memorystorage.NewStore()
		return nil
	}
	store, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.stores = store
	a.checks["postgres"] = store.Ping
	a.closers = append(a.closers, closer{name: "postgres", fn: func() error {
		store.Close()
		return nil
	}})
	a.logger.Info("postgres stores initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "gcs":
		store, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket}, a.logger.Named("gcs"))
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.archive = store
		a.closers = append(a.closers, closer{name: "gcs", fn: store.Close})
		a.logger.Info("archiving pages to GCS", zap.String("bucket", a.cfg.Storage.Bucket))
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.archive = store
		a.logger.Info("archiving pages to local disk", zap.String("path", a.cfg.Storage.LocalDir))
	case "memory":
		a.archive = memorystorage.NewBlobStore()
		a.logger.Info("archiving pages in memory")
	default:
		a.logger.Info("page archiving disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.logger.Named("pubsub"))
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.closers = append(a.closers, closer{name: "pubsub", fn: pub.Close})
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("run_topic", a.cfg.PubSub.RunTopic),
		zap.String("notify_topic", a.cfg.Notify.Topic),
	)
	return nil
}

func (a *App) setupPipeline(ctx context.Context) error {
	cfg := a.cfg
	hasher := sha256.New()
	clock := system.New()
	ids := uuid.New()

	snapshots, err := a.buildFetcher(hasher)
	if err != nil {
		return err
	}

	var collab monitor.ClassificationCollaborator
	if cfg.Classifier.Enabled {
		gem, err := gemini.New(ctx, cfg.Classifier.APIKey, cfg.Classifier.Model)
		if err != nil {
			return fmt.Errorf("classifier collaborator init failed: %w", err)
		}
		collab = gem
		a.logger.Info("external classifier enabled", zap.String("collaborator", gem.Name()))
	} else {
		a.logger.Info("external classifier disabled, using heuristic analysis only")
	}
	cls := classifier.New(collab, clock, classifier.Config{
		Timeout:    cfg.ClassifierTimeout(),
		MaxExcerpt: cfg.Classifier.MaxExcerpt,
	}, a.logger.Named("classifier"))

	var notifier monitor.Notifier
	if cfg.Notify.Topic != "" {
		notifier = notify.NewPublishNotifier(a.publisher, cfg.Notify.Topic, clock, a.logger.Named("notify"))
	} else {
		a.logger.Warn("no notification topic configured, notifications are logged only")
		notifier = notify.NewLogNotifier(a.logger.Named("notify"))
	}

	engine := workflow.NewEngine(snapshots, cls, notify.NewGate(notifier), workflow.Config{
		FetchTimeout:    cfg.JobTimeout(),
		ClassifyTimeout: cfg.ClassifierTimeout(),
		NotifyTimeout:   cfg.NotifyTimeout(),
	}, a.logger.Named("workflow"))

	a.queue = queuememory.NewQueue(cfg.Worker.QueueDepth)
	retrier := retry.New(a.queue, retry.Config{
		MaxRetries: cfg.Retry.MaxRetries,
		Delay:      cfg.RetryDelay(),
	}, a.logger.Named("retry"))

	var runPublisher monitor.Publisher
	if cfg.PubSub.RunTopic != "" {
		runPublisher = a.publisher
	}
	workers := make([]dispatcher.Runner, 0, cfg.Worker.Concurrency)
	for i := range cfg.Worker.Concurrency {
		workers = append(workers, worker.New(
			a.queue, a.stores, a.stores, a.stores, engine, retrier, runPublisher, ids, clock,
			worker.Config{JobTimeout: cfg.JobTimeout(), RunTopic: cfg.PubSub.RunTopic},
			a.logger.Named("worker").With(zap.Int("worker", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, workers, clock)

	if cfg.Scheduler.Enabled {
		a.scheduler = scheduler.New(a.stores, a.queue, clock, cfg.SchedulerInterval(), a.logger.Named("scheduler"))
	}

	targets := api.NewTargetHandler(a.stores, a.stores, a.dispatch, ids, clock, a.logger.Named("api"))
	a.apiServer = api.NewServer(targets, a.checks, api.Config{
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
	}, a.logger.Named("http"))
	return nil
}

// buildFetcher assembles the type router with its provider and website
// backends.
func (a *App) buildFetcher(hasher monitor.Hasher) (*fetcher.Router, error) {
	cfg := a.cfg

	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: !cfg.HTTP.IgnoreRobots,
		Timeout:       cfg.HTTPTimeout(),
	})

	var rendered monitor.PageFetcher
	if cfg.Headless.Enabled {
		chrome, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
			SettleDelay:       cfg.SettleDelay(),
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		rendered = chrome
		a.closers = append(a.closers, closer{name: "headless", fn: func() error {
			chrome.Close()
			return nil
		}})
		a.logger.Info("headless fetcher enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	var shells monitor.ShellDetector
	if cfg.Website.PromoteSPAShells {
		shells = detector.NewHeuristic(cfg.Website.PromotionThreshold)
	}

	site := website.New(static, rendered, extract.New(hasher), shells, a.archive, website.Config{
		UseRendered:   cfg.Website.UseRendered,
		PromoteShells: cfg.Website.PromoteSPAShells,
		ArchivePrefix: cfg.Storage.Prefix,
		ContentType:   cfg.Storage.ContentType,
	}, a.logger.Named("website"))

	var records monitor.ProviderAPI
	if cfg.Provider.APIKey != "" {
		records = provider.New(provider.Config{
			BaseURL: cfg.Provider.BaseURL,
			APIKey:  cfg.Provider.APIKey,
			Timeout: cfg.ProviderTimeout(),
			Premium: cfg.Provider.Premium,
		}, nil, hasher, a.logger.Named("provider"))
	} else {
		a.logger.Warn("no provider API key configured, profile and organization targets will fail")
	}

	var limiter fetcher.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		})
	}
	router := fetcher.NewRouter(records, site, limiter)
	if hosts := blocklist.New(cfg.Website.BlockedHosts); hosts != nil {
		router.WithHostPolicy(hosts)
		a.logger.Info("website host blocklist enabled", zap.Strings("patterns", cfg.Website.BlockedHosts))
	}
	return router, nil
}

// Handler exposes the HTTP surface, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Concurrency))
		a.dispatch.Run(ctx)
	}()

	if a.scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info("scheduler started", zap.Duration("interval", a.cfg.SchedulerInterval()))
			a.scheduler.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	a.queue.Close()
	wg.Wait()
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases external clients in reverse construction order.
func (a *App) Close() {
	a.closeAll()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
