// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-tracker/internal/api"
	"github.com/JakeFAU/engagement-tracker/internal/clock/system"
	"github.com/JakeFAU/engagement-tracker/internal/config"
	"github.com/JakeFAU/engagement-tracker/internal/fanout"
	"github.com/JakeFAU/engagement-tracker/internal/fanout/sinks"
	"github.com/JakeFAU/engagement-tracker/internal/headless"
	"github.com/JakeFAU/engagement-tracker/internal/id/uuid"
	"github.com/JakeFAU/engagement-tracker/internal/kv"
	kvmemory "github.com/JakeFAU/engagement-tracker/internal/kv/memory"
	kvpostgres "github.com/JakeFAU/engagement-tracker/internal/kv/postgres"
	kvredis "github.com/JakeFAU/engagement-tracker/internal/kv/redis"
	kvsqlite "github.com/JakeFAU/engagement-tracker/internal/kv/sqlite"
	"github.com/JakeFAU/engagement-tracker/internal/logging"
	"github.com/JakeFAU/engagement-tracker/internal/metrics"
	"github.com/JakeFAU/engagement-tracker/internal/replay"
	"github.com/JakeFAU/engagement-tracker/internal/storage"
	gcsstorage "github.com/JakeFAU/engagement-tracker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/engagement-tracker/internal/storage/local"
	memorystorage "github.com/JakeFAU/engagement-tracker/internal/storage/memory"
	"github.com/JakeFAU/engagement-tracker/internal/telemetry"
)

const readinessKey = "readyz"

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  prometheus.Registerer
	records   kv.Store
	blobStore storage.BlobStore
	hub       *fanout.Hub
	browser   *headless.Browser
	runner    *replay.Runner
	apiServer *api.Server

	tracerShutdown func(context.Context) error

	closeOnce sync.Once
	closeErr  error
}

// Option adjusts Build.
type Option func(*App)

// WithLogger replaces the logger built from the logging section.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer registers sink collectors somewhere other than the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registry = reg }
}

// Build creates the application's dependencies. On failure everything built so
// far is released.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (app *App, err error) {
	app = &App{cfg: cfg, registry: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, lerr := logging.New(cfg.Logging)
		if lerr != nil {
			return nil, fmt.Errorf("logger init failed: %w", lerr)
		}
		zap.ReplaceGlobals(logger)
		app.logger = logger
	}
	metrics.Init()
	tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("records_backend", cfg.Storage.Records.Backend),
	)

	defer func() {
		if err != nil {
			if cerr := app.Close(context.Background()); cerr != nil {
				app.logger.Warn("cleanup after failed build", zap.Error(cerr))
			}
			app = nil
		}
	}()

	if err = app.setupRecords(ctx); err != nil {
		return app, err
	}
	sinkList, err := app.setupSinks(ctx)
	if err != nil {
		return app, err
	}
	app.setupHub(ctx, sinkList)
	if err = app.setupBrowser(); err != nil {
		return app, err
	}

	app.runner = replay.NewRunner(replay.Config{
		Engagement:       cfg.TrackerConfig(),
		ConsentMaxAge:    cfg.Consent.MaxAge,
		AttributionTTL:   cfg.Attribution.TTL,
		AttributionParam: cfg.Attribution.Param,
		Records:          app.records,
		Browser:          app.browser,
		Forward:          app.hub,
		Logger:           app.logger,
	})
	app.apiServer = api.NewServer(app.runner, api.Options{
		MaxTraceBytes: cfg.Server.MaxTraceBytes,
		APIKey:        app.apiKey(),
		Ready:         app.ready,
	}, app.logger.Named("api"))
	return app, nil
}

// Replay runs trace against the configured record store and sinks.
func (a *App) Replay(ctx context.Context, trace replay.Trace) (replay.Report, error) {
	report, err := a.runner.Run(ctx, trace)
	if err != nil {
		return replay.Report{}, fmt.Errorf("replay %q: %w", trace.Name, err)
	}
	return report, nil
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves HTTP and blocks until the context is canceled or SIGINT/SIGTERM
// arrives, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return closeErr
}

// Close flushes the hub and releases every backend. It is safe to call more
// than once and on a partially built App.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { a.closeErr = a.close(ctx) })
	return a.closeErr
}

func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close hub: %w", err))
		}
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if c, ok := a.blobStore.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close blob store: %w", err))
		}
	}
	if c, ok := a.records.(kv.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close record store: %w", err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) apiKey() string {
	if !a.cfg.Auth.Enabled {
		return ""
	}
	return a.cfg.Auth.APIKey
}

func (a *App) ready(ctx context.Context) error {
	if !a.hub.Available() {
		return errors.New("fan-out hub closed")
	}
	if _, _, err := a.records.Get(ctx, readinessKey); err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	return nil
}

func (a *App) setupRecords(ctx context.Context) error {
	rc := a.cfg.Storage.Records
	switch rc.Backend {
	case config.RecordsSQLite:
		store, err := kvsqlite.Open(ctx, rc.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite record store init failed: %w", err)
		}
		a.records = store
		a.logger.Info("using sqlite record store", zap.String("path", rc.SQLitePath))
	case config.RecordsPostgres:
		store, err := kvpostgres.New(ctx, rc.Postgres)
		if err != nil {
			return fmt.Errorf("postgres record store init failed: %w", err)
		}
		a.records = store
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres record store migrate failed: %w", err)
		}
		a.logger.Info("using postgres record store", zap.String("table", rc.Postgres.Table))
	case config.RecordsRedis:
		store, err := kvredis.New(ctx, rc.Redis)
		if err != nil {
			return fmt.Errorf("redis record store init failed: %w", err)
		}
		a.records = store
		a.logger.Info("using redis record store", zap.String("addr", rc.Redis.Addr))
	default:
		a.records = kvmemory.New()
		a.logger.Info("using in-memory record store")
	}
	return nil
}

func (a *App) setupSinks(ctx context.Context) ([]fanout.Sink, error) {
	sc := a.cfg.Sinks
	var sinkList []fanout.Sink
	if sc.Log {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("events")))
		a.logger.Debug("added log sink")
	}
	if sc.Prometheus {
		sink, err := sinks.NewPrometheusSink(a.registry)
		if err != nil {
			return sinkList, fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, sink)
		a.logger.Debug("added prometheus sink")
	}
	if sc.Archive {
		if err := a.setupBlobStore(ctx); err != nil {
			return sinkList, err
		}
		sink, err := sinks.NewArchiveSink(a.blobStore, a.cfg.Storage.Archive.Prefix, a.logger.Named("archive"))
		if err != nil {
			return sinkList, fmt.Errorf("archive sink init failed: %w", err)
		}
		sinkList = append(sinkList, sink)
		a.logger.Debug("added archive sink", zap.String("backend", a.cfg.Storage.Archive.Backend))
	}
	if sc.PubSub.Enabled {
		sink, err := sinks.OpenPubSubSink(ctx, sc.PubSub.ProjectID, sc.PubSub.Topic)
		if err != nil {
			return sinkList, fmt.Errorf("pubsub sink init failed: %w", err)
		}
		sinkList = append(sinkList, sink)
		a.logger.Info("Pub/Sub sink initialized",
			zap.String("project", sc.PubSub.ProjectID),
			zap.String("topic", sc.PubSub.Topic),
		)
	}
	if len(sinkList) == 0 {
		a.logger.Warn("no fan-out sinks configured, events are only reported per replay")
	}
	return sinkList, nil
}

func (a *App) setupBlobStore(ctx context.Context) error {
	ac := a.cfg.Storage.Archive
	switch ac.Backend {
	case storage.BackendGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: ac.Bucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobStore = store
		a.logger.Info("using GCS archive backend", zap.String("bucket", ac.Bucket))
	case storage.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: ac.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobStore = store
		a.logger.Info("using local archive backend", zap.String("path", ac.BaseDir))
	default:
		a.blobStore = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory archive backend")
	}
	return nil
}

// setupHub must run even without sinks so readiness and Forward stay valid.
func (a *App) setupHub(ctx context.Context, sinkList []fanout.Sink) {
	hc := a.cfg.Hub
	hubCfg := fanout.Config{
		BufferSize:     hc.BufferSize,
		MaxBatchEvents: hc.MaxBatchEvents,
		MaxBatchWait:   hc.MaxBatchWait,
		SinkTimeout:    hc.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		IDs:            uuid.New(),
		Clock:          system.New(),
		Logger:         a.logger,
	}
	a.hub = fanout.NewHub(hubCfg, sinkList...)
	a.logger.Info("fan-out hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hc.BufferSize),
		zap.Int("max_batch_events", hc.MaxBatchEvents),
		zap.Duration("max_batch_wait", hc.MaxBatchWait),
		zap.Duration("sink_timeout", hc.SinkTimeout),
	)
}

func (a *App) setupBrowser() error {
	if !a.cfg.Headless.Enabled {
		a.logger.Info("headless browser disabled")
		return nil
	}
	browser, err := headless.NewBrowser(a.cfg.Headless.Config, a.logger.Named("headless"))
	if err != nil {
		return fmt.Errorf("headless browser init failed: %w", err)
	}
	a.browser = browser
	a.logger.Info("headless browser enabled", zap.Int("max_pages", a.cfg.Headless.MaxPages))
	return nil
}
