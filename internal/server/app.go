// Package server wires the conversion service together and runs it.
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

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/api"
	"github.com/JakeFAU/realtime-file-converter/internal/clock/system"
	"github.com/JakeFAU/realtime-file-converter/internal/config"
	"github.com/JakeFAU/realtime-file-converter/internal/convert"
	"github.com/JakeFAU/realtime-file-converter/internal/converter"
	"github.com/JakeFAU/realtime-file-converter/internal/dispatcher"
	"github.com/JakeFAU/realtime-file-converter/internal/hash/sha256"
	"github.com/JakeFAU/realtime-file-converter/internal/id/uuid"
	"github.com/JakeFAU/realtime-file-converter/internal/logging"
	"github.com/JakeFAU/realtime-file-converter/internal/notify"
	"github.com/JakeFAU/realtime-file-converter/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/realtime-file-converter/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/realtime-file-converter/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/realtime-file-converter/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-file-converter/internal/storage/local"
	memoryStorage "github.com/JakeFAU/realtime-file-converter/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-file-converter/internal/storage/postgres"
	"github.com/JakeFAU/realtime-file-converter/internal/telemetry"
	"github.com/JakeFAU/realtime-file-converter/internal/worker"
)

const (
	shutdownTimeout = 30 * time.Second
	limiterIdle     = 10 * time.Minute
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	queue           *queueMemory.Queue
	hub             *notify.Hub
	redisLayer      *notify.RedisLayer
	redisClient     *redis.Client
	limiter         *ratelimit.Limiter
	jobStore        convert.JobStore
	pgStore         *pgstore.JobStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	tracerShutdown  telemetry.ShutdownFunc

	workCancel context.CancelFunc
	background sync.WaitGroup
	workersWG  sync.WaitGroup
	closeOnce  sync.Once
}

// Handler returns the HTTP handler of the API server.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// JobStore exposes the configured job store.
func (a *App) JobStore() convert.JobStore {
	return a.jobStore
}

// Start launches the worker pool and background loops. Workers run on their
// own context so in-flight conversions survive the request-side shutdown
// signal; Close drains them.
func (a *App) Start(ctx context.Context) {
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.workCancel = cancel

	a.workersWG.Add(1)
	go func() {
		defer a.workersWG.Done()
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Conversion.Concurrency))
		a.dispatch.Run(workCtx)
		a.logger.Info("dispatcher stopped")
	}()

	if a.redisLayer != nil {
		a.background.Add(1)
		go func() {
			defer a.background.Done()
			if err := a.redisLayer.Run(ctx); err != nil {
				a.logger.Error("redis channel layer stopped", zap.Error(err))
			}
		}()
	}

	if a.limiter.Enabled() {
		a.background.Add(1)
		go func() {
			defer a.background.Done()
			ticker := time.NewTicker(limiterIdle)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := a.limiter.Prune(limiterIdle); n > 0 {
						a.logger.Debug("pruned idle upload limiters", zap.Int("count", n))
					}
				}
			}
		}()
	}
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
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

	return a.Close(shutdownCtx)
}

// Close drains the queue, waits for in-flight conversions until ctx ends,
// and releases infrastructure. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		a.queue.Close()
		err = a.waitWorkers(ctx)
		a.background.Wait()
		a.closeInfrastructure(ctx)
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return err
}

func (a *App) waitWorkers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.logger.Warn("abandoning in-flight conversions", zap.Error(ctx.Err()))
		if a.workCancel != nil {
			a.workCancel()
		}
		<-done
		return fmt.Errorf("drain workers: %w", ctx.Err())
	}
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.workCancel != nil {
		a.workCancel()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("notify hub close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	a.pgStore.Close()
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on stderr/stdout for some platforms; nothing useful to do.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies. A nil logger builds one from
// the logging config.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.Database.DSN != ""),
		zap.Bool("redis", cfg.Redis.Addr != ""),
		zap.Bool("pubsub", cfg.PubSub.TopicName != ""),
	)

	var err error
	app.tracerShutdown, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	if err := setupJobStore(ctx, app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	notifier, err := setupNotify(ctx, app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.queue = queueMemory.NewQueue(cfg.Conversion.QueueDepth)
	app.dispatch = setupDispatcher(app, blobStore, notifier)
	app.limiter = ratelimit.New(ratelimit.Config{
		RatePerSecond: cfg.Upload.RatePerSecond,
		Burst:         cfg.Upload.Burst,
	})

	app.apiServer = api.NewServer(api.Deps{
		JobStore:   app.jobStore,
		BlobStore:  blobStore,
		Dispatcher: app.dispatch,
		Hub:        app.hub,
		Notifier:   notifier,
		Limiter:    app.limiter,
		IDGen:      uuid.New(),
		Clock:      system.New(),
		Ready:      app.ready,
	}, *cfg, logger.Named("api"))

	return app, nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pgStore != nil {
		if err := a.pgStore.Ping(ctx); err != nil {
			return err
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}
	return nil
}

func setupStorage(ctx context.Context, app *App) (convert.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case "local":
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.BaseDir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupJobStore(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("no database DSN configured, keeping jobs in memory")
		app.jobStore = memoryStorage.NewJobStore()
		return nil
	}
	store, err := pgstore.NewJobStore(ctx, pgstore.JobStoreConfig{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.Table,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("job store init failed: %w", err)
	}
	app.pgStore = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("job store schema failed: %w", err)
	}
	app.jobStore = store
	app.logger.Info("postgres job store initialized", zap.String("table", app.cfg.Database.Table))
	return nil
}

// setupNotify builds the websocket hub and the notifier workers report to.
// With Redis configured, updates travel through the channel so every
// instance's hub sees them.
func setupNotify(ctx context.Context, app *App) (convert.Notifier, error) {
	app.hub = notify.NewHub(notify.Config{
		BufferSize:       app.cfg.Notify.BufferSize,
		SubscriberBuffer: app.cfg.Notify.SubscriberSize,
		Logger:           app.logger.Named("notify_hub"),
	})
	notifiers := notify.Multi{}

	if app.cfg.Redis.Addr != "" {
		client, err := notify.DialRedis(ctx, notify.RedisConfig{
			Addr:     app.cfg.Redis.Addr,
			Password: app.cfg.Redis.Password,
			DB:       app.cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		app.redisClient = client
		app.redisLayer = notify.NewRedisLayer(
			notify.NewRedisClient(client),
			app.cfg.Redis.Channel,
			app.hub,
			app.logger.Named("redis_layer"),
		)
		notifiers = append(notifiers, app.redisLayer)
		app.logger.Info("redis channel layer enabled",
			zap.String("addr", app.cfg.Redis.Addr),
			zap.String("channel", app.cfg.Redis.Channel),
		)
	} else {
		notifiers = append(notifiers, app.hub)
	}

	if app.cfg.PubSub.TopicName != "" && app.cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		app.pubsubPublisher = client.Publisher(app.cfg.PubSub.TopicName)
		notifiers = append(notifiers, notify.NewTopicNotifier(
			gcppublisher.New(app.pubsubPublisher),
			app.cfg.PubSub.TopicName,
		))
		app.logger.Info("Pub/Sub status notifications enabled",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.TopicName),
		)
	}
	return notifiers, nil
}

func setupDispatcher(app *App, blobStore convert.BlobStore, notifier convert.Notifier) *dispatcher.Dispatcher {
	engines := converter.Default(converter.LibreOfficeConfig{
		Binary: app.cfg.Conversion.SofficePath,
	}, app.logger.Named("libreoffice"))
	workerCfg := worker.Config{
		JobTimeout: app.cfg.JobTimeout(),
		WorkDir:    app.cfg.Conversion.WorkDir,
	}
	app.logger.Info("worker config",
		zap.Int("concurrency", app.cfg.Conversion.Concurrency),
		zap.Int("queue_depth", app.cfg.Conversion.QueueDepth),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
		zap.String("soffice", app.cfg.Conversion.SofficePath),
	)

	hasher := sha256.New()
	clock := system.New()
	workers := make([]*worker.Worker, 0, app.cfg.Conversion.Concurrency)
	for i := 0; i < app.cfg.Conversion.Concurrency; i++ {
		workers = append(workers, worker.New(
			app.queue,
			app.jobStore,
			blobStore,
			notifier,
			engines,
			hasher,
			clock,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, workers, app.logger.Named("dispatcher"))
}
