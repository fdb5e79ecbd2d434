// Package app wires storage, the catalog, the table API and the catalog
// service together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcapi "github.com/arkilian/strata/internal/api/grpc"
	httpapi "github.com/arkilian/strata/internal/api/http"
	"github.com/arkilian/strata/internal/cache"
	"github.com/arkilian/strata/internal/catalog"
	"github.com/arkilian/strata/internal/commit"
	"github.com/arkilian/strata/internal/config"
	"github.com/arkilian/strata/internal/maintenance"
	"github.com/arkilian/strata/internal/observability"
	"github.com/arkilian/strata/internal/server"
	"github.com/arkilian/strata/internal/storage"
	"github.com/arkilian/strata/internal/table"
)

const predicateWindow = 24 * time.Hour

// App holds the shared resources of one process. The CLI uses Open and
// Tables directly; strata serve additionally calls Start.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	store     storage.ObjectStore
	cache     *cache.Store
	catalog   catalog.Catalog
	committer *commit.Committer
	tables    *table.Tables
	stats     *observability.PredicateStats

	shutdown   *server.ShutdownManager
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	daemon     *maintenance.Daemon

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Open validates cfg and opens storage and the catalog.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, stats: observability.NewPredicateStats(predicateWindow)}
	var err error
	if a.store, err = openStorage(ctx, cfg.Storage); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if cfg.Storage.Cache.MaxBytes > 0 && cfg.Storage.Type != "memory" {
		// Pointers of the object catalog are swapped in place.
		c, err := cache.New(a.store, cfg.Storage.Cache.Dir, cfg.Storage.Cache.MaxBytes,
			cache.WithBypass(cfg.Catalog.Prefix+"/"), cache.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
		a.cache, a.store = c, c
	}
	if a.catalog, err = openCatalog(cfg.Catalog, a.store); err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	logger.Debug().Str("storage", cfg.Storage.Type).Str("catalog", cfg.Catalog.Type).
		Str("warehouse", cfg.Warehouse).Msg("resources opened")

	a.committer = commit.New(a.catalog, a.store, commit.Config{
		MaxRetries: cfg.Commit.MaxRetries,
		MinBackoff: cfg.Commit.MinBackoff,
		MaxBackoff: cfg.Commit.MaxBackoff,
	}, commit.WithLogger(logger))
	a.tables = table.New(a.committer, cfg.Warehouse,
		table.WithLogger(logger),
		table.WithPredicateRecorder(a.stats))
	return a, nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, error) {
	switch cfg.Type {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "local":
		return storage.NewLocalStorage(cfg.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.S3.Region != "" {
			s3Cfg.Region = cfg.S3.Region
		}
		s3Cfg.Endpoint = cfg.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.S3.PathStyle
		s3Cfg.Prefix = cfg.S3.Prefix
		return storage.NewS3Storage(ctx, cfg.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func openCatalog(cfg config.CatalogConfig, store storage.ObjectStore) (catalog.Catalog, error) {
	switch cfg.Type {
	case "sqlite":
		return catalog.NewSQLiteCatalog(cfg.Path)
	case "object":
		return catalog.NewObjectCatalog(store, cfg.Prefix), nil
	case "remote":
		return grpcapi.Dial(cfg.Addr)
	default:
		return nil, fmt.Errorf("unsupported catalog type: %s", cfg.Type)
	}
}

// Tables returns the table API.
func (a *App) Tables() *table.Tables { return a.tables }

// Catalog returns the pointer store.
func (a *App) Catalog() catalog.Catalog { return a.catalog }

// Stats returns the predicates observed by scans of this process.
func (a *App) Stats() *observability.PredicateStats { return a.stats }

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Start runs the HTTP server, the gRPC catalog service when enabled and
// the maintenance daemon when enabled.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, a.cancel = context.WithCancel(ctx)
	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig(), a.logger)

	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			return err
		}
	}
	if err := a.startHTTP(); err != nil {
		return err
	}
	if a.cfg.Maintenance.Enabled {
		a.daemon = maintenance.NewDaemon(a.cfg.Maintenance, a.tables, a.stats, a.logger)
		if err := a.daemon.Start(ctx); err != nil {
			return fmt.Errorf("failed to start maintenance daemon: %w", err)
		}
		a.shutdown.RegisterCloser("maintenance", server.CloserFunc(func() error {
			a.daemon.Stop()
			return nil
		}))
		a.logger.Info().Dur("interval", a.cfg.Maintenance.Interval).
			Strs("namespaces", a.cfg.Maintenance.Namespaces).Msg("maintenance daemon started")
	}
	return nil
}

func (a *App) startGRPC() error {
	if a.cfg.Catalog.Type == "remote" {
		return fmt.Errorf("grpc: a remote catalog cannot be served again")
	}
	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}
	a.grpcServer = grpc.NewServer()
	grpcapi.NewCatalogServer(a.catalog, a.logger).Register(a.grpcServer)
	a.health = health.NewServer()
	a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(a.grpcServer, a.health)

	a.shutdown.RegisterCloser("grpc", server.CloserFunc(func() error {
		a.health.Shutdown()
		a.grpcServer.GracefulStop()
		return nil
	}))
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC catalog listening")
		if err := a.grpcServer.Serve(lis); err != nil {
			a.logger.Error().Err(err).Msg("gRPC server error")
		}
	}()
	return nil
}

// Handler returns the HTTP routes of the service.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mw := httpapi.DefaultMiddleware(a.logger)
	if a.shutdown != nil {
		mw = httpapi.ChainMiddleware(a.shutdown.Middleware, mw)
	}
	httpapi.NewHandler(a.tables, a.stats, a.logger).Register(mux, mw)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", a.healthHandler)
	mux.HandleFunc("POST /v1/maintenance/run", a.triggerHandler)
	return mux
}

func (a *App) startHTTP() error {
	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP address: %w", err)
	}
	a.httpServer = &http.Server{
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.shutdown.RegisterCloser("http", server.CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	}))
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP server listening")
		if err := a.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := "ok"
	if a.shutdown != nil && a.shutdown.IsShuttingDown() {
		status, body = http.StatusServiceUnavailable, "shutting down"
	} else if _, err := a.catalog.ListTables(r.Context(), "default"); err != nil {
		status, body = http.StatusServiceUnavailable, err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"status":%q,"catalog":%q,"storage":%q}`, body, a.cfg.Catalog.Type, a.cfg.Storage.Type)
}

// triggerHandler runs one maintenance pass in the background.
func (a *App) triggerHandler(w http.ResponseWriter, _ *http.Request) {
	if a.daemon == nil {
		http.Error(w, "maintenance daemon is not running", http.StatusServiceUnavailable)
		return
	}
	go a.daemon.RunOnce(context.Background())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"accepted"}`))
}

// Wait blocks until a signal arrives or ctx ends, then stops the app.
func (a *App) Wait(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	return errors.Join(err, a.Stop(context.Background()))
}

// Stop shuts down the services started by Start and closes the catalog.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return a.Close()
	}
	a.running = false
	a.mu.Unlock()

	a.cancel()
	err := a.shutdown.Shutdown(ctx, "stop")

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		a.logger.Warn().Msg("shutdown timeout, some goroutines may not have finished")
	}
	return errors.Join(err, a.Close())
}

// Close releases the catalog and the read cache.
func (a *App) Close() error {
	var err error
	if a.catalog != nil {
		err = a.catalog.Close()
		a.catalog = nil
	}
	if a.cache != nil {
		err = errors.Join(err, a.cache.Close())
		a.cache = nil
	}
	return err
}
