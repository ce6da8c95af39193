// Package server builds the application's dependencies and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-capture-api/internal/api"
	"github.com/JakeFAU/lead-capture-api/internal/clock/system"
	"github.com/JakeFAU/lead-capture-api/internal/config"
	"github.com/JakeFAU/lead-capture-api/internal/gateway"
	gcsgateway "github.com/JakeFAU/lead-capture-api/internal/gateway/gcs"
	pggateway "github.com/JakeFAU/lead-capture-api/internal/gateway/postgres"
	redisgateway "github.com/JakeFAU/lead-capture-api/internal/gateway/redis"
	"github.com/JakeFAU/lead-capture-api/internal/id/uuid"
	"github.com/JakeFAU/lead-capture-api/internal/intake"
	"github.com/JakeFAU/lead-capture-api/internal/logging"
	"github.com/JakeFAU/lead-capture-api/internal/metrics"
	gcppublisher "github.com/JakeFAU/lead-capture-api/internal/notify/pubsub"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	handle       *gateway.Handle
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	recorder     *intake.Recorder
}

// Registry returns the gateway drivers compiled into the service.
func Registry() *gateway.Registry {
	reg := gateway.NewRegistry()
	reg.Register("postgres", pggateway.Open, "postgresql")
	reg.Register("redis", redisgateway.Open, "rediss")
	reg.Register("gcs", gcsgateway.Open, "gs")
	return reg
}

// Build creates the application's dependencies. A database that cannot be
// opened is not fatal: the failure is kept in the gateway handle and surfaces
// through the diagnostic endpoint and the lead fallback.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Service:     cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger, Registry())
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg *gateway.Registry) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("database_url_configured", cfg.Database.URL != ""),
		zap.Strings("drivers", reg.Drivers()),
	)
	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	app.handle = setupGateway(ctx, app, reg)

	notifier, err := setupNotifier(ctx, app)
	if err != nil {
		_ = app.handle.Close()
		return nil, err
	}

	app.recorder = intake.NewRecorder(app.handle, notifier, logger,
		intake.WithPublishTimeout(cfg.PubSub.PublishTimeout))
	app.apiServer = api.NewServer(*cfg, app.handle, app.recorder, logger)
	return app, nil
}

func setupGateway(ctx context.Context, app *App, reg *gateway.Registry) *gateway.Handle {
	db := app.cfg.Database
	handle := reg.Open(ctx, gateway.Settings{
		URL:             db.URL,
		Name:            db.Name,
		Driver:          db.Driver,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
		IDs:             uuid.New(),
		Clock:           system.New(),
	})
	switch {
	case handle.Ready():
		app.logger.Info("database gateway initialized", zap.String("driver", handle.Driver))
	case errors.Is(handle.Err, gateway.ErrNotConfigured):
		app.logger.Warn("no database url configured, leads will not be persisted")
	default:
		app.logger.Error("database gateway unavailable, leads will not be persisted",
			zap.String("driver", handle.Driver),
			zap.Error(handle.Err),
		)
	}
	return handle
}

// setupNotifier returns nil when Pub/Sub is not configured. A nil
// *Publisher must not be returned as a non-nil interface.
func setupNotifier(ctx context.Context, app *App) (intake.Notifier, error) {
	if !app.cfg.PubSub.Enabled() {
		app.logger.Info("no Pub/Sub topic configured, lead events disabled")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.publisher, err = gcppublisher.New(app.pubsubClient, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.publisher, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run listens on the configured address and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr())
	if err != nil {
		_ = a.Close(ctx)
		return fmt.Errorf("listen on %s: %w", a.cfg.Server.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is done, then shuts down
// gracefully and releases every dependency.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
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

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// Close releases the gateway and Pub/Sub resources.
func (a *App) Close(_ context.Context) error {
	var errs []error
	if a.recorder != nil {
		a.recorder.Wait()
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if err := a.handle.Close(); err != nil {
		a.logger.Warn("database gateway close failed", zap.Error(err))
		errs = append(errs, err)
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
