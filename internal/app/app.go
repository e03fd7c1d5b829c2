package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"licsrv/internal/config"
	apierrors "licsrv/internal/errors"
	"licsrv/internal/infrastructure"
	"licsrv/internal/license"
	"licsrv/internal/middleware"
	"licsrv/internal/services"
	handlers "licsrv/internal/transport/http"
	"licsrv/internal/websocket"
	"licsrv/pkg/contracts"
)

// Application represents the main application container
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	OTel      *infrastructure.OTelProviders
	Store     license.Store
	Engine    *license.Engine
	Validator *license.Validator
	Hub       *websocket.Hub
	Router    *chi.Mux
	Server    *http.Server

	storeCloser io.Closer
	closeLog    func() error
}

// New creates the application. Logs go to stdout (and/or the configured file).
func New(ctx context.Context, cfg *config.Config, stdout io.Writer) (*Application, error) {
	logger, closeLog, err := infrastructure.NewLogger(cfg.Logging, stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &Application{Config: cfg, Logger: logger, closeLog: closeLog}
	if err := a.init(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *Application) init(ctx context.Context) error {
	cfg := a.Config
	a.Logger.InfoContext(ctx, "application starting",
		slog.String("version", contracts.Version),
		slog.String("store", cfg.Store.Driver),
		slog.Int("port", cfg.Server.Port))

	otelProviders, err := infrastructure.InitializeOTel(ctx, cfg.Telemetry, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTel = otelProviders

	licenseMetrics, err := license.NewMetrics(otelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}
	httpMetrics, err := infrastructure.NewHTTPMetrics(otelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create http metrics: %w", err)
	}

	store, closer, err := OpenStore(ctx, cfg.Store, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}
	a.Store, a.storeCloser = store, closer

	a.Hub = websocket.NewHub(websocket.HubConfig{
		EventBuffer:     cfg.WebSocket.EventBuffer,
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		PingPeriod:      cfg.WebSocket.PingPeriod,
		PongWait:        cfg.WebSocket.PongWait,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, a.Logger)

	a.Engine = license.NewEngine(store,
		license.WithTokenGenerator(license.NewTokenGenerator(cfg.Keys.Prefix)),
		license.WithMaxGenerateAttempts(cfg.Keys.MaxGenerateAttempts),
		license.WithEventSink(a.Hub),
		license.WithMetrics(licenseMetrics),
		license.WithLogger(a.Logger),
	)
	a.Validator = license.NewValidator(store, a.Hub, licenseMetrics, a.Logger)

	if !cfg.AdminEnabled() {
		a.Logger.WarnContext(ctx, "no admin password hash configured; admin routes will reject every request")
	}

	var pinger license.Pinger
	if p, ok := store.(license.Pinger); ok {
		pinger = p
	}

	errorHandler := apierrors.NewErrorHandler(a.Logger, false)
	keyService := services.NewKeyService(a.Engine, a.Validator, otelProviders.Tracer, a.Logger)
	healthService := services.NewHealthService(contracts.Version, cfg.Store.Driver, pinger, a.Hub, a.Logger)

	var metricsHandler http.Handler
	if otelProviders.PrometheusHTTP != nil {
		metricsHandler = otelProviders.PrometheusHTTP
	}

	a.Router = handlers.NewRouter(handlers.RouterConfig{
		Keys:         handlers.NewKeyHandler(keyService, errorHandler, a.Logger),
		Health:       handlers.NewHealthHandler(healthService, a.Logger),
		Events:       http.HandlerFunc(a.Hub.ServeWS),
		Metrics:      metricsHandler,
		ErrorHandler: errorHandler,
		AdminAuth: middleware.AdminAuthConfig{
			Username:     cfg.Admin.Username,
			PasswordHash: cfg.Admin.PasswordHash,
		},
		CORS:           middleware.CORSConfig{AllowedOrigins: cfg.Server.AllowedOrigins},
		Tracer:         otelProviders.Tracer,
		HTTPMetrics:    httpMetrics,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         a.Logger,
	})

	a.Server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.Router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
	return nil
}

// Run listens on the configured address and serves until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the server fails, then shuts
// down gracefully.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Hub.Run(gctx)
	})

	g.Go(func() error {
		a.Logger.InfoContext(ctx, "HTTP server listening", slog.String("address", ln.Addr().String()))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.InfoContext(ctx, "shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	err := g.Wait()
	a.Logger.InfoContext(ctx, "HTTP server stopped")
	return err
}

// Close releases the store, flushes telemetry and closes the log file.
func (a *Application) Close(ctx context.Context) error {
	var errs []error

	if a.storeCloser != nil {
		if err := a.storeCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if a.OTel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.OTel.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	a.Logger.InfoContext(ctx, "application shutdown complete")
	if a.closeLog != nil {
		if err := a.closeLog(); err != nil {
			errs = append(errs, fmt.Errorf("log close: %w", err))
		}
	}
	return errors.Join(errs...)
}
