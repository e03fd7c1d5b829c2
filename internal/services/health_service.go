package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"licsrv/internal/license"
)

// ClientCounter reports connected event-stream clients.
type ClientCounter interface {
	ClientCount() int
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	store     string
	pinger    license.Pinger
	clients   ClientCounter
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
	Runtime   map[string]any    `json:"runtime,omitempty"`
}

// Healthy reports whether every check passed.
func (h HealthStatus) Healthy() bool {
	return h.Status == "ok"
}

// NewHealthService creates a health service. pinger and clients may be nil:
// a store without Ping is assumed ready.
func NewHealthService(version, storeDriver string, pinger license.Pinger, clients ClientCounter, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		store:     storeDriver,
		pinger:    pinger,
		clients:   clients,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// Liveness answers without touching dependencies.
func (hs *HealthService) Liveness(context.Context) HealthStatus {
	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   hs.version,
		Uptime:    time.Since(hs.startTime).Round(time.Second).String(),
	}
}

// Readiness checks the store and reports runtime details.
func (hs *HealthService) Readiness(ctx context.Context) HealthStatus {
	status := hs.Liveness(ctx)
	status.Checks = map[string]string{"store": "ok"}

	if hs.pinger != nil {
		if err := hs.pinger.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Checks["store"] = "unavailable"
			hs.logger.WarnContext(ctx, "readiness check failed",
				slog.String("store", hs.store),
				slog.String("error", err.Error()))
		}
	}

	status.Runtime = map[string]any{
		"store":      hs.store,
		"goroutines": runtime.NumGoroutine(),
		"go_version": runtime.Version(),
	}
	if hs.clients != nil {
		status.Runtime["websocket_clients"] = hs.clients.ClientCount()
	}
	return status
}
