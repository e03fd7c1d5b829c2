package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"licsrv/internal/config"
	"licsrv/internal/database"
	"licsrv/internal/license"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenStore creates the store selected by cfg. The returned closer releases
// its resources.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (license.Store, io.Closer, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.WarnContext(ctx, "using in-memory key store; keys are lost on restart")
		return license.NewMemoryStore(), nopCloser{}, nil

	case config.DriverPostgres:
		db, err := database.NewConnection(ctx, database.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}

		repo := database.NewKeyRepository(db)
		if cfg.AutoMigrate {
			if err := repo.EnsureSchema(ctx); err != nil {
				db.Close()
				return nil, nil, err
			}
			logger.InfoContext(ctx, "database schema ensured")
		}
		logger.InfoContext(ctx, "connected to PostgreSQL key store",
			slog.Int("max_open_conns", cfg.MaxOpenConns))
		return repo, db, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver: %q", cfg.Driver)
	}
}
