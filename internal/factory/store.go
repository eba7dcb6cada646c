// Package factory constructs configured service dependencies.
package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/casaflow/chatcore/internal/config"
	storepkg "github.com/casaflow/chatcore/internal/store"
	storepg "github.com/casaflow/chatcore/internal/store/postgres"
	storesqlite "github.com/casaflow/chatcore/internal/store/sqlite"
)

// NewStore returns the durable store selected by cfg.DBDriver. Postgres
// connections are verified synchronously; the schema bootstrap check runs in
// the background so startup is not blocked on it.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return storesqlite.Open(cfg.SQLitePath,
			storesqlite.WithDedupWindow(cfg.MessageDedupWindow))

	case "postgres":
		dsn := cfg.PostgresDSN
		if dsn == "" {
			return nil, fmt.Errorf("CHATCORE_POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
		db, err := storepg.Open(dsn)
		if err != nil {
			return nil, err
		}

		go func() {
			bootstrapCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := storepg.Bootstrap(bootstrapCtx, dsn); err != nil {
				log.Warn().Err(err).Str("driver", cfg.DBDriver).Msg("store bootstrap check failed")
			} else {
				log.Debug().Str("driver", cfg.DBDriver).Msg("store bootstrap check completed")
			}
		}()

		return storepg.NewWithDB(db,
			storepg.WithDedupWindow(cfg.MessageDedupWindow)), nil

	default:
		return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}
