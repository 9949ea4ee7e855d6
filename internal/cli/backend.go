package cli

import (
	"context"
	"fmt"

	"github.com/roach88/gamecat/internal/config"
	"github.com/roach88/gamecat/internal/remote"
	"github.com/roach88/gamecat/internal/remote/memory"
	"github.com/roach88/gamecat/internal/remote/postgres"
	"github.com/roach88/gamecat/internal/remote/redis"
	"github.com/roach88/gamecat/internal/remote/sqlite"
)

// OpenCollection opens the backend selected by cfg.Backend.Driver.
//
// The memory driver lives and dies with the process, so it is only useful
// for trying commands out.
func OpenCollection(ctx context.Context, cfg *config.Config) (remote.Collection, error) {
	b := cfg.Backend
	switch b.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		s, err := sqlite.Open(b.SQLitePath, sqlite.WithPollInterval(b.PollInterval))
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, b.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverRedis:
		s, err := redis.Open(ctx, b.RedisURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown backend driver %q", b.Driver)
	}
}
