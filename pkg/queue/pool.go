package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
)

// PoolConfig describes the connection pool the core consumes. Parsing a
// URI from configuration files or environment variables is the
// surrounding application's job, not the queue's; this struct is the
// boundary.
type PoolConfig struct {
	// URI is a standard postgres:// connection string.
	URI string
	// MinConnections and MaxConnections bound the pool.
	MinConnections int32
	MaxConnections int32
	// IdleTimeoutMS and ConnectTimeoutMS are durations in milliseconds.
	IdleTimeoutMS    int64
	ConnectTimeoutMS int64
	// StatementLogging toggles pgx's query tracer on or off.
	StatementLogging bool
	Logger           *slog.Logger
}

func (c *PoolConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Connect builds a pgxpool.Pool from cfg.
func Connect(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, wrapDB("pool_config", "failed to parse pool URI", err)
	}

	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.IdleTimeoutMS > 0 {
		poolCfg.MaxConnIdleTime = time.Duration(cfg.IdleTimeoutMS) * time.Millisecond
	}
	if cfg.ConnectTimeoutMS > 0 {
		poolCfg.ConnConfig.ConnectTimeout = time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond
	}

	if cfg.StatementLogging {
		poolCfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   slogAdapter{log: cfg.logger()},
			LogLevel: tracelog.LogLevelDebug,
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, wrapDB("pool_connect", "failed to create connection pool", err)
	}
	return pool, nil
}

// slogAdapter bridges pgx's tracelog.Logger interface onto slog, so
// statement logging follows the same structured sink as the rest of
// the queue instead of pgx's own stdlib-log default.
type slogAdapter struct {
	log *slog.Logger
}

func (a slogAdapter) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]interface{}) {
	args := make([]any, 0, len(data)*2)
	for k, v := range data {
		args = append(args, k, v)
	}
	switch level {
	case tracelog.LogLevelError:
		a.log.ErrorContext(ctx, msg, args...)
	case tracelog.LogLevelWarn:
		a.log.WarnContext(ctx, msg, args...)
	case tracelog.LogLevelInfo:
		a.log.InfoContext(ctx, msg, args...)
	default:
		a.log.DebugContext(ctx, msg, args...)
	}
}
