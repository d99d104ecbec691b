package queue

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Provider bundles the pieces a surrounding application needs to run
// the queue: the connection pool and a registry to register handlers
// against before calling Run. Pool sizing and polling behavior are
// configured separately: PoolConfig here, worker.Options at Run time.
type Provider struct {
	Pool     *pgxpool.Pool
	Registry *Registry
	Logger   *slog.Logger
}

// NewProvider connects the pool and builds an empty registry, leaving
// worker pool sizing and cancellation to the caller (handed to
// pkg/worker.Run).
func NewProvider(ctx context.Context, cfg PoolConfig) (*Provider, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{Pool: pool, Registry: NewRegistry(), Logger: logger}, nil
}

// Close releases the pool.
func (p *Provider) Close() {
	p.Pool.Close()
}
