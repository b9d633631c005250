package app

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	closing "github.com/odyssey-erp/odyssey-ledger/internal/close"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

// Services holds the wired domain services shared by the server and worker.
type Services struct {
	Runner      *db.Runner
	Accounting  *accounting.Service
	Close       *closing.Service
	Inventory   *inventory.Service
	Subledger   *subledger.Service
	Hooks       *integration.Hooks
	Idempotency *shared.IdempotencyStore
}

// BuildServices wires repositories and services over the pool. The Redis
// client is optional; without it account lookups are uncached and period
// close relies on the database row lock alone.
func BuildServices(cfg *Config, pool *pgxpool.Pool, rdb *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *Services {
	retries, ttl := 3, 10*time.Minute
	if cfg != nil {
		retries, ttl = cfg.TxMaxRetries, cfg.AccountCacheTTL
	}
	runner := db.NewRunner(pool, retries)
	audit := shared.NewAuditRecorder(shared.NewAuditLogger(pool), logger)

	ledger := accounting.NewService(accounting.NewRepository(runner), audit)
	closer := closing.NewService(closing.NewRepository(runner), ledger, audit)
	stock := inventory.NewService(inventory.NewRepository(runner), audit)
	sub := subledger.NewService(subledger.NewRepository(runner), audit)
	hooks := integration.NewHooks(runner, ledger, stock, sub)

	if rdb != nil {
		ledger.WithCache(cache.NewIDCache(rdb, ttl))
		closer.WithLocker(cache.NewLocker(rdb))
	}
	if metrics != nil {
		ledger.WithMetrics(metrics)
		closer.WithMetrics(metrics)
		stock.WithMetrics(metrics)
		sub.WithMetrics(metrics)
		hooks.WithMetrics(metrics)
	}

	return &Services{
		Runner:      runner,
		Accounting:  ledger,
		Close:       closer,
		Inventory:   stock,
		Subledger:   sub,
		Hooks:       hooks,
		Idempotency: shared.NewIdempotencyStore(pool),
	}
}
