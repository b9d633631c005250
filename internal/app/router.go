package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	closing "github.com/odyssey-erp/odyssey-ledger/internal/close"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AccountingHandler  *accounting.Handler
	CloseHandler       *closing.Handler
	InventoryHandler   *inventory.Handler
	SubledgerHandler   *subledger.Handler
	IntegrationHandler *integration.Handler
	JobHandler         *jobs.Handler
	Idempotency        KeyStore
	Metrics            *observability.Metrics
}

// tenantRoutes is implemented by every tenant-scoped module handler.
type tenantRoutes interface {
	MountRoutes(r chi.Router)
}

// NewRouter constructs the chi.Router with ledger defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	modules := make([]tenantRoutes, 0, 5)
	if params.AccountingHandler != nil {
		modules = append(modules, params.AccountingHandler)
	}
	if params.CloseHandler != nil {
		modules = append(modules, params.CloseHandler)
	}
	if params.InventoryHandler != nil {
		modules = append(modules, params.InventoryHandler)
	}
	if params.SubledgerHandler != nil {
		modules = append(modules, params.SubledgerHandler)
	}
	if params.IntegrationHandler != nil {
		modules = append(modules, params.IntegrationHandler)
	}
	r.Route("/api/v1/tenants/{tenantID}", func(r chi.Router) {
		if params.Idempotency != nil {
			r.Use(IdempotencyMiddleware(params.Idempotency, params.Logger))
		}
		for _, m := range modules {
			m.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}

// NewRouterFromServices builds every module handler over the wired services.
func NewRouterFromServices(cfg *Config, svc *Services, jobHandler *jobs.Handler, metrics *observability.Metrics, logger *slog.Logger) http.Handler {
	return NewRouter(RouterParams{
		Logger:             logger,
		Config:             cfg,
		AccountingHandler:  accounting.NewHandler(logger, svc.Accounting),
		CloseHandler:       closing.NewHandler(logger, svc.Close),
		InventoryHandler:   inventory.NewHandler(logger, svc.Inventory),
		SubledgerHandler:   subledger.NewHandler(logger, svc.Subledger),
		IntegrationHandler: integration.NewHandler(logger, svc.Hooks),
		JobHandler:         jobHandler,
		Idempotency:        svc.Idempotency,
		Metrics:            metrics,
	})
}
