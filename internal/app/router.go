package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	audithttp "github.com/odyssey-erp/cellar/internal/audit/http"
	inventoryhttp "github.com/odyssey-erp/cellar/internal/inventory/http"
	"github.com/odyssey-erp/cellar/internal/observability"
	"github.com/odyssey-erp/cellar/internal/rbac"
	"github.com/odyssey-erp/cellar/internal/roles"
	"github.com/odyssey-erp/cellar/jobs"
)

// Pinger reports backing service health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	InventoryHandler   *inventoryhttp.Handler
	PermissionsHandler *rbac.PermissionsHandler
	AuditHandler       *audithttp.Handler
	RolesHandler       *roles.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
	Database           Pinger
}

// NewRouter constructs the chi.Router with cellar defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Database != nil {
			if err := params.Database.Ping(r.Context()); err != nil {
				params.Logger.Warn("readiness", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	if params.InventoryHandler != nil {
		params.InventoryHandler.MountRoutes(r)
	}
	if params.PermissionsHandler != nil {
		params.PermissionsHandler.MountRoutes(r)
	}
	if params.RolesHandler != nil {
		params.RolesHandler.MountRoutes(r)
	}
	if params.AuditHandler != nil {
		params.AuditHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
