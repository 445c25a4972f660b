package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	auditlog "github.com/odyssey-erp/cellar/internal/audit"
	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/inventory/cases"
	"github.com/odyssey-erp/cellar/internal/inventory/commitment"
	"github.com/odyssey-erp/cellar/internal/inventory/exceptions"
	inventoryhttp "github.com/odyssey-erp/cellar/internal/inventory/http"
	"github.com/odyssey-erp/cellar/internal/inventory/ledger"
	"github.com/odyssey-erp/cellar/internal/inventory/location"
	"github.com/odyssey-erp/cellar/internal/inventory/override"
	"github.com/odyssey-erp/cellar/internal/inventory/serialization"
	"github.com/odyssey-erp/cellar/internal/inventory/wms"
	"github.com/odyssey-erp/cellar/internal/observability"
	"github.com/odyssey-erp/cellar/internal/rbac"
	"github.com/odyssey-erp/cellar/internal/roles"
	"github.com/odyssey-erp/cellar/internal/shared"
)

// Services is the wired inventory stack shared by the API binary.
type Services struct {
	Inventory   inventoryhttp.Services
	Audit       *auditlog.Service
	RBAC        *rbac.Service
	Roles       *roles.Service
	Permissions *rbac.Cache
	Guard       rbac.Middleware
}

// ServiceDeps are the infrastructure handles services are built on.
type ServiceDeps struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
	Minter  serialization.MintDispatcher
}

// BuildServices wires repositories, collaborators and inventory services.
func BuildServices(deps ServiceDeps) Services {
	cfg := deps.Config
	logger := deps.Logger
	repo := inventory.NewRepository(deps.Pool)
	audit := shared.NewAuditLogger(deps.Pool)

	rbacService := rbac.NewService(deps.Pool)
	permissions := rbac.NewCache(rbacService, deps.Redis, cfg.PermissionCacheTTL, logger)

	stock := commitment.NewCalculator(repo, inventory.NewVoucherRepository(deps.Pool))
	led := ledger.New(repo, stock, ledger.Options{Metrics: deps.Metrics, Logger: logger})
	engine := serialization.NewEngine(repo, inventory.NewProductRepository(deps.Pool),
		serialization.NewSerialGenerator(cfg.SerialPrefix, cfg.SerialMaxAttempts),
		serialization.Options{Minter: deps.Minter, Audit: audit, Metrics: deps.Metrics, Logger: logger})

	return Services{
		Inventory: inventoryhttp.Services{
			Repo:       repo,
			Locations:  location.NewRegistry(repo, audit, logger),
			Serializer: engine,
			Cases:      cases.NewTracker(repo, audit, logger),
			Ledger:     led,
			Stock:      stock,
			Overrides: override.NewService(repo, stock, led, permissions, override.Options{
				Permission:       cfg.OverridePermission,
				MinJustification: cfg.OverrideMinJustification,
				Audit:            audit,
				Metrics:          deps.Metrics,
				Logger:           logger,
			}),
			Exceptions:  exceptions.NewService(repo, audit, logger),
			WMS:         wms.NewIngestor(led, repo, wms.NewSeenCache(deps.Redis, cfg.WMSDedupTTL), deps.Metrics, logger),
			Idempotency: shared.NewIdempotencyStore(deps.Pool),
		},
		Audit:       auditlog.NewService(auditlog.NewPgRepository(deps.Pool)),
		RBAC:        rbacService,
		Roles:       roles.NewService(rbacService, permissions, logger),
		Permissions: permissions,
		Guard:       rbac.Middleware{Source: permissions, Logger: logger},
	}
}
