package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/cellar/internal/platform/httpx"
	"github.com/odyssey-erp/cellar/internal/shared"
)

// PermissionLister lists the permission catalogue.
type PermissionLister interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// PermissionsHandler exposes the permission catalogue and the caller's grants.
type PermissionsHandler struct {
	logger  *slog.Logger
	catalog PermissionLister
	rbac    Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, catalog PermissionLister, rbac Middleware) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, catalog: catalog, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/me/permissions", h.myPermissions)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPermissionsView))
		r.Get("/permissions", h.listPermissions)
	})
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalog.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *PermissionsHandler) myPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	granted, err := h.rbac.Source.EffectivePermissions(r.Context(), userID)
	if err != nil {
		h.logger.Error("effective permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if granted == nil {
		granted = []string{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "permissions": granted})
}
