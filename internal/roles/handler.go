package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/cellar/internal/platform/httpx"
	"github.com/odyssey-erp/cellar/internal/rbac"
	"github.com/odyssey-erp/cellar/internal/shared"
)

// Handler manages role management endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermRolesView, shared.PermRolesEdit))
			r.Get("/", h.listRoles)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermRolesEdit))
			r.Post("/", h.createRole)
			r.Put("/{id}/permissions", h.setPermissions)
			r.Put("/{id}/members/{userID}", h.assign)
			r.Delete("/{id}/members/{userID}", h.revoke)
		})
	})
}

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=256"`
}

type setPermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) setPermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var req setPermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.PermissionIDs == nil {
		req.PermissionIDs = []int64{}
	}
	if err := h.service.SetPermissions(r.Context(), roleID, req.PermissionIDs); err != nil {
		h.fail(w, "set role permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	userID, ok := pathInt(w, r, "userID")
	if !ok {
		return
	}
	if err := h.service.Assign(r.Context(), userID, roleID); err != nil {
		h.fail(w, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	userID, ok := pathInt(w, r, "userID")
	if !ok {
		return
	}
	if err := h.service.Revoke(r.Context(), userID, roleID); err != nil {
		h.fail(w, "revoke role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			httpx.ValidationProblem(w, "invalid role request", fields)
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, rbac.ErrNotFound):
		httpx.RespondError(w, httpx.Classify(httpx.ErrNotFound, err))
	case errors.As(err, &pgErr) && pgErr.Code == "23505":
		httpx.RespondError(w, httpx.Classify(httpx.ErrDuplicate, err))
	case errors.As(err, &pgErr) && pgErr.Code == "23503":
		httpx.RespondError(w, httpx.Classify(httpx.ErrNotFound, err))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.ValidationProblem(w, name+" must be a positive integer", map[string]string{name: "positive integer"})
		return 0, false
	}
	return id, true
}
