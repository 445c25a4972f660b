package roles

import (
	"context"
	"errors"
	"log/slog"

	"github.com/odyssey-erp/cellar/internal/rbac"
)

// Store is the role data the service manages.
type Store interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	CreateRole(ctx context.Context, name, description string) (rbac.Role, error)
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
	RoleMembers(ctx context.Context, roleID int64) ([]int64, error)
}

// Invalidator drops cached grants of a user.
type Invalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// Service handles role business logic. Every grant change evicts the cached
// permissions of the users it affects.
type Service struct {
	store  Store
	cache  Invalidator
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(store Store, cache Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, logger: logger}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	return s.store.ListRoles(ctx)
}

// CreateRole adds an empty role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (rbac.Role, error) {
	return s.store.CreateRole(ctx, name, description)
}

// SetPermissions replaces the permissions of roleID.
func (s *Service) SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if err := s.store.SetRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	members, err := s.store.RoleMembers(ctx, roleID)
	if err != nil {
		return err
	}
	var errs []error
	for _, userID := range members {
		errs = append(errs, s.invalidate(ctx, userID))
	}
	return errors.Join(errs...)
}

// Assign grants roleID to userID.
func (s *Service) Assign(ctx context.Context, userID, roleID int64) error {
	if err := s.store.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

// Revoke removes roleID from userID.
func (s *Service) Revoke(ctx context.Context, userID, roleID int64) error {
	if err := s.store.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *Service) invalidate(ctx context.Context, userID int64) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate permission cache", slog.Int64("user_id", userID), slog.Any("error", err))
		return err
	}
	return nil
}
