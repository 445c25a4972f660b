package exceptions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/shared"
)

// AuditEntity describes the audit entity for exceptions.
const AuditEntity = "inventory_exceptions"

// Service exposes the exception review queue.
type Service struct {
	repo   inventory.RepositoryPort
	audit  inventory.AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds the queue service.
func NewService(repo inventory.RepositoryPort, audit inventory.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		audit:  audit,
		logger: logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// List returns exceptions matching the filter, oldest first.
func (s *Service) List(ctx context.Context, filter inventory.ExceptionFilter) ([]inventory.Exception, error) {
	return s.repo.ListExceptions(ctx, filter)
}

// Open lists unresolved exceptions of the given type, or of every type when
// typ is empty.
func (s *Service) Open(ctx context.Context, typ inventory.ExceptionType, limit int) ([]inventory.Exception, error) {
	open := false
	return s.repo.ListExceptions(ctx, inventory.ExceptionFilter{Type: typ, Resolved: &open, Limit: limit})
}

// Get returns one exception.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (inventory.Exception, error) {
	return s.repo.GetException(ctx, id)
}

// Resolve records the review outcome. An exception is resolved once; the
// reason written at creation never changes.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, actorID int64, resolution string) (inventory.Exception, error) {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return inventory.Exception{}, inventory.Invalid("resolution", "required")
	}
	if actorID == 0 {
		return inventory.Exception{}, inventory.Invalid("resolved_by", "required")
	}
	var out inventory.Exception
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		exc, err := tx.GetExceptionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if exc.Resolved() {
			return fmt.Errorf("exception %s: %w", exc.ID, inventory.ErrExceptionResolved)
		}
		at := s.now()
		actor := actorID
		exc.Resolution = resolution
		exc.ResolvedAt = &at
		exc.ResolvedBy = &actor
		if err := tx.UpdateException(ctx, exc); err != nil {
			return err
		}
		out = exc
		return nil
	})
	if err != nil {
		return inventory.Exception{}, err
	}
	s.logger.Info("exception resolved",
		slog.String("exception_id", out.ID.String()),
		slog.String("type", string(out.Type)),
		slog.Int64("actor_id", actorID))
	inventory.RecordAudit(ctx, s.audit, shared.AuditLog{
		ActorID:  actorID,
		Action:   "exception:resolve",
		Entity:   AuditEntity,
		EntityID: out.ID.String(),
		Meta: map[string]any{
			"type":       string(out.Type),
			"resolution": out.Resolution,
		},
		At: *out.ResolvedAt,
	})
	return out, nil
}
