package cases

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/shared"
)

const (
	// AuditAction identifies audit log entries for case breaks.
	AuditAction = "case:break"
	// AuditEntity describes the audit entity for cases.
	AuditEntity = "inventory_cases"
)

// Tracker guards case integrity.
type Tracker struct {
	repo   inventory.RepositoryPort
	audit  inventory.AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker builds Tracker.
func NewTracker(repo inventory.RepositoryPort, audit inventory.AuditPort, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		repo:   repo,
		audit:  audit,
		logger: logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// BreakCase opens a breakable intact case. Its bottles stay where they are
// and from now on move individually. Breaking changes no bottle location or
// state, so no movement is written.
func (t *Tracker) BreakCase(ctx context.Context, caseID uuid.UUID, actorID int64, reason string) (inventory.Case, error) {
	var out inventory.Case
	err := t.repo.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		c, err := tx.GetCaseForUpdate(ctx, caseID)
		if err != nil {
			return err
		}
		broken, err := c.Break(actorID, reason, t.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateCase(ctx, broken); err != nil {
			return err
		}
		out = broken
		return nil
	})
	if err != nil {
		if errors.Is(err, inventory.ErrInvariant) {
			t.logger.Error("case invariant violated", slog.String("case_id", caseID.String()), slog.Any("error", err))
		}
		return inventory.Case{}, err
	}
	t.logger.Info("case broken", slog.String("case_id", out.ID.String()), slog.Int64("actor_id", actorID))
	inventory.RecordAudit(ctx, t.audit, shared.AuditLog{
		ActorID:  actorID,
		Action:   AuditAction,
		Entity:   AuditEntity,
		EntityID: out.ID.String(),
		Meta: map[string]any{
			"reason":        out.BrokenReason,
			"location_id":   out.CurrentLocationID.String(),
			"allocation_id": out.AllocationID.String(),
		},
		At: *out.BrokenAt,
	})
	return out, nil
}

// Get returns a case.
func (t *Tracker) Get(ctx context.Context, id uuid.UUID) (inventory.Case, error) {
	return t.repo.GetCase(ctx, id)
}

// Contents lists the bottles currently grouped in the case.
func (t *Tracker) Contents(ctx context.Context, id uuid.UUID) ([]inventory.Bottle, error) {
	if _, err := t.repo.GetCase(ctx, id); err != nil {
		return nil, err
	}
	return t.repo.ListBottles(ctx, inventory.BottleFilter{CaseID: id})
}
