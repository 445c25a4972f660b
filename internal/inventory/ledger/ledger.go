// Package ledger records inventory movements. Every change to a bottle's
// location or state goes through here together with an immutable movement
// in the same transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/inventory/commitment"
	"github.com/odyssey-erp/cellar/internal/inventory/location"
)

// Recorder receives a count for every committed movement.
type Recorder interface {
	ObserveMovement(movementType, trigger string)
}

// FreeStock computes the stock snapshot inside the caller's transaction.
type FreeStock interface {
	SnapshotWith(ctx context.Context, counter commitment.StoredCounter, allocationID uuid.UUID) (commitment.Snapshot, error)
}

// Ledger creates movements and applies the state changes they justify.
type Ledger struct {
	repo    inventory.RepositoryPort
	stock   FreeStock
	metrics Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// Options carries optional collaborators.
type Options struct {
	Metrics Recorder
	Logger  *slog.Logger
	Now     func() time.Time
}

// New builds Ledger. stock may be nil, in which case consumption skips the
// free-stock check.
func New(repo inventory.RepositoryPort, stock FreeStock, opts Options) *Ledger {
	l := &Ledger{
		repo:    repo,
		stock:   stock,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	return l
}

// Event carries the fields shared by every derived operation.
type Event struct {
	ActorID         int64
	Reason          string
	ExternalEventID string
	Trigger         inventory.MovementTrigger
}

// TransferInput moves one bottle.
type TransferInput struct {
	Event
	BottleID       uuid.UUID
	To             uuid.UUID
	CustodyChanged bool
}

// CaseTransferInput moves an intact case and its bottles.
type CaseTransferInput struct {
	Event
	CaseID         uuid.UUID
	To             uuid.UUID
	CustodyChanged bool
}

// ConsumeInput consumes one bottle. Type is EVENT_CONSUMPTION or CONSUMPTION.
type ConsumeInput struct {
	Event
	BottleID uuid.UUID
	Type     inventory.MovementType
}

// RemovalInput destroys or loses one bottle.
type RemovalInput struct {
	Event
	BottleID uuid.UUID
}

// CreateMovement validates spec and records it without touching any bottle.
// A replayed external event id is rejected before anything is written.
func (l *Ledger) CreateMovement(ctx context.Context, spec inventory.MovementSpec) (inventory.Movement, error) {
	var out inventory.Movement
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		m, err := l.RecordInTx(ctx, tx, spec)
		out = m
		return err
	})
	if err != nil {
		return inventory.Movement{}, err
	}
	l.observe(out)
	return out, nil
}

// RecordInTx validates and inserts spec inside tx.
func (l *Ledger) RecordInTx(ctx context.Context, tx inventory.TxRepository, spec inventory.MovementSpec) (inventory.Movement, error) {
	if err := checkDuplicate(ctx, tx, spec.ExternalEventID); err != nil {
		return inventory.Movement{}, err
	}
	if spec.ExecutedAt.IsZero() {
		spec.ExecutedAt = l.now()
	}
	m, err := inventory.NewMovement(spec)
	if err != nil {
		return inventory.Movement{}, err
	}
	if err := tx.InsertMovement(ctx, m); err != nil {
		return inventory.Movement{}, err
	}
	return m, nil
}

func checkDuplicate(ctx context.Context, tx inventory.TxRepository, externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil
	}
	existing, err := tx.MovementByExternalID(ctx, externalID)
	switch {
	case err == nil:
		return fmt.Errorf("wms event %q already recorded as movement %s: %w", externalID, existing.ID, inventory.ErrDuplicateEvent)
	case errors.Is(err, inventory.ErrMovementNotFound):
		return nil
	default:
		return err
	}
}

// TransferBottle moves one bottle. Bottles inside an INTACT case move with
// their case only.
func (l *Ledger) TransferBottle(ctx context.Context, in TransferInput) (inventory.Movement, error) {
	return l.run(ctx, func(ctx context.Context, tx inventory.TxRepository) (inventory.Movement, error) {
		if err := checkDuplicate(ctx, tx, in.ExternalEventID); err != nil {
			return inventory.Movement{}, err
		}
		bottle, err := tx.GetBottleForUpdate(ctx, in.BottleID)
		if err != nil {
			return inventory.Movement{}, err
		}
		if bottle.CaseID != nil {
			c, err := tx.GetCaseForUpdate(ctx, *bottle.CaseID)
			if err != nil {
				return inventory.Movement{}, err
			}
			if c.Intact() {
				return inventory.Movement{}, fmt.Errorf("bottle %s in case %s: %w", bottle.SerialNumber, c.ID, inventory.ErrCaseIntact)
			}
		}
		if _, err := location.RequireActive(ctx, tx, in.To); err != nil {
			return inventory.Movement{}, err
		}
		next, err := bottle.Apply(inventory.Relocate(in.To))
		if err != nil {
			return inventory.Movement{}, err
		}
		to := in.To
		m, err := l.RecordInTx(ctx, tx, l.spec(in.Event, inventory.MovementInternalTransfer, bottle.CurrentLocationID, &to, in.CustodyChanged,
			inventory.BottleItem(bottle.ID, bottle.CaseID)))
		if err != nil {
			return inventory.Movement{}, err
		}
		return m, tx.UpdateBottle(ctx, next)
	})
}

// TransferCase moves an intact case and every non-terminal bottle in it.
func (l *Ledger) TransferCase(ctx context.Context, in CaseTransferInput) (inventory.Movement, error) {
	return l.run(ctx, func(ctx context.Context, tx inventory.TxRepository) (inventory.Movement, error) {
		if err := checkDuplicate(ctx, tx, in.ExternalEventID); err != nil {
			return inventory.Movement{}, err
		}
		c, err := tx.GetCaseForUpdate(ctx, in.CaseID)
		if err != nil {
			return inventory.Movement{}, err
		}
		moved, err := c.Relocate(in.To)
		if err != nil {
			return inventory.Movement{}, err
		}
		if _, err := location.RequireActive(ctx, tx, in.To); err != nil {
			return inventory.Movement{}, err
		}
		bottles, err := tx.ListCaseBottlesForUpdate(ctx, c.ID)
		if err != nil {
			return inventory.Movement{}, err
		}
		caseID := c.ID
		var (
			items   []inventory.ItemSpec
			updates []inventory.Bottle
		)
		for _, b := range bottles {
			if b.State.Terminal() {
				continue
			}
			next, err := b.Apply(inventory.Relocate(in.To))
			if err != nil {
				return inventory.Movement{}, err
			}
			items = append(items, inventory.BottleItem(b.ID, &caseID))
			updates = append(updates, next)
		}
		if len(items) == 0 {
			items = append(items, inventory.ItemSpec{CaseID: &caseID, Quantity: 1})
		}
		to := in.To
		m, err := l.RecordInTx(ctx, tx, l.spec(in.Event, inventory.MovementInternalTransfer, c.CurrentLocationID, &to, in.CustodyChanged, items...))
		if err != nil {
			return inventory.Movement{}, err
		}
		if err := tx.UpdateCase(ctx, moved); err != nil {
			return inventory.Movement{}, err
		}
		for _, b := range updates {
			if err := tx.UpdateBottle(ctx, b); err != nil {
				return inventory.Movement{}, err
			}
		}
		return m, nil
	})
}

// Consume consumes a STORED bottle on the normal path, which requires free
// stock in its allocation. Committed bottles go through the override service.
func (l *Ledger) Consume(ctx context.Context, in ConsumeInput) (inventory.Movement, error) {
	return l.run(ctx, func(ctx context.Context, tx inventory.TxRepository) (inventory.Movement, error) {
		return l.consume(ctx, tx, in, true)
	})
}

// ConsumeInTx consumes a bottle inside tx without the free-stock check.
// Only the override service calls it.
func (l *Ledger) ConsumeInTx(ctx context.Context, tx inventory.TxRepository, in ConsumeInput) (inventory.Movement, error) {
	return l.consume(ctx, tx, in, false)
}

func (l *Ledger) consume(ctx context.Context, tx inventory.TxRepository, in ConsumeInput, checkFree bool) (inventory.Movement, error) {
	typ := in.Type
	if typ == "" {
		typ = inventory.MovementEventConsumption
	}
	if typ != inventory.MovementEventConsumption && typ != inventory.MovementConsumption {
		return inventory.Movement{}, inventory.Invalid("movement_type", "%s is not a consumption type", typ)
	}
	if err := checkDuplicate(ctx, tx, in.ExternalEventID); err != nil {
		return inventory.Movement{}, err
	}
	bottle, err := tx.GetBottleForUpdate(ctx, in.BottleID)
	if err != nil {
		return inventory.Movement{}, err
	}
	next, err := bottle.Apply(inventory.Consume())
	if err != nil {
		return inventory.Movement{}, err
	}
	if typ == inventory.MovementEventConsumption && !bottle.OwnershipType.PermitsEventConsumption() {
		return inventory.Movement{}, fmt.Errorf("bottle %s owned as %s: %w", bottle.SerialNumber, bottle.OwnershipType, inventory.ErrOwnershipForbids)
	}
	if checkFree && l.stock != nil {
		if err := tx.LockAllocation(ctx, bottle.AllocationID); err != nil {
			return inventory.Movement{}, fmt.Errorf("lock allocation %s: %w", bottle.AllocationID, err)
		}
		snap, err := l.stock.SnapshotWith(ctx, tx, bottle.AllocationID)
		if err != nil {
			return inventory.Movement{}, err
		}
		if !snap.HasFreeStock() {
			return inventory.Movement{}, fmt.Errorf("allocation %s stored=%d committed=%d: %w",
				bottle.AllocationID, snap.Stored, snap.Committed, inventory.ErrNoFreeStock)
		}
	}
	m, err := l.RecordInTx(ctx, tx, l.spec(in.Event, typ, bottle.CurrentLocationID, nil, false, inventory.BottleItem(bottle.ID, bottle.CaseID)))
	if err != nil {
		return inventory.Movement{}, err
	}
	return m, tx.UpdateBottle(ctx, next)
}

// Destroy marks a bottle DESTROYED.
func (l *Ledger) Destroy(ctx context.Context, in RemovalInput) (inventory.Movement, error) {
	return l.remove(ctx, in, inventory.MovementDestruction, inventory.Destroy(), false)
}

// MarkMissing marks a bottle MISSING. Custody is no longer known, so the
// movement always records custody_changed.
func (l *Ledger) MarkMissing(ctx context.Context, in RemovalInput) (inventory.Movement, error) {
	return l.remove(ctx, in, inventory.MovementLoss, inventory.Lose(), true)
}

func (l *Ledger) remove(ctx context.Context, in RemovalInput, typ inventory.MovementType, t inventory.Transition, custody bool) (inventory.Movement, error) {
	return l.run(ctx, func(ctx context.Context, tx inventory.TxRepository) (inventory.Movement, error) {
		if err := checkDuplicate(ctx, tx, in.ExternalEventID); err != nil {
			return inventory.Movement{}, err
		}
		bottle, err := tx.GetBottleForUpdate(ctx, in.BottleID)
		if err != nil {
			return inventory.Movement{}, err
		}
		next, err := bottle.Apply(t)
		if err != nil {
			return inventory.Movement{}, err
		}
		m, err := l.RecordInTx(ctx, tx, l.spec(in.Event, typ, bottle.CurrentLocationID, nil, custody, inventory.BottleItem(bottle.ID, bottle.CaseID)))
		if err != nil {
			return inventory.Movement{}, err
		}
		return m, tx.UpdateBottle(ctx, next)
	})
}

// GetMovement returns one movement with its items.
func (l *Ledger) GetMovement(ctx context.Context, id uuid.UUID) (inventory.Movement, error) {
	return l.repo.GetMovement(ctx, id)
}

// BottleHistory lists the movements touching a bottle, oldest first.
func (l *Ledger) BottleHistory(ctx context.Context, bottleID uuid.UUID, limit int) ([]inventory.Movement, error) {
	if bottleID == uuid.Nil {
		return nil, inventory.Invalid("bottle_id", "required")
	}
	return l.repo.ListMovements(ctx, inventory.MovementFilter{BottleID: bottleID, Limit: limit})
}

// CaseHistory lists the movements touching a case, oldest first.
func (l *Ledger) CaseHistory(ctx context.Context, caseID uuid.UUID, limit int) ([]inventory.Movement, error) {
	if caseID == uuid.Nil {
		return nil, inventory.Invalid("case_id", "required")
	}
	return l.repo.ListMovements(ctx, inventory.MovementFilter{CaseID: caseID, Limit: limit})
}

// UpdateMovement always fails: movements are immutable.
func (l *Ledger) UpdateMovement(_ context.Context, m inventory.Movement) error {
	l.logger.Error("attempt to update ledger movement", slog.String("movement_id", m.ID.String()))
	return fmt.Errorf("update movement %s: %w", m.ID, inventory.ErrLedgerImmutable)
}

// DeleteMovement always fails: movements are immutable.
func (l *Ledger) DeleteMovement(_ context.Context, id uuid.UUID) error {
	l.logger.Error("attempt to delete ledger movement", slog.String("movement_id", id.String()))
	return fmt.Errorf("delete movement %s: %w", id, inventory.ErrLedgerImmutable)
}

func (l *Ledger) spec(ev Event, typ inventory.MovementType, source uuid.UUID, dest *uuid.UUID, custody bool, items ...inventory.ItemSpec) inventory.MovementSpec {
	return inventory.MovementSpec{
		Type:            typ,
		Trigger:         ev.Trigger,
		Source:          source,
		Destination:     dest,
		CustodyChanged:  custody,
		Reason:          ev.Reason,
		ExternalEventID: ev.ExternalEventID,
		ExecutedBy:      ev.ActorID,
		ExecutedAt:      l.now(),
		Items:           items,
	}
}

func (l *Ledger) run(ctx context.Context, fn func(context.Context, inventory.TxRepository) (inventory.Movement, error)) (inventory.Movement, error) {
	var out inventory.Movement
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		m, err := fn(ctx, tx)
		out = m
		return err
	})
	if err != nil {
		if errors.Is(err, inventory.ErrInvariant) {
			l.logger.Error("ledger invariant violated", slog.Any("error", err))
		}
		return inventory.Movement{}, err
	}
	l.observe(out)
	return out, nil
}

func (l *Ledger) observe(m inventory.Movement) {
	if l.metrics != nil {
		l.metrics.ObserveMovement(string(m.Type), string(m.Trigger))
	}
}
