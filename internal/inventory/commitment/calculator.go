// Package commitment derives committed and free stock per allocation from
// current bottle states and voucher states. Nothing here is persisted; every
// call recomputes from live data.
package commitment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/cellar/internal/inventory"
)

// StoredCounter counts STORED bottles of an allocation. Both
// inventory.RepositoryPort and inventory.TxRepository satisfy it, so the same
// derivation runs inside or outside a transaction.
type StoredCounter interface {
	CountStoredBottles(ctx context.Context, allocationID uuid.UUID) (int, error)
}

// Snapshot is the stock position of one allocation at a point in time.
type Snapshot struct {
	AllocationID uuid.UUID `json:"allocation_id"`
	Stored       int       `json:"stored"`
	Committed    int       `json:"committed"`
	Free         int       `json:"free"`
}

// HasFreeStock reports whether at least one bottle is uncommitted. A negative
// Free means oversold and counts as no free stock.
func (s Snapshot) HasFreeStock() bool {
	return s.Free > 0
}

// Calculator computes commitment figures.
type Calculator struct {
	stored   StoredCounter
	vouchers inventory.VoucherReader
}

// NewCalculator builds Calculator.
func NewCalculator(stored StoredCounter, vouchers inventory.VoucherReader) *Calculator {
	return &Calculator{stored: stored, vouchers: vouchers}
}

// CommittedQuantity counts ISSUED and LOCKED vouchers of the allocation.
func (c *Calculator) CommittedQuantity(ctx context.Context, allocationID uuid.UUID) (int, error) {
	if allocationID == uuid.Nil {
		return 0, inventory.Invalid("allocation_id", "required")
	}
	n, err := c.vouchers.CountVouchers(ctx, allocationID, inventory.CommittingVoucherStates())
	if err != nil {
		return 0, fmt.Errorf("count vouchers: %w", err)
	}
	return n, nil
}

// FreeQuantity is STORED bottles minus committed vouchers. It may be negative.
func (c *Calculator) FreeQuantity(ctx context.Context, allocationID uuid.UUID) (int, error) {
	snap, err := c.Snapshot(ctx, allocationID)
	if err != nil {
		return 0, err
	}
	return snap.Free, nil
}

// Snapshot returns stored, committed and free figures for the allocation.
func (c *Calculator) Snapshot(ctx context.Context, allocationID uuid.UUID) (Snapshot, error) {
	return c.SnapshotWith(ctx, c.stored, allocationID)
}

// SnapshotWith is Snapshot counting bottles through counter, typically the
// caller's open transaction.
func (c *Calculator) SnapshotWith(ctx context.Context, counter StoredCounter, allocationID uuid.UUID) (Snapshot, error) {
	committed, err := c.CommittedQuantity(ctx, allocationID)
	if err != nil {
		return Snapshot{}, err
	}
	stored, err := counter.CountStoredBottles(ctx, allocationID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count stored bottles: %w", err)
	}
	return Snapshot{
		AllocationID: allocationID,
		Stored:       stored,
		Committed:    committed,
		Free:         stored - committed,
	}, nil
}

// CanConsume reports whether b may be consumed on the normal path: it is
// STORED, its ownership permits event consumption and its allocation has
// free stock.
func (c *Calculator) CanConsume(ctx context.Context, b inventory.Bottle) (bool, error) {
	if b.State != inventory.BottleStored || !b.OwnershipType.PermitsEventConsumption() {
		return false, nil
	}
	snap, err := c.Snapshot(ctx, b.AllocationID)
	if err != nil {
		return false, err
	}
	return snap.HasFreeStock(), nil
}

// IsCommitted reports whether b is held against a customer promise: it is
// STORED and its allocation has no free stock.
func IsCommitted(b inventory.Bottle, snap Snapshot) bool {
	return b.State == inventory.BottleStored && !snap.HasFreeStock()
}
