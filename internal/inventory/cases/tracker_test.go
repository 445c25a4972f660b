package cases

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/inventory/inventorytest"
)

func TestBreakCase(t *testing.T) {
	f := inventorytest.NewFixture(6)
	tracker := NewTracker(f.Store, f.Audit, nil)
	ctx := context.Background()
	c, bottles := f.CaseOf(6, f.Warehouse.ID, true)

	broken, err := tracker.BreakCase(ctx, c.ID, 11, "single bottles for retail")
	require.NoError(t, err)
	require.Equal(t, inventory.CaseBroken, broken.IntegrityStatus)
	require.Equal(t, int64(11), *broken.BrokenBy)

	stored, err := tracker.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.CaseBroken, stored.IntegrityStatus)
	require.Empty(t, f.Store.Movements())

	contents, err := tracker.Contents(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, contents, len(bottles))

	logs := f.Audit.Logs()
	require.Len(t, logs, 1)
	require.Equal(t, AuditAction, logs[0].Action)
	require.Equal(t, c.ID.String(), logs[0].EntityID)

	_, err = tracker.BreakCase(ctx, c.ID, 11, "again")
	require.ErrorIs(t, err, inventory.ErrCaseAlreadyBroken)
}

func TestBreakCasePreconditions(t *testing.T) {
	f := inventorytest.NewFixture(2)
	tracker := NewTracker(f.Store, nil, nil)
	ctx := context.Background()

	sealed, _ := f.CaseOf(1, f.Warehouse.ID, false)
	_, err := tracker.BreakCase(ctx, sealed.ID, 1, "want to open")
	require.ErrorIs(t, err, inventory.ErrCaseNotBreakable)

	open, _ := f.CaseOf(1, f.Warehouse.ID, true)
	_, err = tracker.BreakCase(ctx, open.ID, 1, "")
	require.ErrorIs(t, err, inventory.ErrValidation)

	_, err = tracker.BreakCase(ctx, uuid.New(), 1, "ghost")
	require.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestBrokenCaseNeverReverts(t *testing.T) {
	f := inventorytest.NewFixture(1)
	tracker := NewTracker(f.Store, nil, nil)
	ctx := context.Background()
	c, _ := f.CaseOf(1, f.Warehouse.ID, true)

	broken, err := tracker.BreakCase(ctx, c.ID, 1, "opened")
	require.NoError(t, err)

	err = f.Store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		revert := broken
		revert.IntegrityStatus = inventory.CaseIntact
		revert.BrokenAt = nil
		revert.BrokenBy = nil
		revert.BrokenReason = ""
		return tx.UpdateCase(ctx, revert)
	})
	require.ErrorIs(t, err, inventory.ErrCaseUnbreakable)

	stored, err := tracker.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.CaseBroken, stored.IntegrityStatus)
}
