package commitment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/inventory/inventorytest"
)

func TestFreeQuantity(t *testing.T) {
	f := inventorytest.NewFixture(5)
	calc := NewCalculator(f.Store, f.Vouchers)
	ctx := context.Background()
	alloc := f.Batch.AllocationID

	f.StoredBottles(3, f.Warehouse.ID)
	f.Vouchers.Add(alloc, inventory.VoucherIssued, 1)
	f.Vouchers.Add(alloc, inventory.VoucherLocked, 1)
	f.Vouchers.Add(alloc, inventory.VoucherRedeemed, 4)
	f.Vouchers.Add(alloc, inventory.VoucherCancelled, 2)

	committed, err := calc.CommittedQuantity(ctx, alloc)
	require.NoError(t, err)
	require.Equal(t, 2, committed)

	free, err := calc.FreeQuantity(ctx, alloc)
	require.NoError(t, err)
	require.Equal(t, 1, free)
}

func TestOversoldIsNegativeNotError(t *testing.T) {
	f := inventorytest.NewFixture(1)
	calc := NewCalculator(f.Store, f.Vouchers)
	alloc := f.Batch.AllocationID

	bottles := f.StoredBottles(1, f.Warehouse.ID)
	f.Vouchers.Add(alloc, inventory.VoucherIssued, 3)

	snap, err := calc.Snapshot(context.Background(), alloc)
	require.NoError(t, err)
	require.Equal(t, Snapshot{AllocationID: alloc, Stored: 1, Committed: 3, Free: -2}, snap)
	require.False(t, snap.HasFreeStock())
	require.True(t, IsCommitted(bottles[0], snap))

	ok, err := calc.CanConsume(context.Background(), bottles[0])
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCanConsume(t *testing.T) {
	f := inventorytest.NewFixture(2)
	calc := NewCalculator(f.Store, f.Vouchers)
	ctx := context.Background()

	bottles := f.StoredBottles(2, f.Warehouse.ID)
	ok, err := calc.CanConsume(ctx, bottles[0])
	require.NoError(t, err)
	require.True(t, ok)

	consignment := bottles[1]
	consignment.OwnershipType = inventory.OwnershipConsignment
	ok, err = calc.CanConsume(ctx, consignment)
	require.NoError(t, err)
	require.False(t, ok)

	reserved := bottles[0]
	reserved.State = inventory.BottleReservedForPicking
	ok, err = calc.CanConsume(ctx, reserved)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoredCountIgnoresOtherStates(t *testing.T) {
	f := inventorytest.NewFixture(3)
	calc := NewCalculator(f.Store, f.Vouchers)
	bottles := f.StoredBottles(3, f.Warehouse.ID)

	gone, err := bottles[0].Apply(inventory.Consume())
	require.NoError(t, err)
	f.Store.PutBottle(gone)

	snap, err := calc.Snapshot(context.Background(), f.Batch.AllocationID)
	require.NoError(t, err)
	require.Equal(t, 2, snap.Stored)
	require.Equal(t, 2, snap.Free)
}

func TestCommittedRequiresAllocation(t *testing.T) {
	calc := NewCalculator(inventorytest.NewStore(), inventorytest.NewVouchers())
	_, err := calc.CommittedQuantity(context.Background(), uuid.Nil)
	require.ErrorIs(t, err, inventory.ErrValidation)
}
