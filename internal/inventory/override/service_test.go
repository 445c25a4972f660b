package override

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/inventory/commitment"
	"github.com/odyssey-erp/cellar/internal/inventory/inventorytest"
	"github.com/odyssey-erp/cellar/internal/inventory/ledger"
)

const (
	operator      = int64(42)
	justification = "Sommelier tasting for press"
)

type overrideCounter struct {
	consumed, failed int
}

func (c *overrideCounter) ObserveOverride(consumed, failed int) {
	c.consumed += consumed
	c.failed += failed
}

type harness struct {
	f       *inventorytest.Fixture
	svc     *Service
	metrics *overrideCounter
}

// newHarness stores n bottles at the warehouse, all committed to vouchers.
func newHarness(n int) (*harness, []inventory.Bottle) {
	f := inventorytest.NewFixture(n)
	bottles := f.StoredBottles(n, f.Warehouse.ID)
	f.Vouchers.Add(f.Batch.AllocationID, inventory.VoucherIssued, n)
	f.Permissions.Grant(operator, DefaultPermission)
	calc := commitment.NewCalculator(f.Store, f.Vouchers)
	led := ledger.New(f.Store, calc, ledger.Options{})
	metrics := &overrideCounter{}
	svc := NewService(f.Store, calc, led, f.Permissions, Options{Audit: f.Audit, Metrics: metrics})
	return &harness{f: f, svc: svc, metrics: metrics}, bottles
}

func TestOverrideConsumesCommittedBottle(t *testing.T) {
	h, bottles := newHarness(1)
	ctx := context.Background()
	require.Len(t, []rune(justification), 27)

	res, err := h.svc.ExecuteOverride(ctx, Input{
		ActorID:       operator,
		Justification: justification,
		BottleIDs:     []uuid.UUID{bottles[0].ID},
		Reason:        "press launch",
		Notes:         "approved verbally by head of sales",
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.ConsumedCount)
	require.Len(t, res.Exceptions, 1)
	require.Len(t, res.Movements, 1)
	require.Empty(t, res.Errors)

	exc := res.Exceptions[0]
	require.Equal(t, inventory.ExceptionCommittedOverride, exc.Type)
	require.NotNil(t, exc.InboundBatchID)
	require.Equal(t, bottles[0].InboundBatchID, *exc.InboundBatchID)
	require.Equal(t, bottles[0].ID, *exc.BottleID)
	require.False(t, exc.Resolved())
	require.Contains(t, exc.Reason, bottles[0].SerialNumber)
	require.Contains(t, exc.Reason, bottles[0].AllocationID.String())
	require.Contains(t, exc.Reason, "stored=1 committed=1 free=0")
	require.Contains(t, exc.Reason, "justification: "+justification)
	require.Contains(t, exc.Reason, "approved verbally")

	m := res.Movements[0]
	require.Equal(t, inventory.MovementEventConsumption, m.Type)
	require.Contains(t, m.Reason, exc.ID.String())

	require.Len(t, h.f.Store.Exceptions(), 1)
	require.Len(t, h.f.Store.Movements(), 1)
	stored, err := h.f.Store.GetBottle(ctx, bottles[0].ID)
	require.NoError(t, err)
	require.Equal(t, inventory.BottleConsumed, stored.State)

	require.Len(t, h.f.Audit.Logs(), 1)
	require.Equal(t, 1, h.metrics.consumed)
}

func TestOverrideGatesHaveNoSideEffects(t *testing.T) {
	h, bottles := newHarness(2)
	ctx := context.Background()
	ids := []uuid.UUID{bottles[0].ID}

	cases := []struct {
		name string
		in   Input
		want error
	}{
		{"short justification", Input{ActorID: operator, Justification: "because", BottleIDs: ids, Reason: "tasting"}, inventory.ErrValidation},
		{"blank justification", Input{ActorID: operator, Justification: "                         ", BottleIDs: ids, Reason: "tasting"}, inventory.ErrValidation},
		{"no permission", Input{ActorID: 7, Justification: justification, BottleIDs: ids, Reason: "tasting"}, inventory.ErrPermissionDenied},
		{"no bottles", Input{ActorID: operator, Justification: justification, Reason: "tasting"}, inventory.ErrValidation},
		{"duplicate bottles", Input{ActorID: operator, Justification: justification, BottleIDs: []uuid.UUID{ids[0], ids[0]}, Reason: "tasting"}, inventory.ErrValidation},
		{"no reason", Input{ActorID: operator, Justification: justification, BottleIDs: ids}, inventory.ErrValidation},
		{"unknown bottle", Input{ActorID: operator, Justification: justification, BottleIDs: []uuid.UUID{uuid.New()}, Reason: "tasting"}, inventory.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.ExecuteOverride(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Empty(t, h.f.Store.Exceptions())
	require.Empty(t, h.f.Store.Movements())
	require.Empty(t, h.f.Audit.Logs())
}

func TestOverrideRefusesUncommittedBottles(t *testing.T) {
	f := inventorytest.NewFixture(3)
	bottles := f.StoredBottles(3, f.Warehouse.ID)
	f.Vouchers.Add(f.Batch.AllocationID, inventory.VoucherLocked, 2)
	f.Vouchers.Add(f.Batch.AllocationID, inventory.VoucherRedeemed, 5)
	f.Permissions.Grant(operator, DefaultPermission)
	calc := commitment.NewCalculator(f.Store, f.Vouchers)
	svc := NewService(f.Store, calc, ledger.New(f.Store, calc, ledger.Options{}), f.Permissions, Options{})

	_, err := svc.ExecuteOverride(context.Background(), Input{
		ActorID:       operator,
		Justification: justification,
		BottleIDs:     []uuid.UUID{bottles[0].ID, bottles[1].ID},
		Reason:        "tasting",
	})
	require.ErrorIs(t, err, inventory.ErrNotCommitted)
	require.Empty(t, f.Store.Exceptions())
	require.Empty(t, f.Store.Movements())
}

func TestOverrideRefusesBottlesNotStored(t *testing.T) {
	h, bottles := newHarness(2)
	ctx := context.Background()
	reserved, err := bottles[1].Apply(inventory.ReserveForPicking())
	require.NoError(t, err)
	h.f.Store.PutBottle(reserved)

	_, err = h.svc.ExecuteOverride(ctx, Input{
		ActorID:       operator,
		Justification: justification,
		BottleIDs:     []uuid.UUID{bottles[0].ID, bottles[1].ID},
		Reason:        "tasting",
	})
	require.ErrorIs(t, err, inventory.ErrNotCommitted)
	require.Empty(t, h.f.Store.Exceptions())
}

func TestOverridePartialFailureKeepsExceptions(t *testing.T) {
	h, bottles := newHarness(3)
	ctx := context.Background()
	broken := bottles[1].ID
	h.f.Store.FailWhen("InsertMovement", errors.New("disk full"), func(arg any) bool {
		return arg.(inventory.Movement).Touches(broken)
	})

	res, err := h.svc.ExecuteOverride(ctx, Input{
		ActorID:       operator,
		Justification: justification,
		BottleIDs:     []uuid.UUID{bottles[0].ID, bottles[1].ID, bottles[2].ID},
		Reason:        "press launch",
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.ConsumedCount)
	require.Len(t, res.Exceptions, 3)
	require.Len(t, res.Movements, 2)
	require.Len(t, res.Errors, 1)
	require.Equal(t, broken, res.Errors[0].BottleID)

	require.Len(t, h.f.Store.Exceptions(), 3)
	require.Len(t, h.f.Store.Movements(), 2)
	stored, err := h.f.Store.GetBottle(ctx, broken)
	require.NoError(t, err)
	require.Equal(t, inventory.BottleStored, stored.State)
	require.Equal(t, 2, h.metrics.consumed)
	require.Equal(t, 1, h.metrics.failed)
}

func TestOverrideZeroSuccessRollsBack(t *testing.T) {
	h, bottles := newHarness(2)
	ctx := context.Background()
	h.f.Store.FailOn("InsertMovement", errors.New("ledger unavailable"))

	res, err := h.svc.ExecuteOverride(ctx, Input{
		ActorID:       operator,
		Justification: justification,
		BottleIDs:     []uuid.UUID{bottles[0].ID, bottles[1].ID},
		Reason:        "press launch",
	})
	require.ErrorIs(t, err, inventory.ErrOverrideFailed)
	require.Contains(t, err.Error(), "ledger unavailable")
	require.Len(t, res.Errors, 2)
	require.Zero(t, res.ConsumedCount)

	require.Empty(t, h.f.Store.Exceptions())
	require.Empty(t, h.f.Store.Movements())
	for _, b := range bottles {
		stored, err := h.f.Store.GetBottle(ctx, b.ID)
		require.NoError(t, err)
		require.Equal(t, inventory.BottleStored, stored.State)
	}
	require.Empty(t, h.f.Audit.Logs())
}

func TestOverrideOwnershipFailureIsPerBottle(t *testing.T) {
	h, bottles := newHarness(2)
	ctx := context.Background()
	consigned := bottles[0]
	consigned.OwnershipType = inventory.OwnershipConsignment
	h.f.Store.PutBottle(consigned)

	res, err := h.svc.ExecuteOverride(ctx, Input{
		ActorID:       operator,
		Justification: justification,
		BottleIDs:     []uuid.UUID{bottles[0].ID, bottles[1].ID},
		Reason:        "press launch",
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.ConsumedCount)
	require.Len(t, res.Errors, 1)
	require.ErrorIs(t, res.Errors[0], inventory.ErrOwnershipForbids)
}

func TestOverrideLockConflictWritesNothing(t *testing.T) {
	h, bottles := newHarness(2)
	conflict := errors.New("could not serialize access due to concurrent update")
	h.f.Store.FailOn("LockAllocation", conflict)

	_, err := h.svc.ExecuteOverride(context.Background(), Input{
		ActorID:       operator,
		Justification: justification,
		BottleIDs:     []uuid.UUID{bottles[0].ID, bottles[1].ID},
		Reason:        "press launch",
	})
	require.ErrorIs(t, err, conflict)
	require.Empty(t, h.f.Store.Exceptions())
	require.Empty(t, h.f.Store.Movements())
	require.Equal(t, []uuid.UUID{h.f.Batch.AllocationID}, h.f.Store.AllocationLocks())
}

func TestJustificationLengthNormalises(t *testing.T) {
	composed := "Caf\u00e9"
	decomposed := "Cafe\u0301"
	require.NotEqual(t, composed, decomposed)
	require.Equal(t, 4, JustificationLength(composed))
	require.Equal(t, 4, JustificationLength(decomposed))
	require.Equal(t, 4, JustificationLength("  "+composed+"\n"))

	h, bottles := newHarness(1)
	_, err := h.svc.ExecuteOverride(context.Background(), Input{
		ActorID:       operator,
		Justification: strings.Repeat("e\u0301", 19),
		BottleIDs:     []uuid.UUID{bottles[0].ID},
		Reason:        "tasting",
	})
	require.ErrorIs(t, err, inventory.ErrValidation)
	require.Empty(t, h.f.Store.Exceptions())
}
