package wms

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/inventory/commitment"
	"github.com/odyssey-erp/cellar/internal/inventory/inventorytest"
	"github.com/odyssey-erp/cellar/internal/inventory/ledger"
)

type eventCounter map[string]int

func (c eventCounter) ObserveWMSEvent(kind, outcome string) {
	c[kind+"/"+outcome]++
}

func newIngestor(t *testing.T, f *inventorytest.Fixture) (*Ingestor, *miniredis.Miniredis, eventCounter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	led := ledger.New(f.Store, commitment.NewCalculator(f.Store, f.Vouchers), ledger.Options{})
	counter := eventCounter{}
	return NewIngestor(led, f.Store, NewSeenCache(client, time.Hour), counter, nil), mr, counter
}

func TestIngestTransferAndReplay(t *testing.T) {
	f := inventorytest.NewFixture(1)
	bottle := f.StoredBottles(1, f.Warehouse.ID)[0]
	ing, mr, counter := newIngestor(t, f)
	ctx := context.Background()

	ev := Event{
		EventID:        "wms-2026-000001",
		Kind:           KindTransfer,
		BottleID:       bottle.ID.String(),
		To:             f.Venue.ID.String(),
		CustodyChanged: true,
		Reason:         "dispatch to tasting room",
	}
	out, err := ing.Ingest(ctx, ev)
	require.NoError(t, err)
	require.False(t, out.Duplicate)
	require.Equal(t, inventory.TriggerWmsEvent, out.Movement.Trigger)
	require.Equal(t, "wms-2026-000001", *out.Movement.WmsEventID)
	require.True(t, mr.Exists(seenKeyPrefix+"wms-2026-000001"))

	out, err = ing.Ingest(ctx, ev)
	require.NoError(t, err)
	require.True(t, out.Duplicate)
	require.Len(t, f.Store.Movements(), 1)
	require.Equal(t, 1, counter["transfer/applied"])
	require.Equal(t, 1, counter["transfer/duplicate"])

	moved, err := f.Store.GetBottle(ctx, bottle.ID)
	require.NoError(t, err)
	require.Equal(t, f.Venue.ID, moved.CurrentLocationID)
}

func TestReplayDetectedByLedgerWhenCacheIsCold(t *testing.T) {
	f := inventorytest.NewFixture(1)
	bottle := f.StoredBottles(1, f.Warehouse.ID)[0]
	ing, mr, counter := newIngestor(t, f)
	ctx := context.Background()

	ev := Event{EventID: "wms-77", Kind: KindMissing, BottleID: bottle.ID.String()}
	_, err := ing.Ingest(ctx, ev)
	require.NoError(t, err)

	mr.FlushAll()
	out, err := ing.Ingest(ctx, ev)
	require.NoError(t, err)
	require.True(t, out.Duplicate)
	require.Len(t, f.Store.Movements(), 1)
	require.Equal(t, 1, counter["missing/duplicate"])
	require.True(t, mr.Exists(seenKeyPrefix+"wms-77"))
}

func TestIngestWorksWithoutRedis(t *testing.T) {
	f := inventorytest.NewFixture(1)
	bottle := f.StoredBottles(1, f.Warehouse.ID)[0]
	led := ledger.New(f.Store, commitment.NewCalculator(f.Store, f.Vouchers), ledger.Options{})
	ing := NewIngestor(led, f.Store, nil, nil, nil)
	ctx := context.Background()

	ev := Event{EventID: "wms-1", Kind: KindDestruction, Serial: bottle.SerialNumber, Reason: "dropped"}
	out, err := ing.Ingest(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, inventory.MovementDestruction, out.Movement.Type)

	out, err = ing.Ingest(ctx, ev)
	require.NoError(t, err)
	require.True(t, out.Duplicate)
}

func TestIngestCaseTransfer(t *testing.T) {
	f := inventorytest.NewFixture(6)
	c, bottles := f.CaseOf(6, f.Warehouse.ID, true)
	ing, _, _ := newIngestor(t, f)

	out, err := ing.Ingest(context.Background(), Event{
		EventID: "wms-case-1",
		Kind:    KindTransfer,
		CaseID:  c.ID.String(),
		To:      f.Venue.ID.String(),
	})
	require.NoError(t, err)
	require.Len(t, out.Movement.Items, len(bottles))
	for _, it := range out.Movement.Items {
		require.Equal(t, c.ID, *it.CaseID)
	}
}

func TestIngestConsumptionRespectsCommitments(t *testing.T) {
	f := inventorytest.NewFixture(1)
	bottle := f.StoredBottles(1, f.Warehouse.ID)[0]
	f.Vouchers.Add(f.Batch.AllocationID, inventory.VoucherIssued, 1)
	ing, mr, counter := newIngestor(t, f)

	_, err := ing.Ingest(context.Background(), Event{EventID: "wms-pour-1", Kind: KindEventConsumption, BottleID: bottle.ID.String()})
	require.ErrorIs(t, err, inventory.ErrNoFreeStock)
	require.Empty(t, f.Store.Movements())
	require.False(t, mr.Exists(seenKeyPrefix+"wms-pour-1"))
	require.Equal(t, 1, counter["event_consumption/rejected"])
}

func TestIngestValidation(t *testing.T) {
	f := inventorytest.NewFixture(1)
	ing, _, _ := newIngestor(t, f)
	ctx := context.Background()
	id := uuid.NewString()

	cases := []struct {
		name  string
		ev    Event
		field string
	}{
		{"missing id", Event{Kind: KindMissing, BottleID: id}, "event_id"},
		{"unknown kind", Event{EventID: "e1", Kind: "teleport", BottleID: id}, "kind"},
		{"transfer without destination", Event{EventID: "e2", Kind: KindTransfer, BottleID: id}, "to_location_id"},
		{"bad bottle id", Event{EventID: "e3", Kind: KindMissing, BottleID: "bottle-7"}, "bottle_id"},
		{"no bottle", Event{EventID: "e4", Kind: KindMissing}, "bottle_id"},
		{"case outside transfer", Event{EventID: "e5", Kind: KindDestruction, CaseID: id}, "case_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ing.Ingest(ctx, tc.ev)
			require.ErrorIs(t, err, inventory.ErrValidation)
			var fe *inventory.FieldError
			require.ErrorAs(t, err, &fe)
			require.Equal(t, tc.field, fe.Field)
		})
	}
}

func TestIngestAllContinuesPastFailures(t *testing.T) {
	f := inventorytest.NewFixture(2)
	bottles := f.StoredBottles(2, f.Warehouse.ID)
	ing, _, _ := newIngestor(t, f)

	results := ing.IngestAll(context.Background(), []Event{
		{EventID: "a", Kind: KindMissing, BottleID: bottles[0].ID.String()},
		{EventID: "b", Kind: KindMissing, BottleID: uuid.NewString()},
		{EventID: "a", Kind: KindMissing, BottleID: bottles[0].ID.String()},
		{EventID: "c", Kind: KindConsumption, BottleID: bottles[1].ID.String()},
	})
	require.Len(t, results, 4)
	require.NoError(t, results[0].Err)
	require.ErrorIs(t, results[1].Err, inventory.ErrNotFound)
	require.NoError(t, results[2].Err)
	require.True(t, results[2].Duplicate)
	require.NoError(t, results[3].Err)
	require.Equal(t, inventory.MovementConsumption, results[3].Movement.Type)
	require.Len(t, f.Store.Movements(), 2)
}

func TestSeenCacheMarkOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewSeenCache(client, time.Minute)
	ctx := context.Background()

	first, err := cache.Mark(ctx, "evt")
	require.NoError(t, err)
	require.True(t, first)
	again, err := cache.Mark(ctx, "evt")
	require.NoError(t, err)
	require.False(t, again)

	seen, err := cache.Seen(ctx, "evt")
	require.NoError(t, err)
	require.True(t, seen)

	mr.FastForward(2 * time.Minute)
	seen, err = cache.Seen(ctx, "evt")
	require.NoError(t, err)
	require.False(t, seen)

	var disabled *SeenCache
	seen, err = disabled.Seen(ctx, "evt")
	require.NoError(t, err)
	require.False(t, seen)
}
