package serialization

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/inventory/inventorytest"
)

type mintRecorder struct {
	mu   sync.Mutex
	reqs []inventory.MintRequest
	err  error
}

func (m *mintRecorder) EnqueueMint(_ context.Context, req inventory.MintRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	return m.err
}

func fixedGenerator(suffixes ...string) *SerialGenerator {
	g := NewSerialGenerator("CRU", 3)
	g.now = func() time.Time { return time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC) }
	i := 0
	g.suffix = func() string {
		s := suffixes[i%len(suffixes)]
		i++
		return s
	}
	return g
}

func newEngine(f *inventorytest.Fixture, minter MintDispatcher) *Engine {
	return NewEngine(f.Store, f.Products, nil, Options{Minter: minter, Audit: f.Audit})
}

func TestSerializeBatchCreatesStoredBottles(t *testing.T) {
	f := inventorytest.NewFixture(6)
	minter := &mintRecorder{}
	eng := newEngine(f, minter)

	res, err := eng.SerializeBatch(context.Background(), SerializeInput{BatchID: f.Batch.ID, Quantity: 4, OperatorID: 9})
	require.NoError(t, err)
	require.Len(t, res.Bottles, 4)
	require.Equal(t, inventory.SerializationPartial, res.Batch.SerializationStatus)

	seen := map[string]bool{}
	for _, b := range res.Bottles {
		require.Equal(t, inventory.BottleStored, b.State)
		require.Equal(t, f.Warehouse.ID, b.CurrentLocationID)
		require.Equal(t, f.Batch.AllocationID, b.AllocationID)
		require.Equal(t, f.Batch.ID, b.InboundBatchID)
		require.Equal(t, f.Product.WineVariantID, b.WineVariantID)
		require.Equal(t, f.Product.FormatID, b.FormatID)
		require.Equal(t, int64(9), b.SerializedBy)
		require.True(t, strings.HasPrefix(b.SerialNumber, "CRU-"))
		require.False(t, seen[b.SerialNumber])
		seen[b.SerialNumber] = true
	}

	require.Len(t, res.MintRequests, 4)
	require.Len(t, minter.reqs, 4)
	require.Equal(t, f.Product.Label, minter.reqs[0].ProductLabel)

	batch, err := f.Store.GetBatch(context.Background(), f.Batch.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.SerializationPartial, batch.SerializationStatus)

	res, err = eng.SerializeBatch(context.Background(), SerializeInput{BatchID: f.Batch.ID, Quantity: 2, OperatorID: 9})
	require.NoError(t, err)
	require.Equal(t, inventory.SerializationFull, res.Batch.SerializationStatus)

	_, err = eng.SerializeBatch(context.Background(), SerializeInput{BatchID: f.Batch.ID, Quantity: 1, OperatorID: 9})
	require.ErrorIs(t, err, inventory.ErrBatchNotSerializable)
	require.Len(t, f.Store.Bottles(), 6)
}

func TestSerializeBatchPreconditionsHaveNoEffect(t *testing.T) {
	f := inventorytest.NewFixture(3)
	eng := newEngine(f, nil)
	ctx := context.Background()

	_, err := eng.SerializeBatch(ctx, SerializeInput{BatchID: f.Batch.ID, Quantity: 0, OperatorID: 1})
	require.ErrorIs(t, err, inventory.ErrValidation)

	_, err = eng.SerializeBatch(ctx, SerializeInput{BatchID: f.Batch.ID, Quantity: 4, OperatorID: 1})
	require.ErrorIs(t, err, inventory.ErrValidation)

	unauthorised := f.Warehouse
	unauthorised.SerializationAuthorized = false
	f.Store.PutLocation(unauthorised)
	_, err = eng.SerializeBatch(ctx, SerializeInput{BatchID: f.Batch.ID, Quantity: 1, OperatorID: 1})
	require.ErrorIs(t, err, inventory.ErrLocationNotAuthorized)

	inactive := f.Warehouse
	inactive.Status = inventory.LocationInactive
	f.Store.PutLocation(inactive)
	_, err = eng.SerializeBatch(ctx, SerializeInput{BatchID: f.Batch.ID, Quantity: 1, OperatorID: 1})
	require.ErrorIs(t, err, inventory.ErrLocationNotAuthorized)

	f.Store.PutLocation(f.Warehouse)
	noLineage := f.Batch
	noLineage.AllocationID = uuid.Nil
	f.Store.PutBatch(noLineage)
	_, err = eng.SerializeBatch(ctx, SerializeInput{BatchID: f.Batch.ID, Quantity: 1, OperatorID: 1})
	require.ErrorIs(t, err, inventory.ErrValidation)

	unknown := f.Batch
	unknown.Product = inventory.ProductRef{Kind: inventory.ProductLiquidProduct, ID: uuid.New()}
	f.Store.PutBatch(unknown)
	_, err = eng.SerializeBatch(ctx, SerializeInput{BatchID: f.Batch.ID, Quantity: 1, OperatorID: 1})
	require.ErrorIs(t, err, inventory.ErrNotFound)

	require.Empty(t, f.Store.Bottles())
}

func TestDiscrepancyIsSticky(t *testing.T) {
	f := inventorytest.NewFixture(4)
	eng := newEngine(f, nil)
	ctx := context.Background()

	_, err := eng.SerializeBatch(ctx, SerializeInput{BatchID: f.Batch.ID, Quantity: 2, OperatorID: 1})
	require.NoError(t, err)

	batch, exc, err := eng.FlagDiscrepancy(ctx, f.Batch.ID, 3, "two bottles arrived with broken capsules")
	require.NoError(t, err)
	require.Equal(t, inventory.SerializationDiscrepancy, batch.SerializationStatus)
	require.Equal(t, inventory.ExceptionSerializationDiscrepancy, exc.Type)
	require.Equal(t, f.Batch.ID, *exc.InboundBatchID)

	_, err = eng.SerializeBatch(ctx, SerializeInput{BatchID: f.Batch.ID, Quantity: 1, OperatorID: 1})
	require.ErrorIs(t, err, inventory.ErrBatchDiscrepancy)

	_, _, err = eng.FlagDiscrepancy(ctx, f.Batch.ID, 3, "again")
	require.ErrorIs(t, err, inventory.ErrBatchDiscrepancy)

	batch, err = eng.ResolveDiscrepancy(ctx, f.Batch.ID, 3, "recount done")
	require.NoError(t, err)
	require.Equal(t, inventory.SerializationPartial, batch.SerializationStatus)

	_, err = eng.ResolveDiscrepancy(ctx, f.Batch.ID, 3, "recount done")
	require.ErrorIs(t, err, inventory.ErrPrecondition)
}

func TestDiscrepancySurvivesRecompute(t *testing.T) {
	f := inventorytest.NewFixture(2)
	eng := newEngine(f, nil)
	ctx := context.Background()

	f.StoredBottles(2, f.Warehouse.ID)
	flagged := f.Batch
	flagged.SerializationStatus = inventory.SerializationDiscrepancy
	f.Store.PutBatch(flagged)

	require.Equal(t, inventory.SerializationDiscrepancy, flagged.StatusFor(2))
	_, err := eng.SerializeBatch(ctx, SerializeInput{BatchID: f.Batch.ID, Quantity: 1, OperatorID: 1})
	require.ErrorIs(t, err, inventory.ErrBatchDiscrepancy)

	batch, err := f.Store.GetBatch(ctx, f.Batch.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.SerializationDiscrepancy, batch.SerializationStatus)
}

func TestSerialCollisionRetries(t *testing.T) {
	f := inventorytest.NewFixture(2)
	taken, err := inventory.NewBottle(inventory.BottleSpec{
		SerialNumber:   "CRU-20260203-X",
		Product:        f.Product,
		AllocationID:   f.Batch.AllocationID,
		InboundBatchID: f.Batch.ID,
		LocationID:     f.Warehouse.ID,
		Ownership:      inventory.OwnershipOwned,
	})
	require.NoError(t, err)
	f.Store.PutBottle(taken)

	eng := newEngine(f, nil)
	eng.serials = fixedGenerator("X", "X", "Y")

	res, err := eng.SerializeBatch(context.Background(), SerializeInput{BatchID: f.Batch.ID, Quantity: 1, OperatorID: 1})
	require.NoError(t, err)
	require.Equal(t, "CRU-20260203-Y", res.Bottles[0].SerialNumber)
}

func TestSerialSpaceExhaustionIsFatal(t *testing.T) {
	f := inventorytest.NewFixture(3)
	eng := newEngine(f, nil)
	eng.serials = fixedGenerator("SAME")

	_, err := eng.SerializeBatch(context.Background(), SerializeInput{BatchID: f.Batch.ID, Quantity: 2, OperatorID: 1})
	require.ErrorIs(t, err, inventory.ErrSerialSpace)
	require.ErrorIs(t, err, inventory.ErrInvariant)
	require.Empty(t, f.Store.Bottles())

	batch, err := f.Store.GetBatch(context.Background(), f.Batch.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.SerializationPending, batch.SerializationStatus)
}

func TestMintFailureDoesNotRollBack(t *testing.T) {
	f := inventorytest.NewFixture(2)
	minter := &mintRecorder{err: errors.New("queue down")}
	eng := newEngine(f, minter)

	res, err := eng.SerializeBatch(context.Background(), SerializeInput{BatchID: f.Batch.ID, Quantity: 2, OperatorID: 1})
	require.NoError(t, err)
	require.Len(t, res.MintRequests, 2)
	require.Len(t, f.Store.Bottles(), 2)
}

func TestInsertFailureRollsBackEverything(t *testing.T) {
	f := inventorytest.NewFixture(3)
	eng := newEngine(f, nil)
	calls := 0
	f.Store.FailWhen("InsertBottle", errors.New("constraint"), func(any) bool {
		calls++
		return calls == 3
	})

	_, err := eng.SerializeBatch(context.Background(), SerializeInput{BatchID: f.Batch.ID, Quantity: 3, OperatorID: 1})
	require.Error(t, err)
	require.Empty(t, f.Store.Bottles())
}

func TestCaseGrouping(t *testing.T) {
	f := inventorytest.NewFixture(14)
	eng := newEngine(f, nil)
	cfg := uuid.New()

	res, err := eng.SerializeBatch(context.Background(), SerializeInput{
		BatchID:    f.Batch.ID,
		Quantity:   14,
		OperatorID: 1,
		Grouping:   &CaseGrouping{BottlesPerCase: 6, ConfigurationID: cfg, Breakable: true},
	})
	require.NoError(t, err)
	require.Len(t, res.Cases, 3)
	perCase := map[uuid.UUID]int{}
	for _, b := range res.Bottles {
		require.NotNil(t, b.CaseID)
		perCase[*b.CaseID]++
	}
	require.Equal(t, 6, perCase[res.Cases[0].ID])
	require.Equal(t, 6, perCase[res.Cases[1].ID])
	require.Equal(t, 2, perCase[res.Cases[2].ID])
	for _, c := range res.Cases {
		require.Equal(t, inventory.CaseIntact, c.IntegrityStatus)
		require.Equal(t, f.Batch.AllocationID, c.AllocationID)
		require.Equal(t, cfg, c.ConfigurationID)
	}
}

func TestRegisterBatch(t *testing.T) {
	f := inventorytest.NewFixture(1)
	eng := newEngine(f, nil)
	ctx := context.Background()

	batch, err := eng.RegisterBatch(ctx, RegisterBatchInput{
		Product:          f.Product.Ref,
		AllocationID:     uuid.New(),
		QuantityExpected: 12,
		QuantityReceived: 13,
		LocationID:       f.Warehouse.ID,
		ActorID:          2,
	})
	require.NoError(t, err)
	require.Equal(t, inventory.SerializationPending, batch.SerializationStatus)
	require.Equal(t, inventory.OwnershipOwned, batch.OwnershipType)

	stored, err := f.Store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, batch.AllocationID, stored.AllocationID)

	_, err = eng.RegisterBatch(ctx, RegisterBatchInput{Product: f.Product.Ref, AllocationID: uuid.New(), QuantityReceived: 0, LocationID: f.Warehouse.ID, ActorID: 2})
	require.ErrorIs(t, err, inventory.ErrValidation)

	_, err = eng.RegisterBatch(ctx, RegisterBatchInput{Product: f.Product.Ref, AllocationID: uuid.New(), QuantityReceived: 1, LocationID: f.Warehouse.ID, ActorID: 2, Ownership: "BORROWED"})
	require.ErrorIs(t, err, inventory.ErrValidation)

	_, err = eng.RegisterBatch(ctx, RegisterBatchInput{Product: f.Product.Ref, AllocationID: uuid.New(), QuantityReceived: 1, LocationID: uuid.New(), ActorID: 2})
	require.ErrorIs(t, err, inventory.ErrLocationNotFound)
}

func TestFlagMisSerialized(t *testing.T) {
	f := inventorytest.NewFixture(6)
	minter := &mintRecorder{}
	eng := newEngine(f, minter)
	ctx := context.Background()
	c, bottles := f.CaseOf(6, f.Warehouse.ID, true)
	original := bottles[2]

	corr, err := eng.FlagMisSerialized(ctx, original.ID, 4, "label printed with wrong vintage")
	require.NoError(t, err)
	require.Equal(t, inventory.BottleMisSerialized, corr.Original.State)
	require.Equal(t, corr.Replacement.ID, *corr.Original.CorrectionReference)
	require.Equal(t, original.SerialNumber, corr.Original.SerialNumber)

	require.NotEqual(t, original.SerialNumber, corr.Replacement.SerialNumber)
	require.Equal(t, inventory.BottleStored, corr.Replacement.State)
	require.Equal(t, original.AllocationID, corr.Replacement.AllocationID)
	require.Equal(t, original.InboundBatchID, corr.Replacement.InboundBatchID)
	require.Equal(t, c.ID, *corr.Replacement.CaseID)

	require.Equal(t, inventory.MovementSerialCorrection, corr.Movement.Type)
	require.True(t, corr.Movement.Touches(original.ID))
	require.True(t, corr.Movement.Touches(corr.Replacement.ID))
	require.Equal(t, inventory.ExceptionMisSerialization, corr.Exception.Type)
	require.Contains(t, corr.Exception.Reason, original.SerialNumber)

	require.Len(t, minter.reqs, 1)
	require.Equal(t, corr.Replacement.ID, minter.reqs[0].BottleID)

	err = f.Store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		n, err := tx.CountSerialized(ctx, f.Batch.ID)
		require.Equal(t, 6, n)
		return err
	})
	require.NoError(t, err)

	_, err = eng.FlagMisSerialized(ctx, original.ID, 4, "again")
	require.ErrorIs(t, err, inventory.ErrBottleTerminal)
}
