package location

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/inventory/inventorytest"
)

func TestCreateAndToggle(t *testing.T) {
	store := inventorytest.NewStore()
	audit := &inventorytest.Audit{}
	reg := NewRegistry(store, audit, nil)
	ctx := context.Background()

	loc, err := reg.Create(ctx, 5, CreateInput{Name: " Cellar A ", Type: inventory.LocationWarehouse, Country: "fr", SerializationAuthorized: true})
	require.NoError(t, err)
	require.Equal(t, "Cellar A", loc.Name)
	require.Equal(t, "FR", loc.Country)
	require.True(t, loc.CanSerialize())

	loc, err = reg.Deactivate(ctx, 5, loc.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.LocationInactive, loc.Status)
	require.False(t, loc.CanSerialize())

	loc, err = reg.Activate(ctx, 5, loc.ID)
	require.NoError(t, err)
	loc, err = reg.SetSerializationAuthorized(ctx, 5, loc.ID, false)
	require.NoError(t, err)
	require.False(t, loc.CanSerialize())

	stored, err := reg.Get(ctx, loc.ID)
	require.NoError(t, err)
	require.Equal(t, loc, stored)

	logs := audit.Logs()
	require.Len(t, logs, 4)
	require.Equal(t, "location:revoke_serialization", logs[3].Action)
}

func TestCreateValidation(t *testing.T) {
	reg := NewRegistry(inventorytest.NewStore(), nil, nil)
	ctx := context.Background()

	_, err := reg.Create(ctx, 1, CreateInput{Type: inventory.LocationWarehouse, Country: "GB"})
	require.ErrorIs(t, err, inventory.ErrValidation)
	_, err = reg.Create(ctx, 1, CreateInput{Name: "X", Type: "CASTLE", Country: "GB"})
	require.ErrorIs(t, err, inventory.ErrValidation)
	_, err = reg.Create(ctx, 1, CreateInput{Name: "X", Type: inventory.LocationWarehouse, Country: "GBR"})
	require.ErrorIs(t, err, inventory.ErrValidation)
}

func TestUpdateUnknownLocation(t *testing.T) {
	reg := NewRegistry(inventorytest.NewStore(), nil, nil)
	_, err := reg.Deactivate(context.Background(), 1, uuid.New())
	require.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestRequireSerializable(t *testing.T) {
	f := inventorytest.NewFixture(1)
	ctx := context.Background()

	err := f.Store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		_, err := RequireSerializable(ctx, tx, f.Warehouse.ID)
		require.NoError(t, err)

		_, err = RequireSerializable(ctx, tx, f.Venue.ID)
		require.ErrorIs(t, err, inventory.ErrLocationNotAuthorized)

		_, err = RequireActive(ctx, tx, f.Venue.ID)
		require.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
}
