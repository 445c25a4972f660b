package inventory

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewMovementDerivesTrigger(t *testing.T) {
	src, dst := uuid.New(), uuid.New()
	bottle := uuid.New()

	m, err := NewMovement(MovementSpec{
		Type:        MovementInternalTransfer,
		Source:      src,
		Destination: &dst,
		ExecutedBy:  3,
		Items:       []ItemSpec{BottleItem(bottle, nil)},
	})
	require.NoError(t, err)
	require.Equal(t, TriggerErpOperator, m.Trigger)
	require.Nil(t, m.WmsEventID)
	require.Len(t, m.Items, 1)
	require.Equal(t, m.ID, m.Items[0].MovementID)
	require.Equal(t, 1, m.Items[0].Quantity)
	require.True(t, m.Touches(bottle))

	m, err = NewMovement(MovementSpec{
		Type:            MovementLoss,
		Source:          src,
		ExternalEventID: " wms-991 ",
		Items:           []ItemSpec{BottleItem(bottle, nil)},
	})
	require.NoError(t, err)
	require.Equal(t, TriggerWmsEvent, m.Trigger)
	require.Equal(t, "wms-991", *m.WmsEventID)
}

func TestNewMovementRejections(t *testing.T) {
	src, dst := uuid.New(), uuid.New()
	item := []ItemSpec{BottleItem(uuid.New(), nil)}

	_, err := NewMovement(MovementSpec{Type: MovementLoss, Source: src, ExecutedBy: 1})
	require.ErrorIs(t, err, ErrValidation, "no items")

	_, err = NewMovement(MovementSpec{Type: MovementLoss, Source: src, ExecutedBy: 1, Items: []ItemSpec{{}}})
	require.ErrorIs(t, err, ErrValidation, "empty item")

	_, err = NewMovement(MovementSpec{Type: "TELEPORT", Source: src, ExecutedBy: 1, Items: item})
	require.ErrorIs(t, err, ErrValidation)

	_, err = NewMovement(MovementSpec{Type: MovementInternalTransfer, Source: src, ExecutedBy: 1, Items: item})
	require.ErrorIs(t, err, ErrValidation, "transfer without destination")

	_, err = NewMovement(MovementSpec{Type: MovementInternalTransfer, Source: src, Destination: &src, ExecutedBy: 1, Items: item})
	require.ErrorIs(t, err, ErrSameLocation)

	_, err = NewMovement(MovementSpec{Type: MovementDestruction, Source: src, Destination: &dst, ExecutedBy: 1, Items: item})
	require.ErrorIs(t, err, ErrValidation, "destination on destruction")

	_, err = NewMovement(MovementSpec{Type: MovementLoss, Source: src, Items: item})
	require.ErrorIs(t, err, ErrValidation, "operator movement without executor")

	_, err = NewMovement(MovementSpec{Type: MovementLoss, Trigger: TriggerErpOperator, ExternalEventID: "x", Source: src, ExecutedBy: 1, Items: item})
	require.ErrorIs(t, err, ErrValidation, "external id forces WMS trigger")

	_, err = NewMovement(MovementSpec{Type: MovementLoss, ExternalEventID: strings.Repeat("e", 129), Source: src, Items: item})
	require.ErrorIs(t, err, ErrValidation)

	_, err = NewMovement(MovementSpec{Type: MovementLoss, Source: src, ExecutedBy: 1, Items: []ItemSpec{{BottleID: &src, Quantity: -1}}})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSystemMovementNeedsNoExecutor(t *testing.T) {
	m, err := NewMovement(MovementSpec{
		Type:    MovementSerialCorrection,
		Trigger: TriggerSystemAutomatic,
		Source:  uuid.New(),
		Items:   []ItemSpec{BottleItem(uuid.New(), nil)},
	})
	require.NoError(t, err)
	require.Equal(t, TriggerSystemAutomatic, m.Trigger)
}

func TestBatchStatusFor(t *testing.T) {
	b := InboundBatch{QuantityReceived: 3, SerializationStatus: SerializationPending}
	require.Equal(t, SerializationPending, b.StatusFor(0))
	require.Equal(t, SerializationPartial, b.StatusFor(2))
	require.Equal(t, SerializationFull, b.StatusFor(3))

	b.SerializationStatus = SerializationDiscrepancy
	require.Equal(t, SerializationDiscrepancy, b.StatusFor(3))
}
