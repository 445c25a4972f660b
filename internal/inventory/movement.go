package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxExternalEventIDLen = 128

// MovementSpec describes a ledger entry before it is validated.
type MovementSpec struct {
	Type            MovementType
	Trigger         MovementTrigger
	Source          uuid.UUID
	Destination     *uuid.UUID
	CustodyChanged  bool
	Reason          string
	ExternalEventID string
	ExecutedBy      int64
	ExecutedAt      time.Time
	Items           []ItemSpec
}

// ItemSpec is one line of a MovementSpec.
type ItemSpec struct {
	BottleID *uuid.UUID
	CaseID   *uuid.UUID
	Quantity int
}

// BottleItem is an ItemSpec for one bottle, optionally inside a case.
func BottleItem(bottleID uuid.UUID, caseID *uuid.UUID) ItemSpec {
	return ItemSpec{BottleID: &bottleID, CaseID: copyID(caseID), Quantity: 1}
}

// NewMovement validates spec and returns a movement with ids assigned. An
// external event id implies the WMS trigger.
func NewMovement(spec MovementSpec) (Movement, error) {
	if spec.Type == "" {
		return Movement{}, Invalid("movement_type", "required")
	}
	if !spec.Type.valid() {
		return Movement{}, Invalid("movement_type", "unknown value %q", spec.Type)
	}
	extID := strings.TrimSpace(spec.ExternalEventID)
	if len(extID) > maxExternalEventIDLen {
		return Movement{}, Invalid("wms_event_id", "longer than %d characters", maxExternalEventIDLen)
	}
	trigger := spec.Trigger
	switch {
	case extID != "" && trigger == "":
		trigger = TriggerWmsEvent
	case extID != "" && trigger != TriggerWmsEvent:
		return Movement{}, Invalid("trigger", "must be %s when wms_event_id is set, got %s", TriggerWmsEvent, trigger)
	case trigger == "":
		trigger = TriggerErpOperator
	}
	if !trigger.valid() {
		return Movement{}, Invalid("trigger", "unknown value %q", trigger)
	}
	if trigger == TriggerErpOperator && spec.ExecutedBy == 0 {
		return Movement{}, Invalid("executed_by", "required for operator movements")
	}
	if spec.Source == uuid.Nil {
		return Movement{}, Invalid("source_location_id", "required")
	}
	if spec.Type == MovementInternalTransfer {
		if spec.Destination == nil || *spec.Destination == uuid.Nil {
			return Movement{}, Invalid("destination_location_id", "required for %s", spec.Type)
		}
		if *spec.Destination == spec.Source {
			return Movement{}, fmt.Errorf("movement %s: %w", spec.Type, ErrSameLocation)
		}
	} else if spec.Destination != nil {
		return Movement{}, Invalid("destination_location_id", "must be empty for %s", spec.Type)
	}
	if len(spec.Items) == 0 {
		return Movement{}, Invalid("items", "at least one item required")
	}
	at := spec.ExecutedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	m := Movement{
		ID:                    uuid.New(),
		Type:                  spec.Type,
		Trigger:               trigger,
		SourceLocationID:      spec.Source,
		DestinationLocationID: copyID(spec.Destination),
		CustodyChanged:        spec.CustodyChanged,
		Reason:                strings.TrimSpace(spec.Reason),
		ExecutedAt:            at,
		ExecutedBy:            spec.ExecutedBy,
		Items:                 make([]MovementItem, 0, len(spec.Items)),
	}
	if extID != "" {
		m.WmsEventID = &extID
	}
	for i, it := range spec.Items {
		if it.BottleID == nil && it.CaseID == nil {
			return Movement{}, Invalid(fmt.Sprintf("items[%d]", i), "must reference a bottle or a case")
		}
		qty := it.Quantity
		if qty == 0 {
			qty = 1
		}
		if qty < 0 {
			return Movement{}, Invalid(fmt.Sprintf("items[%d].quantity", i), "must be positive")
		}
		m.Items = append(m.Items, MovementItem{
			ID:         uuid.New(),
			MovementID: m.ID,
			BottleID:   copyID(it.BottleID),
			CaseID:     copyID(it.CaseID),
			Quantity:   qty,
		})
	}
	return m, nil
}

// Touches reports whether the movement has an item for the bottle.
func (m Movement) Touches(bottleID uuid.UUID) bool {
	for _, it := range m.Items {
		if it.BottleID != nil && *it.BottleID == bottleID {
			return true
		}
	}
	return false
}
