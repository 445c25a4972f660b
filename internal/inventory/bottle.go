package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BottleSpec carries everything needed to create a bottle identity.
type BottleSpec struct {
	SerialNumber   string
	Product        Product
	AllocationID   uuid.UUID
	InboundBatchID uuid.UUID
	LocationID     uuid.UUID
	CaseID         *uuid.UUID
	Ownership      OwnershipType
	SerializedAt   time.Time
	SerializedBy   int64
}

// NewBottle builds a STORED bottle. Lineage fields are set here and nowhere else.
func NewBottle(spec BottleSpec) (Bottle, error) {
	serial := strings.TrimSpace(spec.SerialNumber)
	if serial == "" {
		return Bottle{}, Invalid("serial_number", "required")
	}
	if spec.AllocationID == uuid.Nil {
		return Bottle{}, Invalid("allocation_id", "lineage required")
	}
	if spec.InboundBatchID == uuid.Nil {
		return Bottle{}, Invalid("inbound_batch_id", "required")
	}
	if spec.LocationID == uuid.Nil {
		return Bottle{}, Invalid("current_location_id", "required")
	}
	if spec.Product.WineVariantID == uuid.Nil || spec.Product.FormatID == uuid.Nil {
		return Bottle{}, Invalid("product", "wine variant and format must be resolved")
	}
	if !spec.Ownership.Valid() {
		return Bottle{}, Invalid("ownership_type", "unknown value %q", spec.Ownership)
	}
	at := spec.SerializedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Bottle{
		ID:                uuid.New(),
		SerialNumber:      serial,
		WineVariantID:     spec.Product.WineVariantID,
		FormatID:          spec.Product.FormatID,
		AllocationID:      spec.AllocationID,
		InboundBatchID:    spec.InboundBatchID,
		CurrentLocationID: spec.LocationID,
		CaseID:            copyID(spec.CaseID),
		OwnershipType:     spec.Ownership,
		State:             BottleStored,
		SerializedAt:      at,
		SerializedBy:      spec.SerializedBy,
	}, nil
}

// TransitionKind tags a Transition.
type TransitionKind string

const (
	TransitionRelocate     TransitionKind = "relocate"
	TransitionReserve      TransitionKind = "reserve"
	TransitionRelease      TransitionKind = "release"
	TransitionShip         TransitionKind = "ship"
	TransitionConsume      TransitionKind = "consume"
	TransitionDestroy      TransitionKind = "destroy"
	TransitionLose         TransitionKind = "lose"
	TransitionMisSerialize TransitionKind = "mis_serialize"
)

// Transition is one of the allowed bottle mutations. Build it with the
// constructors below.
type Transition struct {
	Kind       TransitionKind
	LocationID uuid.UUID
	Correction uuid.UUID
}

// Relocate moves a bottle to another location.
func Relocate(to uuid.UUID) Transition { return Transition{Kind: TransitionRelocate, LocationID: to} }

// ReserveForPicking holds a stored bottle for an outbound pick.
func ReserveForPicking() Transition { return Transition{Kind: TransitionReserve} }

// ReleaseReservation returns a reserved bottle to storage.
func ReleaseReservation() Transition { return Transition{Kind: TransitionRelease} }

// Ship marks the bottle as having left custody for delivery.
func Ship() Transition { return Transition{Kind: TransitionShip} }

// Consume marks a stored bottle as consumed.
func Consume() Transition { return Transition{Kind: TransitionConsume} }

// Destroy marks a bottle as destroyed.
func Destroy() Transition { return Transition{Kind: TransitionDestroy} }

// Lose marks a bottle as missing.
func Lose() Transition { return Transition{Kind: TransitionLose} }

// MarkMisSerialized retires a bottle whose label was wrong, pointing at the corrective record.
func MarkMisSerialized(correction uuid.UUID) Transition {
	return Transition{Kind: TransitionMisSerialize, Correction: correction}
}

// Apply returns the bottle after t, or a precondition error naming the state
// that forbids it. The receiver is not modified.
func (b Bottle) Apply(t Transition) (Bottle, error) {
	if b.State.Terminal() {
		return b, fmt.Errorf("bottle %s in state %s: %w", b.SerialNumber, b.State, ErrBottleTerminal)
	}
	next := b
	switch t.Kind {
	case TransitionRelocate:
		if t.LocationID == uuid.Nil {
			return b, Invalid("destination_location_id", "required")
		}
		if t.LocationID == b.CurrentLocationID {
			return b, fmt.Errorf("bottle %s already at %s: %w", b.SerialNumber, b.CurrentLocationID, ErrSameLocation)
		}
		next.CurrentLocationID = t.LocationID
	case TransitionReserve:
		if b.State != BottleStored {
			return b, fmt.Errorf("bottle %s in state %s: %w", b.SerialNumber, b.State, ErrBottleNotStored)
		}
		next.State = BottleReservedForPicking
	case TransitionRelease:
		if b.State != BottleReservedForPicking {
			return b, fmt.Errorf("bottle %s in state %s is not reserved: %w", b.SerialNumber, b.State, ErrPrecondition)
		}
		next.State = BottleStored
	case TransitionShip:
		next.State = BottleShipped
	case TransitionConsume:
		if b.State != BottleStored {
			return b, fmt.Errorf("bottle %s in state %s: %w", b.SerialNumber, b.State, ErrBottleNotStored)
		}
		next.State = BottleConsumed
	case TransitionDestroy:
		next.State = BottleDestroyed
	case TransitionLose:
		next.State = BottleMissing
	case TransitionMisSerialize:
		if t.Correction == uuid.Nil {
			return b, Invalid("correction_reference", "required")
		}
		next.State = BottleMisSerialized
		next.CorrectionReference = &t.Correction
	default:
		return b, Invalid("transition", "unknown kind %q", t.Kind)
	}
	return next, nil
}

// GuardBottleUpdate is the write-boundary check every repository runs before
// persisting next over current.
func GuardBottleUpdate(current, next Bottle) error {
	if current.ID != next.ID {
		return fmt.Errorf("bottle %s: id cannot change: %w", current.ID, ErrInvariant)
	}
	if current.SerialNumber != "" && next.SerialNumber != current.SerialNumber {
		return fmt.Errorf("bottle %s: %w", current.ID, ErrSerialImmutable)
	}
	if current.AllocationID != uuid.Nil && next.AllocationID != current.AllocationID {
		return fmt.Errorf("bottle %s: %w", current.SerialNumber, ErrAllocationImmutable)
	}
	if next.InboundBatchID != current.InboundBatchID ||
		!next.SerializedAt.Equal(current.SerializedAt) ||
		next.WineVariantID != current.WineVariantID ||
		next.FormatID != current.FormatID ||
		next.OwnershipType != current.OwnershipType {
		return fmt.Errorf("bottle %s: %w", current.SerialNumber, ErrLineageImmutable)
	}
	if current.State.Terminal() && !sameBottle(current, next) {
		return fmt.Errorf("bottle %s in state %s: %w", current.SerialNumber, current.State, ErrTerminalState)
	}
	if current.CorrectionReference != nil && !sameID(current.CorrectionReference, next.CorrectionReference) {
		return fmt.Errorf("bottle %s: correction_reference: %w", current.SerialNumber, ErrLineageImmutable)
	}
	return nil
}

func sameBottle(a, b Bottle) bool {
	return a.ID == b.ID &&
		a.SerialNumber == b.SerialNumber &&
		a.AllocationID == b.AllocationID &&
		a.CurrentLocationID == b.CurrentLocationID &&
		a.State == b.State &&
		sameID(a.CaseID, b.CaseID) &&
		sameID(a.CorrectionReference, b.CorrectionReference)
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
