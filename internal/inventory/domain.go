package inventory

import (
	"time"

	"github.com/google/uuid"
)

// LocationStatus marks whether a location accepts goods.
type LocationStatus string

const (
	// LocationActive accepts movements and, when authorised, serialization.
	LocationActive LocationStatus = "ACTIVE"
	// LocationInactive is retained for history only.
	LocationInactive LocationStatus = "INACTIVE"
)

// LocationType classifies a physical place.
type LocationType string

const (
	LocationWarehouse   LocationType = "WAREHOUSE"
	LocationBondedStore LocationType = "BONDED_STORE"
	LocationEventVenue  LocationType = "EVENT_VENUE"
	LocationProducer    LocationType = "PRODUCER"
	LocationInTransit   LocationType = "IN_TRANSIT"
)

// Location is a physical place goods can be.
type Location struct {
	ID                      uuid.UUID
	Name                    string
	Type                    LocationType
	Country                 string
	SerializationAuthorized bool
	Status                  LocationStatus
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// CanSerialize reports whether bottles may be serialized at the location.
func (l Location) CanSerialize() bool {
	return l.SerializationAuthorized && l.Status == LocationActive
}

// OwnershipType describes who owns the goods, independently of custody.
type OwnershipType string

const (
	// OwnershipOwned is stock owned outright by the business.
	OwnershipOwned OwnershipType = "OWNED"
	// OwnershipConsignment is held for a producer until sold.
	OwnershipConsignment OwnershipType = "CONSIGNMENT"
	// OwnershipCustomer is stock already owned by a customer and stored on their behalf.
	OwnershipCustomer OwnershipType = "CUSTOMER"
)

// PermitsEventConsumption reports whether bottles of this ownership may be poured at events.
func (o OwnershipType) PermitsEventConsumption() bool {
	return o == OwnershipOwned
}

// Valid reports whether o is a known ownership type.
func (o OwnershipType) Valid() bool {
	switch o {
	case OwnershipOwned, OwnershipConsignment, OwnershipCustomer:
		return true
	}
	return false
}

// ProductKind discriminates ProductRef.
type ProductKind string

const (
	ProductSellableSKU   ProductKind = "SELLABLE_SKU"
	ProductLiquidProduct ProductKind = "LIQUID_PRODUCT"
)

// ProductRef points at either a sellable SKU or a liquid product. The caller's
// ProductResolver turns it into a Product.
type ProductRef struct {
	Kind ProductKind
	ID   uuid.UUID
}

// Valid reports whether the reference carries a known discriminant and an id.
func (r ProductRef) Valid() bool {
	return (r.Kind == ProductSellableSKU || r.Kind == ProductLiquidProduct) && r.ID != uuid.Nil
}

func (r ProductRef) String() string {
	return string(r.Kind) + ":" + r.ID.String()
}

// Product is a resolved product reference used for labelling bottles.
type Product struct {
	Ref           ProductRef
	WineVariantID uuid.UUID
	FormatID      uuid.UUID
	Label         string
}

// SerializationStatus tracks how much of a batch has been serialized.
type SerializationStatus string

const (
	SerializationPending     SerializationStatus = "PENDING_SERIALIZATION"
	SerializationPartial     SerializationStatus = "PARTIALLY_SERIALIZED"
	SerializationFull        SerializationStatus = "FULLY_SERIALIZED"
	SerializationDiscrepancy SerializationStatus = "DISCREPANCY"
)

// InboundBatch is a physical receipt of goods awaiting serialization.
type InboundBatch struct {
	ID                  uuid.UUID
	Product             ProductRef
	AllocationID        uuid.UUID
	QuantityExpected    int
	QuantityReceived    int
	ReceivingLocationID uuid.UUID
	OwnershipType       OwnershipType
	SerializationStatus SerializationStatus
	ReceivedAt          time.Time
	CreatedBy           int64
}

// StatusFor derives the serialization status from the serialized count. A
// batch in Discrepancy keeps that status until it is resolved manually.
func (b InboundBatch) StatusFor(serialized int) SerializationStatus {
	if b.SerializationStatus == SerializationDiscrepancy {
		return SerializationDiscrepancy
	}
	return CountStatus(serialized, b.QuantityReceived)
}

// CountStatus derives a serialization status from counts alone.
func CountStatus(serialized, received int) SerializationStatus {
	switch {
	case serialized <= 0:
		return SerializationPending
	case serialized >= received:
		return SerializationFull
	default:
		return SerializationPartial
	}
}

// BottleState is the lifecycle state of a serialized bottle.
type BottleState string

const (
	BottleStored             BottleState = "STORED"
	BottleReservedForPicking BottleState = "RESERVED_FOR_PICKING"
	BottleShipped            BottleState = "SHIPPED"
	BottleConsumed           BottleState = "CONSUMED"
	BottleDestroyed          BottleState = "DESTROYED"
	BottleMissing            BottleState = "MISSING"
	BottleMisSerialized      BottleState = "MIS_SERIALIZED"
)

// Terminal reports whether no further transition is allowed from the state.
func (s BottleState) Terminal() bool {
	switch s {
	case BottleShipped, BottleConsumed, BottleDestroyed, BottleMissing, BottleMisSerialized:
		return true
	}
	return false
}

// Bottle is a SerializedBottle. Build it with NewBottle and change it only
// through Apply; repositories check every update with GuardBottleUpdate.
type Bottle struct {
	ID                  uuid.UUID
	SerialNumber        string
	WineVariantID       uuid.UUID
	FormatID            uuid.UUID
	AllocationID        uuid.UUID
	InboundBatchID      uuid.UUID
	CurrentLocationID   uuid.UUID
	CaseID              *uuid.UUID
	OwnershipType       OwnershipType
	State               BottleState
	SerializedAt        time.Time
	SerializedBy        int64
	CorrectionReference *uuid.UUID
}

// IntegrityStatus of a physical case.
type IntegrityStatus string

const (
	CaseIntact IntegrityStatus = "INTACT"
	CaseBroken IntegrityStatus = "BROKEN"
)

// Case is an InventoryCase grouping bottles physically.
type Case struct {
	ID                uuid.UUID
	ConfigurationID   uuid.UUID
	AllocationID      uuid.UUID
	InboundBatchID    uuid.UUID
	CurrentLocationID uuid.UUID
	IsBreakable       bool
	IntegrityStatus   IntegrityStatus
	BrokenAt          *time.Time
	BrokenBy          *int64
	BrokenReason      string
	CreatedAt         time.Time
}

// MovementType classifies ledger entries.
type MovementType string

const (
	MovementInternalTransfer MovementType = "INTERNAL_TRANSFER"
	MovementEventConsumption MovementType = "EVENT_CONSUMPTION"
	MovementConsumption      MovementType = "CONSUMPTION"
	MovementDestruction      MovementType = "DESTRUCTION"
	MovementLoss             MovementType = "LOSS"
	MovementSerialCorrection MovementType = "SERIAL_CORRECTION"
)

func (t MovementType) valid() bool {
	switch t {
	case MovementInternalTransfer, MovementEventConsumption, MovementConsumption,
		MovementDestruction, MovementLoss, MovementSerialCorrection:
		return true
	}
	return false
}

// MovementTrigger records who originated a movement.
type MovementTrigger string

const (
	TriggerWmsEvent        MovementTrigger = "WMS_EVENT"
	TriggerErpOperator     MovementTrigger = "ERP_OPERATOR"
	TriggerSystemAutomatic MovementTrigger = "SYSTEM_AUTOMATIC"
)

func (t MovementTrigger) valid() bool {
	switch t {
	case TriggerWmsEvent, TriggerErpOperator, TriggerSystemAutomatic:
		return true
	}
	return false
}

// Movement is an immutable ledger entry. There is no update path.
type Movement struct {
	ID                    uuid.UUID
	Type                  MovementType
	Trigger               MovementTrigger
	SourceLocationID      uuid.UUID
	DestinationLocationID *uuid.UUID
	CustodyChanged        bool
	Reason                string
	WmsEventID            *string
	ExecutedAt            time.Time
	ExecutedBy            int64
	Items                 []MovementItem
}

// MovementItem references a bottle, a case, or both.
type MovementItem struct {
	ID         uuid.UUID
	MovementID uuid.UUID
	BottleID   *uuid.UUID
	CaseID     *uuid.UUID
	Quantity   int
}

// ExceptionType classifies exception records.
type ExceptionType string

const (
	ExceptionCommittedOverride        ExceptionType = "committed_consumption_override"
	ExceptionSerializationDiscrepancy ExceptionType = "serialization_discrepancy"
	ExceptionMisSerialization         ExceptionType = "mis_serialization"
)

// Exception is an InventoryException awaiting or having received review.
type Exception struct {
	ID             uuid.UUID
	Type           ExceptionType
	BottleID       *uuid.UUID
	CaseID         *uuid.UUID
	InboundBatchID *uuid.UUID
	Reason         string
	Resolution     string
	ResolvedAt     *time.Time
	ResolvedBy     *int64
	CreatedAt      time.Time
	CreatedBy      int64
}

// Resolved reports whether finance/ops has reviewed the exception.
func (e Exception) Resolved() bool {
	return e.ResolvedAt != nil
}

// MintRequest asks the caller to enqueue NFT minting for a new bottle once the
// serialization transaction has committed.
type MintRequest struct {
	BottleID     uuid.UUID
	SerialNumber string
	AllocationID uuid.UUID
	ProductLabel string
}

// VoucherState is the lifecycle state of a customer voucher.
type VoucherState string

const (
	VoucherIssued    VoucherState = "ISSUED"
	VoucherLocked    VoucherState = "LOCKED"
	VoucherRedeemed  VoucherState = "REDEEMED"
	VoucherCancelled VoucherState = "CANCELLED"
)

// Commits reports whether a voucher in this state is a promise against stock.
func (s VoucherState) Commits() bool {
	return s == VoucherIssued || s == VoucherLocked
}

// CommittingVoucherStates lists states counted as committed.
func CommittingVoucherStates() []VoucherState {
	return []VoucherState{VoucherIssued, VoucherLocked}
}

// BottleFilter narrows bottle listings.
type BottleFilter struct {
	AllocationID   uuid.UUID
	InboundBatchID uuid.UUID
	LocationID     uuid.UUID
	CaseID         uuid.UUID
	State          BottleState
	Limit          int
}

// MovementFilter narrows ledger listings.
type MovementFilter struct {
	BottleID uuid.UUID
	CaseID   uuid.UUID
	Limit    int
}

// ExceptionFilter narrows the exception review queue.
type ExceptionFilter struct {
	Type     ExceptionType
	Resolved *bool
	Limit    int
}
