package inventoryhttp

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/inventory/override"
	"github.com/odyssey-erp/cellar/internal/inventory/serialization"
	"github.com/odyssey-erp/cellar/internal/inventory/wms"
)

type locationView struct {
	ID                      uuid.UUID `json:"id"`
	Name                    string    `json:"name"`
	Type                    string    `json:"location_type"`
	Country                 string    `json:"country"`
	SerializationAuthorized bool      `json:"serialization_authorized"`
	Status                  string    `json:"status"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

func newLocationView(l inventory.Location) locationView {
	return locationView{
		ID:                      l.ID,
		Name:                    l.Name,
		Type:                    string(l.Type),
		Country:                 l.Country,
		SerializationAuthorized: l.SerializationAuthorized,
		Status:                  string(l.Status),
		CreatedAt:               l.CreatedAt,
		UpdatedAt:               l.UpdatedAt,
	}
}

type productRefView struct {
	Kind string    `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

type batchView struct {
	ID                  uuid.UUID      `json:"id"`
	Product             productRefView `json:"product"`
	AllocationID        uuid.UUID      `json:"allocation_id"`
	QuantityExpected    int            `json:"quantity_expected"`
	QuantityReceived    int            `json:"quantity_received"`
	ReceivingLocationID uuid.UUID      `json:"receiving_location_id"`
	OwnershipType       string         `json:"ownership_type"`
	SerializationStatus string         `json:"serialization_status"`
	ReceivedAt          time.Time      `json:"received_at"`
}

func newBatchView(b inventory.InboundBatch) batchView {
	return batchView{
		ID:                  b.ID,
		Product:             productRefView{Kind: string(b.Product.Kind), ID: b.Product.ID},
		AllocationID:        b.AllocationID,
		QuantityExpected:    b.QuantityExpected,
		QuantityReceived:    b.QuantityReceived,
		ReceivingLocationID: b.ReceivingLocationID,
		OwnershipType:       string(b.OwnershipType),
		SerializationStatus: string(b.SerializationStatus),
		ReceivedAt:          b.ReceivedAt,
	}
}

type bottleView struct {
	ID                  uuid.UUID  `json:"id"`
	SerialNumber        string     `json:"serial_number"`
	WineVariantID       uuid.UUID  `json:"wine_variant_id"`
	FormatID            uuid.UUID  `json:"format_id"`
	AllocationID        uuid.UUID  `json:"allocation_id"`
	InboundBatchID      uuid.UUID  `json:"inbound_batch_id"`
	CurrentLocationID   uuid.UUID  `json:"current_location_id"`
	CaseID              *uuid.UUID `json:"case_id,omitempty"`
	OwnershipType       string     `json:"ownership_type"`
	State               string     `json:"state"`
	SerializedAt        time.Time  `json:"serialized_at"`
	SerializedBy        int64      `json:"serialized_by"`
	CorrectionReference *uuid.UUID `json:"correction_reference,omitempty"`
}

func newBottleView(b inventory.Bottle) bottleView {
	return bottleView{
		ID:                  b.ID,
		SerialNumber:        b.SerialNumber,
		WineVariantID:       b.WineVariantID,
		FormatID:            b.FormatID,
		AllocationID:        b.AllocationID,
		InboundBatchID:      b.InboundBatchID,
		CurrentLocationID:   b.CurrentLocationID,
		CaseID:              b.CaseID,
		OwnershipType:       string(b.OwnershipType),
		State:               string(b.State),
		SerializedAt:        b.SerializedAt,
		SerializedBy:        b.SerializedBy,
		CorrectionReference: b.CorrectionReference,
	}
}

func newBottleViews(in []inventory.Bottle) []bottleView {
	out := make([]bottleView, 0, len(in))
	for _, b := range in {
		out = append(out, newBottleView(b))
	}
	return out
}

type caseView struct {
	ID                uuid.UUID  `json:"id"`
	ConfigurationID   uuid.UUID  `json:"configuration_id"`
	AllocationID      uuid.UUID  `json:"allocation_id"`
	InboundBatchID    uuid.UUID  `json:"inbound_batch_id"`
	CurrentLocationID uuid.UUID  `json:"current_location_id"`
	IsBreakable       bool       `json:"is_breakable"`
	IntegrityStatus   string     `json:"integrity_status"`
	BrokenAt          *time.Time `json:"broken_at,omitempty"`
	BrokenBy          *int64     `json:"broken_by,omitempty"`
	BrokenReason      string     `json:"broken_reason,omitempty"`
}

func newCaseView(c inventory.Case) caseView {
	return caseView{
		ID:                c.ID,
		ConfigurationID:   c.ConfigurationID,
		AllocationID:      c.AllocationID,
		InboundBatchID:    c.InboundBatchID,
		CurrentLocationID: c.CurrentLocationID,
		IsBreakable:       c.IsBreakable,
		IntegrityStatus:   string(c.IntegrityStatus),
		BrokenAt:          c.BrokenAt,
		BrokenBy:          c.BrokenBy,
		BrokenReason:      c.BrokenReason,
	}
}

type movementItemView struct {
	BottleID *uuid.UUID `json:"bottle_id,omitempty"`
	CaseID   *uuid.UUID `json:"case_id,omitempty"`
	Quantity int        `json:"quantity"`
}

type movementView struct {
	ID                    uuid.UUID          `json:"id"`
	Type                  string             `json:"movement_type"`
	Trigger               string             `json:"trigger"`
	SourceLocationID      uuid.UUID          `json:"source_location_id"`
	DestinationLocationID *uuid.UUID         `json:"destination_location_id,omitempty"`
	CustodyChanged        bool               `json:"custody_changed"`
	Reason                string             `json:"reason,omitempty"`
	WmsEventID            *string            `json:"wms_event_id,omitempty"`
	ExecutedAt            time.Time          `json:"executed_at"`
	ExecutedBy            int64              `json:"executed_by,omitempty"`
	Items                 []movementItemView `json:"items"`
}

func newMovementView(m inventory.Movement) movementView {
	items := make([]movementItemView, 0, len(m.Items))
	for _, it := range m.Items {
		items = append(items, movementItemView{BottleID: it.BottleID, CaseID: it.CaseID, Quantity: it.Quantity})
	}
	return movementView{
		ID:                    m.ID,
		Type:                  string(m.Type),
		Trigger:               string(m.Trigger),
		SourceLocationID:      m.SourceLocationID,
		DestinationLocationID: m.DestinationLocationID,
		CustodyChanged:        m.CustodyChanged,
		Reason:                m.Reason,
		WmsEventID:            m.WmsEventID,
		ExecutedAt:            m.ExecutedAt,
		ExecutedBy:            m.ExecutedBy,
		Items:                 items,
	}
}

func newMovementViews(in []inventory.Movement) []movementView {
	out := make([]movementView, 0, len(in))
	for _, m := range in {
		out = append(out, newMovementView(m))
	}
	return out
}

type exceptionView struct {
	ID             uuid.UUID  `json:"id"`
	Type           string     `json:"exception_type"`
	BottleID       *uuid.UUID `json:"bottle_id,omitempty"`
	CaseID         *uuid.UUID `json:"case_id,omitempty"`
	InboundBatchID *uuid.UUID `json:"inbound_batch_id,omitempty"`
	Reason         string     `json:"reason"`
	Resolution     string     `json:"resolution,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     *int64     `json:"resolved_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CreatedBy      int64      `json:"created_by"`
}

func newExceptionView(e inventory.Exception) exceptionView {
	return exceptionView{
		ID:             e.ID,
		Type:           string(e.Type),
		BottleID:       e.BottleID,
		CaseID:         e.CaseID,
		InboundBatchID: e.InboundBatchID,
		Reason:         e.Reason,
		Resolution:     e.Resolution,
		ResolvedAt:     e.ResolvedAt,
		ResolvedBy:     e.ResolvedBy,
		CreatedAt:      e.CreatedAt,
		CreatedBy:      e.CreatedBy,
	}
}

func newExceptionViews(in []inventory.Exception) []exceptionView {
	out := make([]exceptionView, 0, len(in))
	for _, e := range in {
		out = append(out, newExceptionView(e))
	}
	return out
}

type serializeView struct {
	Batch   batchView    `json:"batch"`
	Bottles []bottleView `json:"bottles"`
	Cases   []caseView   `json:"cases,omitempty"`
}

func newSerializeView(res serialization.Result) serializeView {
	cases := make([]caseView, 0, len(res.Cases))
	for _, c := range res.Cases {
		cases = append(cases, newCaseView(c))
	}
	return serializeView{Batch: newBatchView(res.Batch), Bottles: newBottleViews(res.Bottles), Cases: cases}
}

type correctionView struct {
	Original    bottleView    `json:"original"`
	Replacement bottleView    `json:"replacement"`
	Movement    movementView  `json:"movement"`
	Exception   exceptionView `json:"exception"`
}

type discrepancyView struct {
	Batch     batchView      `json:"batch"`
	Exception *exceptionView `json:"exception,omitempty"`
}

type overrideErrorView struct {
	BottleID uuid.UUID `json:"bottle_id"`
	Error    string    `json:"error"`
}

type overrideView struct {
	ConsumedCount int                 `json:"consumed_count"`
	Exceptions    []exceptionView     `json:"exceptions"`
	Movements     []movementView      `json:"movements"`
	Errors        []overrideErrorView `json:"errors"`
}

func newOverrideView(res override.Result) overrideView {
	errs := make([]overrideErrorView, 0, len(res.Errors))
	for _, e := range res.Errors {
		errs = append(errs, overrideErrorView{BottleID: e.BottleID, Error: e.Err.Error()})
	}
	return overrideView{
		ConsumedCount: res.ConsumedCount,
		Exceptions:    newExceptionViews(res.Exceptions),
		Movements:     newMovementViews(res.Movements),
		Errors:        errs,
	}
}

type wmsResultView struct {
	EventID    string     `json:"event_id"`
	Duplicate  bool       `json:"duplicate"`
	MovementID *uuid.UUID `json:"movement_id,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func newWMSResultView(r wms.Result) wmsResultView {
	v := wmsResultView{EventID: r.EventID, Duplicate: r.Duplicate}
	if r.Movement.ID != uuid.Nil {
		id := r.Movement.ID
		v.MovementID = &id
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}
