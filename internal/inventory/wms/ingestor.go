// Package wms applies warehouse management system events to the movement
// ledger. Every event carries an external id that the ledger stores once;
// replays are logged and skipped rather than failed.
package wms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/inventory/ledger"
)

// Kind names the physical fact a WMS event reports.
type Kind string

const (
	KindTransfer         Kind = "transfer"
	KindEventConsumption Kind = "event_consumption"
	KindConsumption      Kind = "consumption"
	KindDestruction      Kind = "destruction"
	KindMissing          Kind = "missing"
)

// Event is the payload a WMS posts. Bottles are referenced by id or serial;
// transfers may instead name a case.
type Event struct {
	EventID        string `json:"event_id" validate:"required,max=128"`
	Kind           Kind   `json:"kind" validate:"required,oneof=transfer event_consumption consumption destruction missing"`
	BottleID       string `json:"bottle_id" validate:"omitempty,uuid"`
	Serial         string `json:"serial" validate:"omitempty,max=64"`
	CaseID         string `json:"case_id" validate:"omitempty,uuid"`
	To             string `json:"to_location_id" validate:"required_if=Kind transfer,omitempty,uuid"`
	CustodyChanged bool   `json:"custody_changed"`
	Reason         string `json:"reason" validate:"max=500"`
}

// Outcome reports what an event did.
type Outcome struct {
	EventID   string             `json:"event_id"`
	Duplicate bool               `json:"duplicate"`
	Movement  inventory.Movement `json:"-"`
}

// Ledger is the set of ledger operations WMS events map to.
type Ledger interface {
	TransferBottle(ctx context.Context, in ledger.TransferInput) (inventory.Movement, error)
	TransferCase(ctx context.Context, in ledger.CaseTransferInput) (inventory.Movement, error)
	Consume(ctx context.Context, in ledger.ConsumeInput) (inventory.Movement, error)
	Destroy(ctx context.Context, in ledger.RemovalInput) (inventory.Movement, error)
	MarkMissing(ctx context.Context, in ledger.RemovalInput) (inventory.Movement, error)
}

// BottleFinder resolves serials.
type BottleFinder interface {
	GetBottleBySerial(ctx context.Context, serial string) (inventory.Bottle, error)
}

// Recorder counts ingested events by kind and outcome.
type Recorder interface {
	ObserveWMSEvent(kind, outcome string)
}

// Ingestor validates and applies WMS events.
type Ingestor struct {
	ledger   Ledger
	bottles  BottleFinder
	seen     *SeenCache
	validate *validator.Validate
	metrics  Recorder
	logger   *slog.Logger
}

// NewIngestor wires the ingestor. seen and metrics may be nil.
func NewIngestor(l Ledger, bottles BottleFinder, seen *SeenCache, metrics Recorder, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
	return &Ingestor{
		ledger:   l,
		bottles:  bottles,
		seen:     seen,
		validate: v,
		metrics:  metrics,
		logger:   logger,
	}
}

// Ingest applies one event. A replayed event id returns Outcome.Duplicate and
// a nil error.
func (i *Ingestor) Ingest(ctx context.Context, ev Event) (Outcome, error) {
	ev.EventID = strings.TrimSpace(ev.EventID)
	out := Outcome{EventID: ev.EventID}
	if err := i.check(ev); err != nil {
		i.observe(ev.Kind, "rejected")
		return out, err
	}

	seen, err := i.seen.Seen(ctx, ev.EventID)
	if err != nil {
		i.logger.Warn("wms seen cache unavailable", slog.String("event_id", ev.EventID), slog.Any("error", err))
	}
	if seen {
		return i.duplicate(out, ev, "cache")
	}

	m, err := i.apply(ctx, ev)
	if errors.Is(err, inventory.ErrDuplicateEvent) {
		i.mark(ctx, ev.EventID)
		return i.duplicate(out, ev, "ledger")
	}
	if err != nil {
		i.observe(ev.Kind, "rejected")
		i.logger.Warn("wms event rejected",
			slog.String("event_id", ev.EventID),
			slog.String("kind", string(ev.Kind)),
			slog.Any("error", err))
		return out, err
	}
	i.mark(ctx, ev.EventID)
	i.observe(ev.Kind, "applied")
	i.logger.Info("wms event applied",
		slog.String("event_id", ev.EventID),
		slog.String("kind", string(ev.Kind)),
		slog.String("movement_id", m.ID.String()))
	out.Movement = m
	return out, nil
}

// Result pairs a batch entry with its outcome.
type Result struct {
	Outcome
	Err error
}

// IngestAll applies events in order. A failing event does not stop the rest.
func (i *Ingestor) IngestAll(ctx context.Context, events []Event) []Result {
	results := make([]Result, 0, len(events))
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{Outcome: Outcome{EventID: ev.EventID}, Err: err})
			continue
		}
		out, err := i.Ingest(ctx, ev)
		results = append(results, Result{Outcome: out, Err: err})
	}
	return results
}

func (i *Ingestor) check(ev Event) error {
	if err := i.validate.Struct(ev); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return inventory.Invalid(fe.Field(), "failed %s", fe.Tag())
		}
		return inventory.Invalid("event", "%v", err)
	}
	if ev.Kind == KindTransfer {
		if ev.CaseID == "" && ev.BottleID == "" && ev.Serial == "" {
			return inventory.Invalid("bottle_id", "a bottle or case is required")
		}
		return nil
	}
	if ev.CaseID != "" {
		return inventory.Invalid("case_id", "only transfers may name a case")
	}
	if ev.BottleID == "" && ev.Serial == "" {
		return inventory.Invalid("bottle_id", "a bottle id or serial is required")
	}
	return nil
}

func (i *Ingestor) apply(ctx context.Context, ev Event) (inventory.Movement, error) {
	base := ledger.Event{
		Reason:          ev.Reason,
		ExternalEventID: ev.EventID,
		Trigger:         inventory.TriggerWmsEvent,
	}
	if ev.Kind == KindTransfer && ev.CaseID != "" {
		return i.ledger.TransferCase(ctx, ledger.CaseTransferInput{
			Event:          base,
			CaseID:         uuid.MustParse(ev.CaseID),
			To:             uuid.MustParse(ev.To),
			CustodyChanged: ev.CustodyChanged,
		})
	}
	bottleID, err := i.bottleID(ctx, ev)
	if err != nil {
		return inventory.Movement{}, err
	}
	switch ev.Kind {
	case KindTransfer:
		return i.ledger.TransferBottle(ctx, ledger.TransferInput{
			Event:          base,
			BottleID:       bottleID,
			To:             uuid.MustParse(ev.To),
			CustodyChanged: ev.CustodyChanged,
		})
	case KindEventConsumption:
		return i.ledger.Consume(ctx, ledger.ConsumeInput{Event: base, BottleID: bottleID, Type: inventory.MovementEventConsumption})
	case KindConsumption:
		return i.ledger.Consume(ctx, ledger.ConsumeInput{Event: base, BottleID: bottleID, Type: inventory.MovementConsumption})
	case KindDestruction:
		return i.ledger.Destroy(ctx, ledger.RemovalInput{Event: base, BottleID: bottleID})
	case KindMissing:
		return i.ledger.MarkMissing(ctx, ledger.RemovalInput{Event: base, BottleID: bottleID})
	}
	return inventory.Movement{}, inventory.Invalid("kind", "unsupported %q", ev.Kind)
}

func (i *Ingestor) bottleID(ctx context.Context, ev Event) (uuid.UUID, error) {
	if ev.BottleID != "" {
		return uuid.MustParse(ev.BottleID), nil
	}
	b, err := i.bottles.GetBottleBySerial(ctx, strings.TrimSpace(ev.Serial))
	if err != nil {
		return uuid.Nil, fmt.Errorf("serial %s: %w", ev.Serial, err)
	}
	return b.ID, nil
}

func (i *Ingestor) duplicate(out Outcome, ev Event, via string) (Outcome, error) {
	i.observe(ev.Kind, "duplicate")
	i.logger.Info("duplicate wms event skipped",
		slog.String("event_id", ev.EventID),
		slog.String("kind", string(ev.Kind)),
		slog.String("detected_by", via))
	out.Duplicate = true
	return out, nil
}

func (i *Ingestor) mark(ctx context.Context, id string) {
	if _, err := i.seen.Mark(ctx, id); err != nil {
		i.logger.Warn("wms seen cache mark", slog.String("event_id", id), slog.Any("error", err))
	}
}

func (i *Ingestor) observe(kind Kind, outcome string) {
	if i.metrics != nil {
		i.metrics.ObserveWMSEvent(string(kind), outcome)
	}
}
