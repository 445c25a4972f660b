// Package serialization turns received batches into uniquely identified
// bottles and manages the batch lifecycle around that: intake, discrepancy
// flags and mis-serialization corrections.
package serialization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/inventory/location"
	"github.com/odyssey-erp/cellar/internal/shared"
)

// AuditEntity describes the audit entity for batches.
const AuditEntity = "inbound_batches"

// MintDispatcher hands mint requests to the asynchronous minting pipeline.
type MintDispatcher interface {
	EnqueueMint(ctx context.Context, req inventory.MintRequest) error
}

// Recorder counts serialized bottles.
type Recorder interface {
	ObserveSerialized(count int)
}

// Engine serializes inbound batches.
type Engine struct {
	repo     inventory.RepositoryPort
	products inventory.ProductResolver
	serials  *SerialGenerator
	minter   MintDispatcher
	audit    inventory.AuditPort
	metrics  Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Options carries optional collaborators.
type Options struct {
	Minter  MintDispatcher
	Audit   inventory.AuditPort
	Metrics Recorder
	Logger  *slog.Logger
}

// NewEngine wires the serialization engine.
func NewEngine(repo inventory.RepositoryPort, products inventory.ProductResolver, serials *SerialGenerator, opts Options) *Engine {
	if serials == nil {
		serials = NewSerialGenerator(DefaultPrefix, DefaultMaxAttempts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:     repo,
		products: products,
		serials:  serials,
		minter:   opts.Minter,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		logger:   logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// RegisterBatchInput records a physical receipt.
type RegisterBatchInput struct {
	Product          inventory.ProductRef
	AllocationID     uuid.UUID
	QuantityExpected int
	QuantityReceived int
	LocationID       uuid.UUID
	Ownership        inventory.OwnershipType
	ReceivedAt       time.Time
	ActorID          int64
}

// RegisterBatch creates a batch in PENDING_SERIALIZATION. Receiving more than
// expected is allowed; receiving nothing is not.
func (e *Engine) RegisterBatch(ctx context.Context, in RegisterBatchInput) (inventory.InboundBatch, error) {
	if !in.Product.Valid() {
		return inventory.InboundBatch{}, inventory.Invalid("product", "a SELLABLE_SKU or LIQUID_PRODUCT reference is required")
	}
	if in.AllocationID == uuid.Nil {
		return inventory.InboundBatch{}, inventory.Invalid("allocation_id", "lineage required")
	}
	if in.QuantityReceived <= 0 {
		return inventory.InboundBatch{}, inventory.Invalid("quantity_received", "must be positive")
	}
	if in.QuantityExpected < 0 {
		return inventory.InboundBatch{}, inventory.Invalid("quantity_expected", "must not be negative")
	}
	if in.Ownership == "" {
		in.Ownership = inventory.OwnershipOwned
	}
	if !in.Ownership.Valid() {
		return inventory.InboundBatch{}, inventory.Invalid("ownership_type", "unknown value %q", in.Ownership)
	}
	if in.ActorID == 0 {
		return inventory.InboundBatch{}, inventory.Invalid("created_by", "required")
	}
	if _, err := e.products.ResolveProduct(ctx, in.Product); err != nil {
		return inventory.InboundBatch{}, fmt.Errorf("resolve product: %w", err)
	}
	received := in.ReceivedAt
	if received.IsZero() {
		received = e.now()
	}
	batch := inventory.InboundBatch{
		ID:                  uuid.New(),
		Product:             in.Product,
		AllocationID:        in.AllocationID,
		QuantityExpected:    in.QuantityExpected,
		QuantityReceived:    in.QuantityReceived,
		ReceivingLocationID: in.LocationID,
		OwnershipType:       in.Ownership,
		SerializationStatus: inventory.SerializationPending,
		ReceivedAt:          received,
		CreatedBy:           in.ActorID,
	}
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		if _, err := location.RequireActive(ctx, tx, in.LocationID); err != nil {
			return err
		}
		return tx.InsertBatch(ctx, batch)
	})
	if err != nil {
		return inventory.InboundBatch{}, err
	}
	e.record(ctx, in.ActorID, "batch:register", batch, nil)
	return batch, nil
}

// CaseGrouping packs newly serialized bottles into cases.
type CaseGrouping struct {
	BottlesPerCase  int
	ConfigurationID uuid.UUID
	Breakable       bool
}

// SerializeInput requests serialization of part or all of a batch.
type SerializeInput struct {
	BatchID    uuid.UUID
	Quantity   int
	OperatorID int64
	Grouping   *CaseGrouping
}

// Result is the outcome of a serialization run. MintRequests lists one
// request per new bottle; they have already been handed to the dispatcher
// when one is configured.
type Result struct {
	Batch        inventory.InboundBatch
	Bottles      []inventory.Bottle
	Cases        []inventory.Case
	MintRequests []inventory.MintRequest
}

// SerializeBatch creates Quantity bottles for the batch in one transaction.
// Every precondition is checked before the first write.
func (e *Engine) SerializeBatch(ctx context.Context, in SerializeInput) (Result, error) {
	if in.Quantity <= 0 {
		return Result{}, inventory.Invalid("quantity", "must be positive")
	}
	if in.OperatorID == 0 {
		return Result{}, inventory.Invalid("operator", "required")
	}
	if in.Grouping != nil && in.Grouping.BottlesPerCase <= 0 {
		return Result{}, inventory.Invalid("bottles_per_case", "must be positive")
	}

	var res Result
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, in.BatchID)
		if err != nil {
			return err
		}
		switch batch.SerializationStatus {
		case inventory.SerializationDiscrepancy:
			return fmt.Errorf("batch %s: %w", batch.ID, inventory.ErrBatchDiscrepancy)
		case inventory.SerializationFull:
			return fmt.Errorf("batch %s is %s: %w", batch.ID, batch.SerializationStatus, inventory.ErrBatchNotSerializable)
		}
		loc, err := location.RequireSerializable(ctx, tx, batch.ReceivingLocationID)
		if err != nil {
			return err
		}
		if batch.AllocationID == uuid.Nil {
			return inventory.Invalid("allocation_id", "batch %s has no allocation lineage", batch.ID)
		}
		product, err := e.products.ResolveProduct(ctx, batch.Product)
		if err != nil {
			return fmt.Errorf("resolve product %s: %w", batch.Product, err)
		}
		already, err := tx.CountSerialized(ctx, batch.ID)
		if err != nil {
			return err
		}
		if remaining := batch.QuantityReceived - already; in.Quantity > remaining {
			return inventory.Invalid("quantity", "%d exceeds the %d bottles left to serialize", in.Quantity, max(remaining, 0))
		}

		now := e.now()
		taken := make(map[string]struct{}, in.Quantity)
		serials := make([]string, in.Quantity)
		for i := range serials {
			if serials[i], err = e.serials.Allocate(ctx, tx, taken); err != nil {
				return err
			}
		}

		var cases []inventory.Case
		if g := in.Grouping; g != nil {
			for n := 0; n < in.Quantity; n += g.BottlesPerCase {
				c, err := inventory.NewCase(inventory.CaseSpec{
					ConfigurationID: g.ConfigurationID,
					AllocationID:    batch.AllocationID,
					InboundBatchID:  batch.ID,
					LocationID:      loc.ID,
					Breakable:       g.Breakable,
					CreatedAt:       now,
				})
				if err != nil {
					return err
				}
				cases = append(cases, c)
			}
		}

		bottles := make([]inventory.Bottle, 0, in.Quantity)
		for i, serial := range serials {
			var caseID *uuid.UUID
			if len(cases) > 0 {
				id := cases[i/in.Grouping.BottlesPerCase].ID
				caseID = &id
			}
			b, err := inventory.NewBottle(inventory.BottleSpec{
				SerialNumber:   serial,
				Product:        product,
				AllocationID:   batch.AllocationID,
				InboundBatchID: batch.ID,
				LocationID:     loc.ID,
				CaseID:         caseID,
				Ownership:      batch.OwnershipType,
				SerializedAt:   now,
				SerializedBy:   in.OperatorID,
			})
			if err != nil {
				return err
			}
			bottles = append(bottles, b)
		}

		for _, c := range cases {
			if err := tx.InsertCase(ctx, c); err != nil {
				return err
			}
		}
		for _, b := range bottles {
			if err := tx.InsertBottle(ctx, b); err != nil {
				return fmt.Errorf("insert bottle %s: %w", b.SerialNumber, err)
			}
		}
		if status := batch.StatusFor(already + len(bottles)); status != batch.SerializationStatus {
			if err := tx.UpdateBatchStatus(ctx, batch.ID, status); err != nil {
				return err
			}
			batch.SerializationStatus = status
		}

		res = Result{Batch: batch, Bottles: bottles, Cases: cases}
		for _, b := range bottles {
			res.MintRequests = append(res.MintRequests, mintRequest(b, product))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, inventory.ErrInvariant) {
			e.logger.Error("serialization aborted", slog.String("batch_id", in.BatchID.String()), slog.Any("error", err))
		}
		return Result{}, err
	}

	e.logger.Info("batch serialized",
		slog.String("batch_id", res.Batch.ID.String()),
		slog.Int("bottles", len(res.Bottles)),
		slog.Int("cases", len(res.Cases)),
		slog.String("status", string(res.Batch.SerializationStatus)))
	if e.metrics != nil {
		e.metrics.ObserveSerialized(len(res.Bottles))
	}
	e.record(ctx, in.OperatorID, "batch:serialize", res.Batch, map[string]any{"bottles": len(res.Bottles)})
	e.dispatch(ctx, res.MintRequests)
	return res, nil
}

// dispatch enqueues mint requests after commit. Failures are logged and
// never undo serialization.
func (e *Engine) dispatch(ctx context.Context, reqs []inventory.MintRequest) {
	if e.minter == nil {
		return
	}
	for _, req := range reqs {
		if err := e.minter.EnqueueMint(ctx, req); err != nil {
			e.logger.Warn("enqueue nft mint",
				slog.String("bottle_id", req.BottleID.String()),
				slog.String("serial", req.SerialNumber),
				slog.Any("error", err))
		}
	}
}

// FlagDiscrepancy puts the batch in DISCREPANCY and opens a review exception.
// Automatic status recomputation leaves the batch alone until it is resolved.
func (e *Engine) FlagDiscrepancy(ctx context.Context, batchID uuid.UUID, actorID int64, reason string) (inventory.InboundBatch, inventory.Exception, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return inventory.InboundBatch{}, inventory.Exception{}, inventory.Invalid("reason", "required")
	}
	var (
		batch inventory.InboundBatch
		exc   inventory.Exception
	)
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		var err error
		batch, err = tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.SerializationStatus == inventory.SerializationDiscrepancy {
			return fmt.Errorf("batch %s: %w", batch.ID, inventory.ErrBatchDiscrepancy)
		}
		if err := tx.UpdateBatchStatus(ctx, batch.ID, inventory.SerializationDiscrepancy); err != nil {
			return err
		}
		batch.SerializationStatus = inventory.SerializationDiscrepancy
		id := batch.ID
		exc = inventory.Exception{
			ID:             uuid.New(),
			Type:           inventory.ExceptionSerializationDiscrepancy,
			InboundBatchID: &id,
			Reason:         reason,
			CreatedAt:      e.now(),
			CreatedBy:      actorID,
		}
		return tx.InsertException(ctx, exc)
	})
	if err != nil {
		return inventory.InboundBatch{}, inventory.Exception{}, err
	}
	e.record(ctx, actorID, "batch:flag_discrepancy", batch, map[string]any{"reason": reason, "exception_id": exc.ID.String()})
	return batch, exc, nil
}

// ResolveDiscrepancy clears DISCREPANCY by recomputing the status from the
// serialized count.
func (e *Engine) ResolveDiscrepancy(ctx context.Context, batchID uuid.UUID, actorID int64, note string) (inventory.InboundBatch, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return inventory.InboundBatch{}, inventory.Invalid("note", "required")
	}
	var batch inventory.InboundBatch
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		var err error
		batch, err = tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.SerializationStatus != inventory.SerializationDiscrepancy {
			return fmt.Errorf("batch %s is %s, not in discrepancy: %w", batch.ID, batch.SerializationStatus, inventory.ErrPrecondition)
		}
		count, err := tx.CountSerialized(ctx, batch.ID)
		if err != nil {
			return err
		}
		batch.SerializationStatus = inventory.CountStatus(count, batch.QuantityReceived)
		return tx.UpdateBatchStatus(ctx, batch.ID, batch.SerializationStatus)
	})
	if err != nil {
		return inventory.InboundBatch{}, err
	}
	e.record(ctx, actorID, "batch:resolve_discrepancy", batch, map[string]any{"note": note})
	return batch, nil
}

// Correction is the outcome of FlagMisSerialized.
type Correction struct {
	Original    inventory.Bottle
	Replacement inventory.Bottle
	Movement    inventory.Movement
	Exception   inventory.Exception
	MintRequest inventory.MintRequest
}

// FlagMisSerialized retires a wrongly labelled bottle. A replacement with a
// fresh serial and the same lineage, location and case takes its place; the
// original ends MIS_SERIALIZED pointing at it. The swap is recorded as a
// SERIAL_CORRECTION movement and a mis_serialization exception.
func (e *Engine) FlagMisSerialized(ctx context.Context, bottleID uuid.UUID, actorID int64, reason string) (Correction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Correction{}, inventory.Invalid("reason", "required")
	}
	if actorID == 0 {
		return Correction{}, inventory.Invalid("actor", "required")
	}
	var out Correction
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		original, err := tx.GetBottleForUpdate(ctx, bottleID)
		if err != nil {
			return err
		}
		if original.State.Terminal() {
			return fmt.Errorf("bottle %s in state %s: %w", original.SerialNumber, original.State, inventory.ErrBottleTerminal)
		}
		batch, err := tx.GetBatchForUpdate(ctx, original.InboundBatchID)
		if err != nil {
			return err
		}
		product, err := e.products.ResolveProduct(ctx, batch.Product)
		if err != nil {
			return fmt.Errorf("resolve product %s: %w", batch.Product, err)
		}
		serial, err := e.serials.Allocate(ctx, tx, map[string]struct{}{})
		if err != nil {
			return err
		}
		now := e.now()
		replacement, err := inventory.NewBottle(inventory.BottleSpec{
			SerialNumber:   serial,
			Product:        inventory.Product{Ref: product.Ref, WineVariantID: original.WineVariantID, FormatID: original.FormatID, Label: product.Label},
			AllocationID:   original.AllocationID,
			InboundBatchID: original.InboundBatchID,
			LocationID:     original.CurrentLocationID,
			CaseID:         original.CaseID,
			Ownership:      original.OwnershipType,
			SerializedAt:   now,
			SerializedBy:   actorID,
		})
		if err != nil {
			return err
		}
		retired, err := original.Apply(inventory.MarkMisSerialized(replacement.ID))
		if err != nil {
			return err
		}
		if err := tx.InsertBottle(ctx, replacement); err != nil {
			return err
		}
		if err := tx.UpdateBottle(ctx, retired); err != nil {
			return err
		}
		m, err := inventory.NewMovement(inventory.MovementSpec{
			Type:       inventory.MovementSerialCorrection,
			Trigger:    inventory.TriggerErpOperator,
			Source:     original.CurrentLocationID,
			Reason:     fmt.Sprintf("serial %s replaced by %s: %s", original.SerialNumber, replacement.SerialNumber, reason),
			ExecutedBy: actorID,
			ExecutedAt: now,
			Items: []inventory.ItemSpec{
				inventory.BottleItem(original.ID, original.CaseID),
				inventory.BottleItem(replacement.ID, replacement.CaseID),
			},
		})
		if err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, m); err != nil {
			return err
		}
		bid := original.ID
		exc := inventory.Exception{
			ID:        uuid.New(),
			Type:      inventory.ExceptionMisSerialization,
			BottleID:  &bid,
			CaseID:    original.CaseID,
			Reason:    fmt.Sprintf("serial %s flagged as mis-serialized; replacement %s (movement %s). %s", original.SerialNumber, replacement.SerialNumber, m.ID, reason),
			CreatedAt: now,
			CreatedBy: actorID,
		}
		if err := tx.InsertException(ctx, exc); err != nil {
			return err
		}
		out = Correction{
			Original:    retired,
			Replacement: replacement,
			Movement:    m,
			Exception:   exc,
			MintRequest: mintRequest(replacement, product),
		}
		return nil
	})
	if err != nil {
		return Correction{}, err
	}
	e.logger.Info("bottle mis-serialized",
		slog.String("original", out.Original.SerialNumber),
		slog.String("replacement", out.Replacement.SerialNumber))
	inventory.RecordAudit(ctx, e.audit, shared.AuditLog{
		ActorID:  actorID,
		Action:   "bottle:mis_serialized",
		Entity:   "serialized_bottles",
		EntityID: out.Original.ID.String(),
		Meta: map[string]any{
			"replacement_id": out.Replacement.ID.String(),
			"movement_id":    out.Movement.ID.String(),
		},
	})
	e.dispatch(ctx, []inventory.MintRequest{out.MintRequest})
	return out, nil
}

func (e *Engine) record(ctx context.Context, actorID int64, action string, batch inventory.InboundBatch, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["status"] = string(batch.SerializationStatus)
	inventory.RecordAudit(ctx, e.audit, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   AuditEntity,
		EntityID: batch.ID.String(),
		Meta:     meta,
	})
}

func mintRequest(b inventory.Bottle, p inventory.Product) inventory.MintRequest {
	return inventory.MintRequest{
		BottleID:     b.ID,
		SerialNumber: b.SerialNumber,
		AllocationID: b.AllocationID,
		ProductLabel: p.Label,
	}
}
