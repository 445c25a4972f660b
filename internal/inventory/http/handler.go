package inventoryhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/inventory/cases"
	"github.com/odyssey-erp/cellar/internal/inventory/commitment"
	"github.com/odyssey-erp/cellar/internal/inventory/exceptions"
	"github.com/odyssey-erp/cellar/internal/inventory/ledger"
	"github.com/odyssey-erp/cellar/internal/inventory/location"
	"github.com/odyssey-erp/cellar/internal/inventory/override"
	"github.com/odyssey-erp/cellar/internal/inventory/serialization"
	"github.com/odyssey-erp/cellar/internal/inventory/wms"
	"github.com/odyssey-erp/cellar/internal/platform/db"
	"github.com/odyssey-erp/cellar/internal/platform/httpx"
	"github.com/odyssey-erp/cellar/internal/shared"
)

const (
	// IdempotencyHeader carries the client's key on serialize requests.
	IdempotencyHeader = "Idempotency-Key"
	idempotencyModule = "inventory.serialize"
	maxWMSBatch       = 500
)

// Guard builds permission middleware; rbac.Middleware implements it.
type Guard interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
}

// IdempotencyStore remembers processed request keys.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Services groups the inventory components the API fronts.
type Services struct {
	Repo        inventory.RepositoryPort
	Locations   *location.Registry
	Serializer  *serialization.Engine
	Cases       *cases.Tracker
	Ledger      *ledger.Ledger
	Stock       *commitment.Calculator
	Overrides   *override.Service
	Exceptions  *exceptions.Service
	WMS         *wms.Ingestor
	Idempotency IdempotencyStore
}

// Handler exposes the inventory JSON API.
type Handler struct {
	logger   *slog.Logger
	svc      Services
	guard    Guard
	validate *validator.Validate
	stock    singleflight.Group
}

// NewHandler constructs the handler. guard may be nil, leaving routes open.
func NewHandler(logger *slog.Logger, svc Services, guard Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, svc: svc, guard: guard, validate: v}
}

// MountRoutes registers inventory routes under /inventory.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			h.require(r, shared.PermInventoryView)
			r.Get("/locations", h.listLocations)
			r.Get("/locations/{id}", h.getLocation)
			r.Get("/batches/{id}", h.getBatch)
			r.Get("/bottles", h.listBottles)
			r.Get("/bottles/{id}", h.getBottle)
			r.Get("/bottles/serial/{serial}", h.getBottleBySerial)
			r.Get("/bottles/{id}/movements", h.bottleHistory)
			r.Get("/cases/{id}", h.getCase)
			r.Get("/cases/{id}/bottles", h.caseContents)
			r.Get("/cases/{id}/movements", h.caseHistory)
			r.Get("/movements/{id}", h.getMovement)
			r.Get("/allocations/{id}/stock", h.allocationStock)
			r.Get("/exceptions", h.listExceptions)
			r.Get("/exceptions/{id}", h.getException)
		})
		r.Group(func(r chi.Router) {
			h.require(r, shared.PermInventoryLocations)
			r.Post("/locations", h.createLocation)
			r.Post("/locations/{id}/activate", h.activateLocation)
			r.Post("/locations/{id}/deactivate", h.deactivateLocation)
			r.Put("/locations/{id}/serialization", h.authorizeLocation)
		})
		r.Group(func(r chi.Router) {
			h.require(r, shared.PermInventoryReceive)
			r.Post("/batches", h.registerBatch)
			r.Post("/batches/{id}/discrepancy", h.flagDiscrepancy)
			r.Post("/batches/{id}/discrepancy/resolve", h.resolveDiscrepancy)
		})
		r.Group(func(r chi.Router) {
			h.require(r, shared.PermInventorySerialize)
			r.Post("/batches/{id}/serialize", h.serializeBatch)
			r.Post("/bottles/{id}/mis-serialized", h.flagMisSerialized)
		})
		r.Group(func(r chi.Router) {
			h.require(r, shared.PermInventoryMove)
			r.Post("/bottles/{id}/transfer", h.transferBottle)
			r.Post("/bottles/{id}/consume", h.consumeBottle)
			r.Post("/bottles/{id}/destroy", h.destroyBottle)
			r.Post("/bottles/{id}/missing", h.markMissing)
			r.Post("/cases/{id}/transfer", h.transferCase)
		})
		r.Group(func(r chi.Router) {
			h.require(r, shared.PermInventoryCases)
			r.Post("/cases/{id}/break", h.breakCase)
		})
		r.Group(func(r chi.Router) {
			h.require(r, shared.PermInventoryOverride)
			r.Post("/overrides", h.executeOverride)
		})
		r.Group(func(r chi.Router) {
			h.require(r, shared.PermInventoryExceptionsResolve)
			r.Post("/exceptions/{id}/resolve", h.resolveException)
		})
		r.Group(func(r chi.Router) {
			h.require(r, shared.PermInventoryWMS)
			r.Post("/wms/events", h.ingestWMS)
		})
	})
}

func (h *Handler) require(r chi.Router, perms ...string) {
	if h.guard != nil {
		r.Use(h.guard.RequireAny(perms...))
	}
}

// Locations.

type createLocationRequest struct {
	Name                    string `json:"name" validate:"required,max=200"`
	Type                    string `json:"location_type" validate:"required,oneof=WAREHOUSE BONDED_STORE EVENT_VENUE PRODUCER IN_TRANSIT"`
	Country                 string `json:"country" validate:"required,len=2"`
	SerializationAuthorized bool   `json:"serialization_authorized"`
}

type authorizeRequest struct {
	Authorized *bool `json:"authorized" validate:"required"`
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.svc.Locations.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]locationView, 0, len(locs))
	for _, l := range locs {
		out = append(out, newLocationView(l))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	loc, err := h.svc.Locations.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newLocationView(loc))
}

func (h *Handler) createLocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createLocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	loc, err := h.svc.Locations.Create(r.Context(), actor, location.CreateInput{
		Name:                    req.Name,
		Type:                    inventory.LocationType(req.Type),
		Country:                 req.Country,
		SerializationAuthorized: req.SerializationAuthorized,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newLocationView(loc))
}

func (h *Handler) activateLocation(w http.ResponseWriter, r *http.Request) {
	h.locationChange(w, r, h.svc.Locations.Activate)
}

func (h *Handler) deactivateLocation(w http.ResponseWriter, r *http.Request) {
	h.locationChange(w, r, h.svc.Locations.Deactivate)
}

func (h *Handler) locationChange(w http.ResponseWriter, r *http.Request, change func(context.Context, int64, uuid.UUID) (inventory.Location, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	loc, err := change(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newLocationView(loc))
}

func (h *Handler) authorizeLocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req authorizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	loc, err := h.svc.Locations.SetSerializationAuthorized(r.Context(), actor, id, *req.Authorized)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newLocationView(loc))
}

// Batches and serialization.

type registerBatchRequest struct {
	ProductKind      string     `json:"product_kind" validate:"required,oneof=SELLABLE_SKU LIQUID_PRODUCT"`
	ProductID        uuid.UUID  `json:"product_id" validate:"required"`
	AllocationID     uuid.UUID  `json:"allocation_id" validate:"required"`
	QuantityExpected int        `json:"quantity_expected" validate:"min=0"`
	QuantityReceived int        `json:"quantity_received" validate:"required,min=1"`
	LocationID       uuid.UUID  `json:"receiving_location_id" validate:"required"`
	OwnershipType    string     `json:"ownership_type" validate:"omitempty,oneof=OWNED CONSIGNMENT CUSTOMER"`
	ReceivedAt       *time.Time `json:"received_at"`
}

type serializeRequest struct {
	Quantity            int       `json:"quantity" validate:"required,min=1"`
	BottlesPerCase      int       `json:"bottles_per_case" validate:"omitempty,min=1,max=24"`
	CaseConfigurationID uuid.UUID `json:"case_configuration_id"`
	Breakable           bool      `json:"breakable"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type noteRequest struct {
	Note string `json:"note" validate:"required,max=1000"`
}

func (h *Handler) registerBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req registerBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := serialization.RegisterBatchInput{
		Product:          inventory.ProductRef{Kind: inventory.ProductKind(req.ProductKind), ID: req.ProductID},
		AllocationID:     req.AllocationID,
		QuantityExpected: req.QuantityExpected,
		QuantityReceived: req.QuantityReceived,
		LocationID:       req.LocationID,
		Ownership:        inventory.OwnershipType(req.OwnershipType),
		ActorID:          actor,
	}
	if req.ReceivedAt != nil {
		in.ReceivedAt = req.ReceivedAt.UTC()
	}
	batch, err := h.svc.Serializer.RegisterBatch(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newBatchView(batch))
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	batch, err := h.svc.Repo.GetBatch(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newBatchView(batch))
}

func (h *Handler) serializeBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req serializeRequest
	if !h.decode(w, r, &req) {
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.svc.Idempotency != nil {
		if err := h.svc.Idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	in := serialization.SerializeInput{BatchID: id, Quantity: req.Quantity, OperatorID: actor}
	if req.BottlesPerCase > 0 {
		in.Grouping = &serialization.CaseGrouping{
			BottlesPerCase:  req.BottlesPerCase,
			ConfigurationID: req.CaseConfigurationID,
			Breakable:       req.Breakable,
		}
	}
	res, err := h.svc.Serializer.SerializeBatch(r.Context(), in)
	if err != nil {
		if key != "" && h.svc.Idempotency != nil {
			if derr := h.svc.Idempotency.Delete(r.Context(), key); derr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", derr))
			}
		}
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newSerializeView(res))
}

func (h *Handler) flagDiscrepancy(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	batch, exc, err := h.svc.Serializer.FlagDiscrepancy(r.Context(), id, actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ev := newExceptionView(exc)
	httpx.JSON(w, http.StatusOK, discrepancyView{Batch: newBatchView(batch), Exception: &ev})
}

func (h *Handler) resolveDiscrepancy(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if !h.decode(w, r, &req) {
		return
	}
	batch, err := h.svc.Serializer.ResolveDiscrepancy(r.Context(), id, actor, req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, discrepancyView{Batch: newBatchView(batch)})
}

func (h *Handler) flagMisSerialized(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	corr, err := h.svc.Serializer.FlagMisSerialized(r.Context(), id, actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, correctionView{
		Original:    newBottleView(corr.Original),
		Replacement: newBottleView(corr.Replacement),
		Movement:    newMovementView(corr.Movement),
		Exception:   newExceptionView(corr.Exception),
	})
}

// Bottles.

func (h *Handler) listBottles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := inventory.BottleFilter{
		State: inventory.BottleState(strings.ToUpper(q.Get("state"))),
		Limit: queryLimit(r),
	}
	for param, dst := range map[string]*uuid.UUID{
		"allocation_id":    &filter.AllocationID,
		"inbound_batch_id": &filter.InboundBatchID,
		"location_id":      &filter.LocationID,
		"case_id":          &filter.CaseID,
	} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			h.fail(w, r, inventory.Invalid(param, "not a uuid"))
			return
		}
		*dst = id
	}
	bottles, err := h.svc.Repo.ListBottles(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newBottleViews(bottles))
}

func (h *Handler) getBottle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.Repo.GetBottle(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newBottleView(b))
}

func (h *Handler) getBottleBySerial(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Repo.GetBottleBySerial(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newBottleView(b))
}

func (h *Handler) bottleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	moves, err := h.svc.Ledger.BottleHistory(r.Context(), id, queryLimit(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newMovementViews(moves))
}

type transferRequest struct {
	ToLocationID   uuid.UUID `json:"to_location_id" validate:"required"`
	CustodyChanged bool      `json:"custody_changed"`
	Reason         string    `json:"reason" validate:"max=1000"`
}

type consumeRequest struct {
	Type   string `json:"movement_type" validate:"omitempty,oneof=EVENT_CONSUMPTION CONSUMPTION"`
	Reason string `json:"reason" validate:"max=1000"`
}

func (h *Handler) transferBottle(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.svc.Ledger.TransferBottle(r.Context(), ledger.TransferInput{
		Event:          ledger.Event{ActorID: actor, Reason: req.Reason},
		BottleID:       id,
		To:             req.ToLocationID,
		CustodyChanged: req.CustodyChanged,
	})
	h.movement(w, r, m, err)
}

func (h *Handler) consumeBottle(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req consumeRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.svc.Ledger.Consume(r.Context(), ledger.ConsumeInput{
		Event:    ledger.Event{ActorID: actor, Reason: req.Reason},
		BottleID: id,
		Type:     inventory.MovementType(req.Type),
	})
	h.movement(w, r, m, err)
}

func (h *Handler) destroyBottle(w http.ResponseWriter, r *http.Request) {
	h.removal(w, r, h.svc.Ledger.Destroy)
}

func (h *Handler) markMissing(w http.ResponseWriter, r *http.Request) {
	h.removal(w, r, h.svc.Ledger.MarkMissing)
}

func (h *Handler) removal(w http.ResponseWriter, r *http.Request, op func(context.Context, ledger.RemovalInput) (inventory.Movement, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := op(r.Context(), ledger.RemovalInput{
		Event:    ledger.Event{ActorID: actor, Reason: req.Reason},
		BottleID: id,
	})
	h.movement(w, r, m, err)
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, m inventory.Movement, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newMovementView(m))
}

// Cases.

func (h *Handler) getCase(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Cases.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newCaseView(c))
}

func (h *Handler) caseContents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	bottles, err := h.svc.Cases.Contents(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newBottleViews(bottles))
}

func (h *Handler) caseHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	moves, err := h.svc.Ledger.CaseHistory(r.Context(), id, queryLimit(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newMovementViews(moves))
}

func (h *Handler) breakCase(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.svc.Cases.BreakCase(r.Context(), id, actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newCaseView(c))
}

func (h *Handler) transferCase(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.svc.Ledger.TransferCase(r.Context(), ledger.CaseTransferInput{
		Event:          ledger.Event{ActorID: actor, Reason: req.Reason},
		CaseID:         id,
		To:             req.ToLocationID,
		CustodyChanged: req.CustodyChanged,
	})
	h.movement(w, r, m, err)
}

// Ledger and stock.

func (h *Handler) getMovement(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	m, err := h.svc.Ledger.GetMovement(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newMovementView(m))
}

// allocationStock coalesces concurrent lookups of the same allocation; the
// figures are derived live on every call that is not already in flight.
// The shared lookup outlives any single caller, so one client hanging up
// does not fail the others waiting on it.
func (h *Handler) allocationStock(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	detached := context.WithoutCancel(ctx)
	ch := h.stock.DoChan(id.String(), func() (any, error) {
		return h.svc.Stock.Snapshot(detached, id)
	})
	select {
	case <-ctx.Done():
		return
	case res := <-ch:
		if res.Err != nil {
			h.fail(w, r, res.Err)
			return
		}
		httpx.JSON(w, http.StatusOK, res.Val.(commitment.Snapshot))
	}
}

// Overrides and exceptions.

type overrideRequest struct {
	BottleIDs     []uuid.UUID `json:"bottle_ids" validate:"required,min=1,max=200"`
	Justification string      `json:"justification" validate:"required,max=4000"`
	Reason        string      `json:"reason" validate:"required,max=1000"`
	Notes         string      `json:"notes" validate:"max=4000"`
	Type          string      `json:"movement_type" validate:"omitempty,oneof=EVENT_CONSUMPTION CONSUMPTION"`
}

type resolveRequest struct {
	Resolution string `json:"resolution" validate:"required,max=4000"`
}

func (h *Handler) executeOverride(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Overrides.ExecuteOverride(r.Context(), override.Input{
		ActorID:       actor,
		Justification: req.Justification,
		BottleIDs:     req.BottleIDs,
		Reason:        req.Reason,
		Notes:         req.Notes,
		Type:          inventory.MovementType(req.Type),
	})
	if errors.Is(err, inventory.ErrOverrideFailed) {
		httpx.JSON(w, http.StatusUnprocessableEntity, newOverrideView(res))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newOverrideView(res))
}

func (h *Handler) listExceptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := inventory.ExceptionFilter{
		Type:  inventory.ExceptionType(q.Get("type")),
		Limit: queryLimit(r),
	}
	if raw := q.Get("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			h.fail(w, r, inventory.Invalid("resolved", "must be true or false"))
			return
		}
		filter.Resolved = &resolved
	}
	list, err := h.svc.Exceptions.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newExceptionViews(list))
}

func (h *Handler) getException(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	exc, err := h.svc.Exceptions.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newExceptionView(exc))
}

func (h *Handler) resolveException(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	exc, err := h.svc.Exceptions.Resolve(r.Context(), id, actor, req.Resolution)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newExceptionView(exc))
}

// WMS.

type wmsBatchRequest struct {
	Events []wms.Event `json:"events" validate:"required,min=1"`
}

func (h *Handler) ingestWMS(w http.ResponseWriter, r *http.Request) {
	var req wmsBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Events) > maxWMSBatch {
		h.fail(w, r, inventory.Invalid("events", "at most %d events per request", maxWMSBatch))
		return
	}
	results := h.svc.WMS.IngestAll(r.Context(), req.Events)
	out := make([]wmsResultView, 0, len(results))
	for _, res := range results {
		out = append(out, newWMSResultView(res))
	}
	httpx.JSON(w, http.StatusOK, out)
}

// Helpers.

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return 0, false
	}
	return id, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, inventory.Invalid("id", "not a uuid"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		h.fail(w, r, inventory.Invalid("body", "%v", err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = "failed " + fe.Tag()
			}
			httpx.ValidationProblem(w, "request failed validation", fields)
			return false
		}
		h.fail(w, r, inventory.Invalid("body", "%v", err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	classified := classify(err)
	if classified == err {
		h.logger.Error("inventory request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, classified)
}

// classify maps inventory error categories onto HTTP problem categories.
// Anything unrecognised is returned unchanged and ends up a 500.
func classify(err error) error {
	switch {
	case errors.Is(err, inventory.ErrValidation):
		return httpx.Classify(httpx.ErrValidation, err)
	case errors.Is(err, inventory.ErrNotFound):
		return httpx.Classify(httpx.ErrNotFound, err)
	case errors.Is(err, inventory.ErrPermissionDenied):
		return httpx.Classify(httpx.ErrForbidden, err)
	case errors.Is(err, inventory.ErrDuplicateEvent),
		errors.Is(err, inventory.ErrDuplicateSerial),
		errors.Is(err, shared.ErrIdempotencyConflict):
		return httpx.Classify(httpx.ErrDuplicate, err)
	case errors.Is(err, inventory.ErrInvariant),
		errors.Is(err, db.ErrSerialization):
		return httpx.Classify(httpx.ErrConflict, err)
	case errors.Is(err, inventory.ErrPrecondition):
		return httpx.Classify(httpx.ErrUnprocessable, err)
	}
	return err
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
