package inventoryhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/inventory/cases"
	"github.com/odyssey-erp/cellar/internal/inventory/commitment"
	"github.com/odyssey-erp/cellar/internal/inventory/exceptions"
	"github.com/odyssey-erp/cellar/internal/inventory/inventorytest"
	"github.com/odyssey-erp/cellar/internal/inventory/ledger"
	"github.com/odyssey-erp/cellar/internal/inventory/location"
	"github.com/odyssey-erp/cellar/internal/inventory/override"
	"github.com/odyssey-erp/cellar/internal/inventory/serialization"
	"github.com/odyssey-erp/cellar/internal/inventory/wms"
	"github.com/odyssey-erp/cellar/internal/shared"
)

const operator = int64(42)

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryKeys) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryKeys) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *memoryKeys) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok
}

type apiHarness struct {
	f      *inventorytest.Fixture
	keys   *memoryKeys
	router chi.Router
}

func newAPI(t *testing.T, received int) *apiHarness {
	t.Helper()
	return newAPIWithVouchers(t, received, nil)
}

// newAPIWithVouchers wraps the fixture's voucher table when wrap is not nil.
func newAPIWithVouchers(t *testing.T, received int, wrap func(inventory.VoucherReader) inventory.VoucherReader) *apiHarness {
	t.Helper()
	f := inventorytest.NewFixture(received)
	f.Permissions.Grant(operator, override.DefaultPermission)
	var vouchers inventory.VoucherReader = f.Vouchers
	if wrap != nil {
		vouchers = wrap(f.Vouchers)
	}
	calc := commitment.NewCalculator(f.Store, vouchers)
	led := ledger.New(f.Store, calc, ledger.Options{})
	keys := &memoryKeys{keys: map[string]string{}}
	h := NewHandler(nil, Services{
		Repo:        f.Store,
		Locations:   location.NewRegistry(f.Store, f.Audit, nil),
		Serializer:  serialization.NewEngine(f.Store, f.Products, nil, serialization.Options{Audit: f.Audit}),
		Cases:       cases.NewTracker(f.Store, f.Audit, nil),
		Ledger:      led,
		Stock:       calc,
		Overrides:   override.NewService(f.Store, calc, led, f.Permissions, override.Options{Audit: f.Audit}),
		Exceptions:  exceptions.NewService(f.Store, f.Audit, nil),
		WMS:         wms.NewIngestor(led, f.Store, nil, nil, nil),
		Idempotency: keys,
	}, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := r.Header.Get("X-Actor-ID"); raw != "" {
				id, _ := strconv.ParseInt(raw, 10, 64)
				r = r.WithContext(shared.ContextWithActor(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	})
	h.MountRoutes(r)
	return &apiHarness{f: f, keys: keys, router: r}
}

func (a *apiHarness) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	return a.doCtx(context.Background(), method, path, body, headers...)
}

func (a *apiHarness) doCtx(ctx context.Context, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequestWithContext(ctx, method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", strconv.FormatInt(operator, 10))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSerializeHonoursIdempotencyKey(t *testing.T) {
	api := newAPI(t, 4)
	path := "/inventory/batches/" + api.f.Batch.ID.String() + "/serialize"

	rec := api.do(http.MethodPost, path, map[string]any{"quantity": 2}, IdempotencyHeader, "serialize-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[serializeView](t, rec)
	require.Len(t, res.Bottles, 2)
	require.Equal(t, string(inventory.SerializationPartial), res.Batch.SerializationStatus)

	rec = api.do(http.MethodPost, path, map[string]any{"quantity": 2}, IdempotencyHeader, "serialize-1")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, 2, len(api.f.Store.Bottles()))
}

func TestSerializeFailureReleasesKey(t *testing.T) {
	api := newAPI(t, 4)
	path := "/inventory/batches/" + api.f.Batch.ID.String() + "/serialize"

	rec := api.do(http.MethodPost, path, map[string]any{"quantity": 9}, IdempotencyHeader, "too-many")
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	require.False(t, api.keys.has("too-many"))
	require.Empty(t, api.f.Store.Bottles())
}

func TestTransferAndHistory(t *testing.T) {
	api := newAPI(t, 1)
	bottle := api.f.StoredBottles(1, api.f.Warehouse.ID)[0]

	rec := api.do(http.MethodPost, "/inventory/bottles/"+bottle.ID.String()+"/transfer", map[string]any{
		"to_location_id":  api.f.Venue.ID,
		"custody_changed": true,
		"reason":          "tasting",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	mv := decodeBody[movementView](t, rec)
	require.Equal(t, string(inventory.MovementInternalTransfer), mv.Type)
	require.Equal(t, string(inventory.TriggerErpOperator), mv.Trigger)
	require.Equal(t, operator, mv.ExecutedBy)

	rec = api.do(http.MethodGet, "/inventory/bottles/"+bottle.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, api.f.Venue.ID, decodeBody[bottleView](t, rec).CurrentLocationID)

	rec = api.do(http.MethodGet, "/inventory/bottles/"+bottle.ID.String()+"/movements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]movementView](t, rec)
	require.Len(t, history, 1)
	require.Equal(t, mv.ID, history[0].ID)
}

func TestConsumeCommittedBottleIsUnprocessable(t *testing.T) {
	api := newAPI(t, 1)
	bottle := api.f.StoredBottles(1, api.f.Warehouse.ID)[0]
	api.f.Vouchers.Add(api.f.Batch.AllocationID, inventory.VoucherIssued, 1)

	rec := api.do(http.MethodPost, "/inventory/bottles/"+bottle.ID.String()+"/consume", map[string]any{
		"movement_type": "EVENT_CONSUMPTION",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = api.do(http.MethodGet, "/inventory/allocations/"+api.f.Batch.AllocationID.String()+"/stock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[commitment.Snapshot](t, rec)
	require.Equal(t, 1, snap.Stored)
	require.Equal(t, 1, snap.Committed)
	require.Equal(t, 0, snap.Free)
}

func TestOverrideEndpoint(t *testing.T) {
	api := newAPI(t, 1)
	bottle := api.f.StoredBottles(1, api.f.Warehouse.ID)[0]
	api.f.Vouchers.Add(api.f.Batch.AllocationID, inventory.VoucherIssued, 1)

	rec := api.do(http.MethodPost, "/inventory/overrides", map[string]any{
		"bottle_ids":    []uuid.UUID{bottle.ID},
		"justification": "too short",
		"reason":        "press",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, "/inventory/overrides", map[string]any{
		"bottle_ids":    []uuid.UUID{bottle.ID},
		"justification": "Sommelier tasting for press",
		"reason":        "press launch",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[overrideView](t, rec)
	require.Equal(t, 1, res.ConsumedCount)
	require.Len(t, res.Exceptions, 1)
	require.Equal(t, string(inventory.ExceptionCommittedOverride), res.Exceptions[0].Type)
	require.Empty(t, res.Errors)
}

func TestValidationProblemListsFields(t *testing.T) {
	api := newAPI(t, 1)

	rec := api.do(http.MethodPost, "/inventory/locations", map[string]any{"location_type": "GARAGE"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	problem := decodeBody[struct {
		Errors map[string]string `json:"errors"`
	}](t, rec)
	require.Contains(t, problem.Errors, "name")
	require.Contains(t, problem.Errors, "location_type")
	require.Contains(t, problem.Errors, "country")

	rec = api.do(http.MethodPost, "/inventory/locations", map[string]any{"name": "x", "unknown": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateLocationAndAuthorise(t *testing.T) {
	api := newAPI(t, 1)

	rec := api.do(http.MethodPost, "/inventory/locations", map[string]any{
		"name":          "Producer Cellar",
		"location_type": "PRODUCER",
		"country":       "FR",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loc := decodeBody[locationView](t, rec)
	require.False(t, loc.SerializationAuthorized)

	rec = api.do(http.MethodPut, "/inventory/locations/"+loc.ID.String()+"/serialization", map[string]any{"authorized": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, decodeBody[locationView](t, rec).SerializationAuthorized)

	rec = api.do(http.MethodPut, "/inventory/locations/"+loc.ID.String()+"/serialization", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatuses(t *testing.T) {
	api := newAPI(t, 1)

	rec := api.do(http.MethodGet, "/inventory/bottles/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(http.MethodGet, "/inventory/bottles/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/inventory/batches/"+api.f.Batch.ID.String()+"/serialize", bytes.NewBufferString(`{"quantity":1}`))
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExceptionResolvesOnce(t *testing.T) {
	api := newAPI(t, 2)

	rec := api.do(http.MethodPost, "/inventory/batches/"+api.f.Batch.ID.String()+"/discrepancy", map[string]any{
		"reason": "two labels smudged",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	flagged := decodeBody[discrepancyView](t, rec)
	require.NotNil(t, flagged.Exception)
	require.Equal(t, string(inventory.SerializationDiscrepancy), flagged.Batch.SerializationStatus)

	rec = api.do(http.MethodGet, "/inventory/exceptions?resolved=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]exceptionView](t, rec), 1)

	path := "/inventory/exceptions/" + flagged.Exception.ID.String() + "/resolve"
	rec = api.do(http.MethodPost, path, map[string]any{"resolution": "relabelled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, decodeBody[exceptionView](t, rec).ResolvedAt)

	rec = api.do(http.MethodPost, path, map[string]any{"resolution": "again"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodGet, "/inventory/exceptions?resolved=maybe", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWMSBatchEndpoint(t *testing.T) {
	api := newAPI(t, 1)
	bottle := api.f.StoredBottles(1, api.f.Warehouse.ID)[0]
	event := map[string]any{"event_id": "wms-9", "kind": "missing", "bottle_id": bottle.ID}

	rec := api.do(http.MethodPost, "/inventory/wms/events", map[string]any{"events": []any{event, event}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decodeBody[[]wmsResultView](t, rec)
	require.Len(t, results, 2)
	require.NotNil(t, results[0].MovementID)
	require.Empty(t, results[0].Error)
	require.True(t, results[1].Duplicate)

	rec = api.do(http.MethodPost, "/inventory/wms/events", map[string]any{"events": []any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type denyAll struct{}

func (denyAll) RequireAny(...string) func(http.Handler) http.Handler {
	return func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	}
}

func TestGuardWrapsRoutes(t *testing.T) {
	f := inventorytest.NewFixture(1)
	h := NewHandler(nil, Services{Repo: f.Store}, denyAll{})
	r := chi.NewRouter()
	h.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory/bottles", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

type gatedVouchers struct {
	inventory.VoucherReader
	entered chan struct{}
	release chan struct{}
}

func (g *gatedVouchers) CountVouchers(ctx context.Context, allocationID uuid.UUID, states []inventory.VoucherState) (int, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return g.VoucherReader.CountVouchers(ctx, allocationID, states)
}

func TestStockLookupSurvivesCancelledPeer(t *testing.T) {
	gate := &gatedVouchers{entered: make(chan struct{}, 1), release: make(chan struct{})}
	a := newAPIWithVouchers(t, 3, func(v inventory.VoucherReader) inventory.VoucherReader {
		gate.VoucherReader = v
		return gate
	})
	a.f.StoredBottles(3, a.f.Warehouse.ID)
	a.f.Vouchers.Add(a.f.Batch.AllocationID, inventory.VoucherIssued, 1)
	path := "/inventory/allocations/" + a.f.Batch.AllocationID.String() + "/stock"

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		a.doCtx(leaderCtx, http.MethodGet, path, nil)
	}()
	<-gate.entered

	followerDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		followerDone <- a.do(http.MethodGet, path, nil)
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-leaderDone:
	case <-time.After(time.Second):
		t.Fatal("cancelled request still waiting on the shared lookup")
	}
	close(gate.release)

	rec := <-followerDone
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decodeBody[commitment.Snapshot](t, rec)
	require.Equal(t, 3, snap.Stored)
	require.Equal(t, 1, snap.Committed)
	require.Equal(t, 2, snap.Free)
}
