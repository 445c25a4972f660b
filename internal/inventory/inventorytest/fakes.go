package inventorytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/shared"
)

func sortBySerial(bottles []inventory.Bottle) {
	sort.Slice(bottles, func(i, j int) bool { return bottles[i].SerialNumber < bottles[j].SerialNumber })
}

// Vouchers is an in-memory inventory.VoucherReader.
type Vouchers struct {
	mu      sync.Mutex
	byAlloc map[uuid.UUID][]inventory.VoucherState
}

// NewVouchers returns an empty voucher table.
func NewVouchers() *Vouchers {
	return &Vouchers{byAlloc: map[uuid.UUID][]inventory.VoucherState{}}
}

// Add records n vouchers of the allocation in state.
func (v *Vouchers) Add(allocationID uuid.UUID, state inventory.VoucherState, n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := 0; i < n; i++ {
		v.byAlloc[allocationID] = append(v.byAlloc[allocationID], state)
	}
}

// Transition moves one voucher of the allocation from one state to another
// and reports whether a voucher in from was found.
func (v *Vouchers) Transition(allocationID uuid.UUID, from, to inventory.VoucherState) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	states := v.byAlloc[allocationID]
	for i, s := range states {
		if s == from {
			states[i] = to
			return true
		}
	}
	return false
}

func (v *Vouchers) CountVouchers(_ context.Context, allocationID uuid.UUID, states []inventory.VoucherState) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, s := range v.byAlloc[allocationID] {
		for _, want := range states {
			if s == want {
				n++
				break
			}
		}
	}
	return n, nil
}

// Products is an in-memory inventory.ProductResolver.
type Products struct {
	mu    sync.Mutex
	items map[inventory.ProductRef]inventory.Product
}

// NewProducts returns an empty catalogue.
func NewProducts() *Products {
	return &Products{items: map[inventory.ProductRef]inventory.Product{}}
}

// Add registers a product under a fresh reference of kind and returns it.
func (p *Products) Add(kind inventory.ProductKind, label string) inventory.Product {
	prod := inventory.Product{
		Ref:           inventory.ProductRef{Kind: kind, ID: uuid.New()},
		WineVariantID: uuid.New(),
		FormatID:      uuid.New(),
		Label:         label,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[prod.Ref] = prod
	return prod
}

func (p *Products) ResolveProduct(_ context.Context, ref inventory.ProductRef) (inventory.Product, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prod, ok := p.items[ref]
	if !ok {
		return inventory.Product{}, fmt.Errorf("product %s: %w", ref, inventory.ErrNotFound)
	}
	return prod, nil
}

// Permissions is an in-memory inventory.PermissionChecker.
type Permissions struct {
	mu     sync.Mutex
	grants map[int64]map[string]bool
}

// NewPermissions returns a checker that grants nothing.
func NewPermissions() *Permissions {
	return &Permissions{grants: map[int64]map[string]bool{}}
}

// Grant gives actor the permission.
func (p *Permissions) Grant(actorID int64, permission string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.grants[actorID] == nil {
		p.grants[actorID] = map[string]bool{}
	}
	p.grants[actorID][permission] = true
}

func (p *Permissions) HasPermission(_ context.Context, actorID int64, permission string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grants[actorID][permission], nil
}

// Audit captures audit records.
type Audit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *Audit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

// Logs returns the captured records.
func (a *Audit) Logs() []shared.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]shared.AuditLog(nil), a.logs...)
}

// Fixture seeds a store with one authorised warehouse, a product and an
// inbound batch, the usual starting point of inventory tests.
type Fixture struct {
	Store       *Store
	Vouchers    *Vouchers
	Products    *Products
	Permissions *Permissions
	Audit       *Audit

	Warehouse inventory.Location
	Venue     inventory.Location
	Product   inventory.Product
	Batch     inventory.InboundBatch
}

// NewFixture builds a Fixture with a batch of received bottles.
func NewFixture(received int) *Fixture {
	f := &Fixture{
		Store:       NewStore(),
		Vouchers:    NewVouchers(),
		Products:    NewProducts(),
		Permissions: NewPermissions(),
		Audit:       &Audit{},
	}
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	f.Warehouse = inventory.Location{
		ID:                      uuid.New(),
		Name:                    "Bonded Warehouse London",
		Type:                    inventory.LocationBondedStore,
		Country:                 "GB",
		SerializationAuthorized: true,
		Status:                  inventory.LocationActive,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	f.Venue = inventory.Location{
		ID:        uuid.New(),
		Name:      "Tasting Room",
		Type:      inventory.LocationEventVenue,
		Country:   "GB",
		Status:    inventory.LocationActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.Store.PutLocation(f.Warehouse)
	f.Store.PutLocation(f.Venue)
	f.Product = f.Products.Add(inventory.ProductSellableSKU, "Chateau Example 2019 75cl")
	f.Batch = inventory.InboundBatch{
		ID:                  uuid.New(),
		Product:             f.Product.Ref,
		AllocationID:        uuid.New(),
		QuantityExpected:    received,
		QuantityReceived:    received,
		ReceivingLocationID: f.Warehouse.ID,
		OwnershipType:       inventory.OwnershipOwned,
		SerializationStatus: inventory.SerializationPending,
		ReceivedAt:          now,
		CreatedBy:           1,
	}
	f.Store.PutBatch(f.Batch)
	return f
}

// StoredBottles puts n STORED bottles of the fixture batch at loc and returns them.
func (f *Fixture) StoredBottles(n int, loc uuid.UUID) []inventory.Bottle {
	out := make([]inventory.Bottle, 0, n)
	for i := 0; i < n; i++ {
		b, err := inventory.NewBottle(inventory.BottleSpec{
			SerialNumber:   fmt.Sprintf("CRU-20260115-T%07d", len(f.Store.Bottles())+1),
			Product:        f.Product,
			AllocationID:   f.Batch.AllocationID,
			InboundBatchID: f.Batch.ID,
			LocationID:     loc,
			Ownership:      f.Batch.OwnershipType,
			SerializedBy:   1,
		})
		if err != nil {
			panic(err)
		}
		f.Store.PutBottle(b)
		out = append(out, b)
	}
	return out
}

// CaseOf puts an intact case at loc holding n new STORED bottles.
func (f *Fixture) CaseOf(n int, loc uuid.UUID, breakable bool) (inventory.Case, []inventory.Bottle) {
	c, err := inventory.NewCase(inventory.CaseSpec{
		ConfigurationID: uuid.New(),
		AllocationID:    f.Batch.AllocationID,
		InboundBatchID:  f.Batch.ID,
		LocationID:      loc,
		Breakable:       breakable,
	})
	if err != nil {
		panic(err)
	}
	f.Store.PutCase(c)
	bottles := f.StoredBottles(n, loc)
	for i := range bottles {
		id := c.ID
		bottles[i].CaseID = &id
		f.Store.PutBottle(bottles[i])
	}
	return c, bottles
}
