// Package inventorytest provides in-memory implementations of the inventory
// ports for tests. Store is transactional: every WithTx works on a copy of
// the committed state and publishes it only when the callback succeeds.
package inventorytest

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/cellar/internal/inventory"
)

type memoryState struct {
	locations  map[uuid.UUID]inventory.Location
	batches    map[uuid.UUID]inventory.InboundBatch
	bottles    map[uuid.UUID]inventory.Bottle
	cases      map[uuid.UUID]inventory.Case
	movements  []inventory.Movement
	exceptions map[uuid.UUID]inventory.Exception
}

func newMemoryState() *memoryState {
	return &memoryState{
		locations:  map[uuid.UUID]inventory.Location{},
		batches:    map[uuid.UUID]inventory.InboundBatch{},
		bottles:    map[uuid.UUID]inventory.Bottle{},
		cases:      map[uuid.UUID]inventory.Case{},
		exceptions: map[uuid.UUID]inventory.Exception{},
	}
}

// clone copies every table. Rows are values and movements are never
// mutated after insert, so shallow copies are enough.
func (s *memoryState) clone() *memoryState {
	return &memoryState{
		locations:  maps.Clone(s.locations),
		batches:    maps.Clone(s.batches),
		bottles:    maps.Clone(s.bottles),
		cases:      maps.Clone(s.cases),
		movements:  slices.Clone(s.movements),
		exceptions: maps.Clone(s.exceptions),
	}
}

// Store implements inventory.RepositoryPort in memory.
type Store struct {
	txMu sync.Mutex // serialises transactions, standing in for row locks
	mu   sync.Mutex // guards state
	st   *memoryState

	failMu sync.Mutex
	fail   map[string]failure

	lockMu sync.Mutex
	locks  []uuid.UUID
}

type failure struct {
	err   error
	match func(any) bool
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{st: newMemoryState(), fail: map[string]failure{}}
}

// FailOn makes every call of the named TxRepository method return err.
func (s *Store) FailOn(method string, err error) {
	s.FailWhen(method, err, nil)
}

// FailWhen makes the named TxRepository method return err when match
// accepts its main argument. A nil match accepts everything.
func (s *Store) FailWhen(method string, err error, match func(any) bool) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.fail[method] = failure{err: err, match: match}
}

// ClearFailures removes every injected failure.
func (s *Store) ClearFailures() {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.fail = map[string]failure{}
}

func (s *Store) injected(method string, arg any) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	f, ok := s.fail[method]
	if !ok {
		return nil
	}
	if f.match != nil && !f.match(arg) {
		return nil
	}
	return f.err
}

func (s *Store) recordLock(allocationID uuid.UUID) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	s.locks = append(s.locks, allocationID)
}

// AllocationLocks lists every LockAllocation call in order, committed or not.
func (s *Store) AllocationLocks() []uuid.UUID {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	return slices.Clone(s.locks)
}

func (s *Store) committed() *memoryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.clone()
}

// WithTx runs fn against a private copy of the state and commits it on success.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	work := s.committed()
	if err := fn(ctx, &memTx{store: s, st: work}); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

// Seeding helpers write committed rows directly.

// PutLocation stores loc.
func (s *Store) PutLocation(loc inventory.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.locations[loc.ID] = loc
}

// PutBatch stores b.
func (s *Store) PutBatch(b inventory.InboundBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.batches[b.ID] = b
}

// PutBottle stores b.
func (s *Store) PutBottle(b inventory.Bottle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.bottles[b.ID] = b
}

// PutCase stores c.
func (s *Store) PutCase(c inventory.Case) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.cases[c.ID] = c
}

// Movements returns every committed movement in insertion order.
func (s *Store) Movements() []inventory.Movement {
	return s.committed().movements
}

// Exceptions returns every committed exception.
func (s *Store) Exceptions() []inventory.Exception {
	out, _ := s.ListExceptions(context.Background(), inventory.ExceptionFilter{Limit: -1})
	return out
}

// Bottles returns every committed bottle ordered by serial.
func (s *Store) Bottles() []inventory.Bottle {
	out, _ := s.ListBottles(context.Background(), inventory.BottleFilter{Limit: -1})
	return out
}

// RepositoryPort reads.

func (s *Store) GetLocation(_ context.Context, id uuid.UUID) (inventory.Location, error) {
	return getLocation(s.committed(), id)
}

func (s *Store) ListLocations(_ context.Context) ([]inventory.Location, error) {
	st := s.committed()
	out := slices.Collect(maps.Values(st.locations))
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetBatch(_ context.Context, id uuid.UUID) (inventory.InboundBatch, error) {
	return getBatch(s.committed(), id)
}

func (s *Store) GetBottle(_ context.Context, id uuid.UUID) (inventory.Bottle, error) {
	return getBottle(s.committed(), id)
}

func (s *Store) GetBottleBySerial(_ context.Context, serial string) (inventory.Bottle, error) {
	for _, b := range s.committed().bottles {
		if b.SerialNumber == serial {
			return b, nil
		}
	}
	return inventory.Bottle{}, inventory.ErrBottleNotFound
}

func (s *Store) ListBottles(_ context.Context, f inventory.BottleFilter) ([]inventory.Bottle, error) {
	var out []inventory.Bottle
	for _, b := range s.committed().bottles {
		if f.AllocationID != uuid.Nil && b.AllocationID != f.AllocationID {
			continue
		}
		if f.InboundBatchID != uuid.Nil && b.InboundBatchID != f.InboundBatchID {
			continue
		}
		if f.LocationID != uuid.Nil && b.CurrentLocationID != f.LocationID {
			continue
		}
		if f.CaseID != uuid.Nil && (b.CaseID == nil || *b.CaseID != f.CaseID) {
			continue
		}
		if f.State != "" && b.State != f.State {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return limit(out, f.Limit), nil
}

func (s *Store) GetCase(_ context.Context, id uuid.UUID) (inventory.Case, error) {
	return getCase(s.committed(), id)
}

func (s *Store) GetMovement(_ context.Context, id uuid.UUID) (inventory.Movement, error) {
	for _, m := range s.committed().movements {
		if m.ID == id {
			return m, nil
		}
	}
	return inventory.Movement{}, inventory.ErrMovementNotFound
}

func (s *Store) ListMovements(_ context.Context, f inventory.MovementFilter) ([]inventory.Movement, error) {
	var out []inventory.Movement
	for _, m := range s.committed().movements {
		if f.BottleID != uuid.Nil && !m.Touches(f.BottleID) {
			continue
		}
		if f.CaseID != uuid.Nil && !touchesCase(m, f.CaseID) {
			continue
		}
		out = append(out, m)
	}
	return limit(out, f.Limit), nil
}

func (s *Store) CountStoredBottles(_ context.Context, allocationID uuid.UUID) (int, error) {
	return countStored(s.committed(), allocationID), nil
}

func (s *Store) GetException(_ context.Context, id uuid.UUID) (inventory.Exception, error) {
	e, ok := s.committed().exceptions[id]
	if !ok {
		return inventory.Exception{}, inventory.ErrExceptionNotFound
	}
	return e, nil
}

func (s *Store) ListExceptions(_ context.Context, f inventory.ExceptionFilter) ([]inventory.Exception, error) {
	var out []inventory.Exception
	for _, e := range s.committed().exceptions {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Resolved != nil && e.Resolved() != *f.Resolved {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return limit(out, f.Limit), nil
}

func limit[T any](in []T, n int) []T {
	if n > 0 && len(in) > n {
		return in[:n]
	}
	return in
}

func touchesCase(m inventory.Movement, caseID uuid.UUID) bool {
	for _, it := range m.Items {
		if it.CaseID != nil && *it.CaseID == caseID {
			return true
		}
	}
	return false
}

func getLocation(st *memoryState, id uuid.UUID) (inventory.Location, error) {
	loc, ok := st.locations[id]
	if !ok {
		return inventory.Location{}, inventory.ErrLocationNotFound
	}
	return loc, nil
}

func getBatch(st *memoryState, id uuid.UUID) (inventory.InboundBatch, error) {
	b, ok := st.batches[id]
	if !ok {
		return inventory.InboundBatch{}, inventory.ErrBatchNotFound
	}
	return b, nil
}

func getBottle(st *memoryState, id uuid.UUID) (inventory.Bottle, error) {
	b, ok := st.bottles[id]
	if !ok {
		return inventory.Bottle{}, inventory.ErrBottleNotFound
	}
	return b, nil
}

func getCase(st *memoryState, id uuid.UUID) (inventory.Case, error) {
	c, ok := st.cases[id]
	if !ok {
		return inventory.Case{}, inventory.ErrCaseNotFound
	}
	return c, nil
}

func countStored(st *memoryState, allocationID uuid.UUID) int {
	n := 0
	for _, b := range st.bottles {
		if b.AllocationID == allocationID && b.State == inventory.BottleStored {
			n++
		}
	}
	return n
}

var _ inventory.RepositoryPort = (*Store)(nil)
