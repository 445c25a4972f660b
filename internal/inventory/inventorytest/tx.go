package inventorytest

import (
	"context"

	"github.com/google/uuid"

	"github.com/odyssey-erp/cellar/internal/inventory"
)

type memTx struct {
	store *Store
	st    *memoryState
}

func (tx *memTx) Savepoint(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	if err := tx.store.injected("Savepoint", nil); err != nil {
		return err
	}
	nested := &memTx{store: tx.store, st: tx.st.clone()}
	if err := fn(ctx, nested); err != nil {
		return err
	}
	*tx.st = *nested.st
	return nil
}

func (tx *memTx) GetLocation(_ context.Context, id uuid.UUID) (inventory.Location, error) {
	return getLocation(tx.st, id)
}

func (tx *memTx) InsertLocation(_ context.Context, loc inventory.Location) error {
	if err := tx.store.injected("InsertLocation", loc); err != nil {
		return err
	}
	tx.st.locations[loc.ID] = loc
	return nil
}

func (tx *memTx) UpdateLocation(_ context.Context, loc inventory.Location) error {
	if err := tx.store.injected("UpdateLocation", loc); err != nil {
		return err
	}
	if _, ok := tx.st.locations[loc.ID]; !ok {
		return inventory.ErrLocationNotFound
	}
	tx.st.locations[loc.ID] = loc
	return nil
}

func (tx *memTx) InsertBatch(_ context.Context, b inventory.InboundBatch) error {
	if err := tx.store.injected("InsertBatch", b); err != nil {
		return err
	}
	tx.st.batches[b.ID] = b
	return nil
}

func (tx *memTx) GetBatchForUpdate(_ context.Context, id uuid.UUID) (inventory.InboundBatch, error) {
	return getBatch(tx.st, id)
}

func (tx *memTx) UpdateBatchStatus(_ context.Context, id uuid.UUID, status inventory.SerializationStatus) error {
	if err := tx.store.injected("UpdateBatchStatus", id); err != nil {
		return err
	}
	b, ok := tx.st.batches[id]
	if !ok {
		return inventory.ErrBatchNotFound
	}
	b.SerializationStatus = status
	tx.st.batches[id] = b
	return nil
}

func (tx *memTx) CountSerialized(_ context.Context, batchID uuid.UUID) (int, error) {
	n := 0
	for _, b := range tx.st.bottles {
		if b.InboundBatchID == batchID && b.State != inventory.BottleMisSerialized {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) InsertBottle(_ context.Context, b inventory.Bottle) error {
	if err := tx.store.injected("InsertBottle", b); err != nil {
		return err
	}
	for _, existing := range tx.st.bottles {
		if existing.SerialNumber == b.SerialNumber {
			return inventory.ErrDuplicateSerial
		}
	}
	tx.st.bottles[b.ID] = b
	return nil
}

func (tx *memTx) SerialExists(_ context.Context, serial string) (bool, error) {
	if err := tx.store.injected("SerialExists", serial); err != nil {
		return false, err
	}
	for _, b := range tx.st.bottles {
		if b.SerialNumber == serial {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) GetBottleForUpdate(_ context.Context, id uuid.UUID) (inventory.Bottle, error) {
	return getBottle(tx.st, id)
}

func (tx *memTx) UpdateBottle(_ context.Context, b inventory.Bottle) error {
	if err := tx.store.injected("UpdateBottle", b); err != nil {
		return err
	}
	current, err := getBottle(tx.st, b.ID)
	if err != nil {
		return err
	}
	if err := inventory.GuardBottleUpdate(current, b); err != nil {
		return err
	}
	tx.st.bottles[b.ID] = b
	return nil
}

func (tx *memTx) ListCaseBottlesForUpdate(ctx context.Context, caseID uuid.UUID) ([]inventory.Bottle, error) {
	var out []inventory.Bottle
	for _, b := range tx.st.bottles {
		if b.CaseID != nil && *b.CaseID == caseID {
			out = append(out, b)
		}
	}
	sortBySerial(out)
	return out, nil
}

func (tx *memTx) CountStoredBottles(_ context.Context, allocationID uuid.UUID) (int, error) {
	return countStored(tx.st, allocationID), nil
}

// LockAllocation is a no-op beyond recording the call; WithTx already
// serialises transactions.
func (tx *memTx) LockAllocation(_ context.Context, allocationID uuid.UUID) error {
	if err := tx.store.injected("LockAllocation", allocationID); err != nil {
		return err
	}
	tx.store.recordLock(allocationID)
	return nil
}

func (tx *memTx) InsertCase(_ context.Context, c inventory.Case) error {
	if err := tx.store.injected("InsertCase", c); err != nil {
		return err
	}
	tx.st.cases[c.ID] = c
	return nil
}

func (tx *memTx) GetCaseForUpdate(_ context.Context, id uuid.UUID) (inventory.Case, error) {
	return getCase(tx.st, id)
}

func (tx *memTx) UpdateCase(_ context.Context, c inventory.Case) error {
	if err := tx.store.injected("UpdateCase", c); err != nil {
		return err
	}
	current, err := getCase(tx.st, c.ID)
	if err != nil {
		return err
	}
	if err := inventory.GuardCaseUpdate(current, c); err != nil {
		return err
	}
	tx.st.cases[c.ID] = c
	return nil
}

func (tx *memTx) InsertMovement(_ context.Context, m inventory.Movement) error {
	if err := tx.store.injected("InsertMovement", m); err != nil {
		return err
	}
	if m.WmsEventID != nil {
		for _, existing := range tx.st.movements {
			if existing.WmsEventID != nil && *existing.WmsEventID == *m.WmsEventID {
				return inventory.ErrDuplicateEvent
			}
		}
	}
	tx.st.movements = append(tx.st.movements, m)
	return nil
}

func (tx *memTx) MovementByExternalID(_ context.Context, externalID string) (inventory.Movement, error) {
	for _, m := range tx.st.movements {
		if m.WmsEventID != nil && *m.WmsEventID == externalID {
			return m, nil
		}
	}
	return inventory.Movement{}, inventory.ErrMovementNotFound
}

func (tx *memTx) InsertException(_ context.Context, e inventory.Exception) error {
	if err := tx.store.injected("InsertException", e); err != nil {
		return err
	}
	tx.st.exceptions[e.ID] = e
	return nil
}

func (tx *memTx) GetExceptionForUpdate(_ context.Context, id uuid.UUID) (inventory.Exception, error) {
	e, ok := tx.st.exceptions[id]
	if !ok {
		return inventory.Exception{}, inventory.ErrExceptionNotFound
	}
	return e, nil
}

func (tx *memTx) UpdateException(_ context.Context, e inventory.Exception) error {
	if err := tx.store.injected("UpdateException", e); err != nil {
		return err
	}
	current, ok := tx.st.exceptions[e.ID]
	if !ok {
		return inventory.ErrExceptionNotFound
	}
	if current.Resolved() {
		return inventory.ErrExceptionResolved
	}
	tx.st.exceptions[e.ID] = e
	return nil
}

var _ inventory.TxRepository = (*memTx)(nil)
