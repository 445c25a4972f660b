package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/cellar/internal/platform/db"
)

const defaultListLimit = 200

const (
	constraintSerialUnique   = "serialized_bottles_serial_number_key"
	constraintWmsEventUnique = "inventory_movements_wms_event_id_key"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (r *txRepo) Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	sp, err := r.tx.Begin(ctx)
	if err != nil {
		return err
	}
	defer sp.Rollback(ctx)

	if err := fn(ctx, &txRepo{tx: sp}); err != nil {
		return err
	}
	return sp.Commit(ctx)
}

// Locations.

const locationColumns = `id, name, location_type, country, serialization_authorized, status, created_at, updated_at`

func scanLocation(row pgx.Row) (Location, error) {
	var (
		loc    Location
		typ    string
		status string
	)
	err := row.Scan(&loc.ID, &loc.Name, &typ, &loc.Country, &loc.SerializationAuthorized, &status, &loc.CreatedAt, &loc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, ErrLocationNotFound
		}
		return Location{}, err
	}
	loc.Type = LocationType(typ)
	loc.Status = LocationStatus(status)
	return loc, nil
}

func getLocation(ctx context.Context, q querier, id uuid.UUID) (Location, error) {
	return scanLocation(q.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE id=$1`, id))
}

func (r *Repository) GetLocation(ctx context.Context, id uuid.UUID) (Location, error) {
	return getLocation(ctx, r.pool, id)
}

func (r *Repository) ListLocations(ctx context.Context) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+locationColumns+` FROM locations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (r *txRepo) GetLocation(ctx context.Context, id uuid.UUID) (Location, error) {
	return getLocation(ctx, r.tx, id)
}

func (r *txRepo) InsertLocation(ctx context.Context, loc Location) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO locations (`+locationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		loc.ID, loc.Name, string(loc.Type), loc.Country, loc.SerializationAuthorized, string(loc.Status), loc.CreatedAt, loc.UpdatedAt)
	return err
}

func (r *txRepo) UpdateLocation(ctx context.Context, loc Location) error {
	tag, err := r.tx.Exec(ctx, `UPDATE locations SET name=$2, location_type=$3, country=$4, serialization_authorized=$5, status=$6, updated_at=$7 WHERE id=$1`,
		loc.ID, loc.Name, string(loc.Type), loc.Country, loc.SerializationAuthorized, string(loc.Status), loc.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLocationNotFound
	}
	return nil
}

// Batches.

const batchColumns = `id, product_kind, product_id, allocation_id, quantity_expected, quantity_received,
receiving_location_id, ownership_type, serialization_status, received_at, created_by`

func scanBatch(row pgx.Row) (InboundBatch, error) {
	var (
		b         InboundBatch
		kind      string
		ownership string
		status    string
	)
	err := row.Scan(&b.ID, &kind, &b.Product.ID, &b.AllocationID, &b.QuantityExpected, &b.QuantityReceived,
		&b.ReceivingLocationID, &ownership, &status, &b.ReceivedAt, &b.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InboundBatch{}, ErrBatchNotFound
		}
		return InboundBatch{}, err
	}
	b.Product.Kind = ProductKind(kind)
	b.OwnershipType = OwnershipType(ownership)
	b.SerializationStatus = SerializationStatus(status)
	return b, nil
}

func (r *Repository) GetBatch(ctx context.Context, id uuid.UUID) (InboundBatch, error) {
	return scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM inbound_batches WHERE id=$1`, id))
}

func (r *txRepo) InsertBatch(ctx context.Context, b InboundBatch) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inbound_batches (`+batchColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, string(b.Product.Kind), b.Product.ID, b.AllocationID, b.QuantityExpected, b.QuantityReceived,
		b.ReceivingLocationID, string(b.OwnershipType), string(b.SerializationStatus), b.ReceivedAt, b.CreatedBy)
	return err
}

func (r *txRepo) GetBatchForUpdate(ctx context.Context, id uuid.UUID) (InboundBatch, error) {
	return scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM inbound_batches WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepo) UpdateBatchStatus(ctx context.Context, id uuid.UUID, status SerializationStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inbound_batches SET serialization_status=$2 WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (r *txRepo) CountSerialized(ctx context.Context, batchID uuid.UUID) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM serialized_bottles WHERE inbound_batch_id=$1 AND state <> $2`,
		batchID, string(BottleMisSerialized)).Scan(&n)
	return n, err
}

// Bottles.

const bottleColumns = `id, serial_number, wine_variant_id, format_id, allocation_id, inbound_batch_id,
current_location_id, case_id, ownership_type, state, serialized_at, serialized_by, correction_reference`

func scanBottle(row pgx.Row) (Bottle, error) {
	var (
		b         Bottle
		ownership string
		state     string
	)
	err := row.Scan(&b.ID, &b.SerialNumber, &b.WineVariantID, &b.FormatID, &b.AllocationID, &b.InboundBatchID,
		&b.CurrentLocationID, &b.CaseID, &ownership, &state, &b.SerializedAt, &b.SerializedBy, &b.CorrectionReference)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bottle{}, ErrBottleNotFound
		}
		return Bottle{}, err
	}
	b.OwnershipType = OwnershipType(ownership)
	b.State = BottleState(state)
	return b, nil
}

func collectBottles(rows pgx.Rows) ([]Bottle, error) {
	defer rows.Close()
	var out []Bottle
	for rows.Next() {
		b, err := scanBottle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) GetBottle(ctx context.Context, id uuid.UUID) (Bottle, error) {
	return scanBottle(r.pool.QueryRow(ctx, `SELECT `+bottleColumns+` FROM serialized_bottles WHERE id=$1`, id))
}

func (r *Repository) GetBottleBySerial(ctx context.Context, serial string) (Bottle, error) {
	return scanBottle(r.pool.QueryRow(ctx, `SELECT `+bottleColumns+` FROM serialized_bottles WHERE serial_number=$1`, serial))
}

func (r *Repository) ListBottles(ctx context.Context, filter BottleFilter) ([]Bottle, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.AllocationID != uuid.Nil {
		add("allocation_id=$%d", filter.AllocationID)
	}
	if filter.InboundBatchID != uuid.Nil {
		add("inbound_batch_id=$%d", filter.InboundBatchID)
	}
	if filter.LocationID != uuid.Nil {
		add("current_location_id=$%d", filter.LocationID)
	}
	if filter.CaseID != uuid.Nil {
		add("case_id=$%d", filter.CaseID)
	}
	if filter.State != "" {
		add("state=$%d", string(filter.State))
	}
	sql := `SELECT ` + bottleColumns + ` FROM serialized_bottles`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY serialized_at, serial_number LIMIT $%d`, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectBottles(rows)
}

func countStored(ctx context.Context, q querier, allocationID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM serialized_bottles WHERE allocation_id=$1 AND state=$2`,
		allocationID, string(BottleStored)).Scan(&n)
	return n, err
}

func (r *Repository) CountStoredBottles(ctx context.Context, allocationID uuid.UUID) (int, error) {
	return countStored(ctx, r.pool, allocationID)
}

func (r *txRepo) CountStoredBottles(ctx context.Context, allocationID uuid.UUID) (int, error) {
	return countStored(ctx, r.tx, allocationID)
}

// LockAllocation takes row locks on every STORED bottle of the allocation.
// Under RepeatableRead a row consumed by a concurrent commit fails the lock
// with 40001, which surfaces as db.ErrSerialization.
func (r *txRepo) LockAllocation(ctx context.Context, allocationID uuid.UUID) error {
	rows, err := r.tx.Query(ctx, `SELECT id FROM serialized_bottles WHERE allocation_id=$1 AND state=$2 ORDER BY id FOR UPDATE`,
		allocationID, string(BottleStored))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

func (r *txRepo) InsertBottle(ctx context.Context, b Bottle) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO serialized_bottles (`+bottleColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		b.ID, b.SerialNumber, b.WineVariantID, b.FormatID, b.AllocationID, b.InboundBatchID,
		b.CurrentLocationID, b.CaseID, string(b.OwnershipType), string(b.State), b.SerializedAt, b.SerializedBy, b.CorrectionReference)
	return mapUniqueViolation(err)
}

func (r *txRepo) SerialExists(ctx context.Context, serial string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM serialized_bottles WHERE serial_number=$1)`, serial).Scan(&exists)
	return exists, err
}

func (r *txRepo) GetBottleForUpdate(ctx context.Context, id uuid.UUID) (Bottle, error) {
	return scanBottle(r.tx.QueryRow(ctx, `SELECT `+bottleColumns+` FROM serialized_bottles WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepo) UpdateBottle(ctx context.Context, b Bottle) error {
	current, err := r.GetBottleForUpdate(ctx, b.ID)
	if err != nil {
		return err
	}
	if err := GuardBottleUpdate(current, b); err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE serialized_bottles SET current_location_id=$2, case_id=$3, state=$4, correction_reference=$5 WHERE id=$1`,
		b.ID, b.CurrentLocationID, b.CaseID, string(b.State), b.CorrectionReference)
	return err
}

func (r *txRepo) ListCaseBottlesForUpdate(ctx context.Context, caseID uuid.UUID) ([]Bottle, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+bottleColumns+` FROM serialized_bottles WHERE case_id=$1 ORDER BY serial_number FOR UPDATE`, caseID)
	if err != nil {
		return nil, err
	}
	return collectBottles(rows)
}

// Cases.

const caseColumns = `id, configuration_id, allocation_id, inbound_batch_id, current_location_id, is_breakable,
integrity_status, broken_at, broken_by, COALESCE(broken_reason, ''), created_at`

func scanCase(row pgx.Row) (Case, error) {
	var (
		c      Case
		status string
	)
	err := row.Scan(&c.ID, &c.ConfigurationID, &c.AllocationID, &c.InboundBatchID, &c.CurrentLocationID, &c.IsBreakable,
		&status, &c.BrokenAt, &c.BrokenBy, &c.BrokenReason, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, ErrCaseNotFound
		}
		return Case{}, err
	}
	c.IntegrityStatus = IntegrityStatus(status)
	return c, nil
}

func (r *Repository) GetCase(ctx context.Context, id uuid.UUID) (Case, error) {
	return scanCase(r.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM inventory_cases WHERE id=$1`, id))
}

func (r *txRepo) InsertCase(ctx context.Context, c Case) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_cases (id, configuration_id, allocation_id, inbound_batch_id,
current_location_id, is_breakable, integrity_status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.ConfigurationID, c.AllocationID, c.InboundBatchID, c.CurrentLocationID, c.IsBreakable, string(c.IntegrityStatus), c.CreatedAt)
	return err
}

func (r *txRepo) GetCaseForUpdate(ctx context.Context, id uuid.UUID) (Case, error) {
	return scanCase(r.tx.QueryRow(ctx, `SELECT `+caseColumns+` FROM inventory_cases WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepo) UpdateCase(ctx context.Context, c Case) error {
	current, err := r.GetCaseForUpdate(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := GuardCaseUpdate(current, c); err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE inventory_cases SET current_location_id=$2, integrity_status=$3, broken_at=$4, broken_by=$5,
broken_reason=NULLIF($6, '') WHERE id=$1`,
		c.ID, c.CurrentLocationID, string(c.IntegrityStatus), c.BrokenAt, c.BrokenBy, c.BrokenReason)
	return err
}

// Movements.

const movementColumns = `id, movement_type, trigger, source_location_id, destination_location_id, custody_changed,
reason, wms_event_id, executed_at, executed_by`

func scanMovement(row pgx.Row) (Movement, error) {
	var (
		m       Movement
		typ     string
		trigger string
	)
	err := row.Scan(&m.ID, &typ, &trigger, &m.SourceLocationID, &m.DestinationLocationID, &m.CustodyChanged,
		&m.Reason, &m.WmsEventID, &m.ExecutedAt, &m.ExecutedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrMovementNotFound
		}
		return Movement{}, err
	}
	m.Type = MovementType(typ)
	m.Trigger = MovementTrigger(trigger)
	return m, nil
}

func loadItems(ctx context.Context, q querier, movements []Movement) error {
	if len(movements) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(movements))
	index := make(map[uuid.UUID]int, len(movements))
	for i, m := range movements {
		ids[i] = m.ID
		index[m.ID] = i
	}
	rows, err := q.Query(ctx, `SELECT id, movement_id, bottle_id, case_id, quantity
FROM inventory_movement_items WHERE movement_id = ANY($1) ORDER BY movement_id, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it MovementItem
		if err := rows.Scan(&it.ID, &it.MovementID, &it.BottleID, &it.CaseID, &it.Quantity); err != nil {
			return err
		}
		i := index[it.MovementID]
		movements[i].Items = append(movements[i].Items, it)
	}
	return rows.Err()
}

func getMovement(ctx context.Context, q querier, where string, arg any) (Movement, error) {
	m, err := scanMovement(q.QueryRow(ctx, `SELECT `+movementColumns+` FROM inventory_movements WHERE `+where, arg))
	if err != nil {
		return Movement{}, err
	}
	out := []Movement{m}
	if err := loadItems(ctx, q, out); err != nil {
		return Movement{}, err
	}
	return out[0], nil
}

func (r *Repository) GetMovement(ctx context.Context, id uuid.UUID) (Movement, error) {
	return getMovement(ctx, r.pool, `id=$1`, id)
}

func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var (
		where []string
		args  []any
	)
	if filter.BottleID != uuid.Nil {
		args = append(args, filter.BottleID)
		where = append(where, fmt.Sprintf("i.bottle_id=$%d", len(args)))
	}
	if filter.CaseID != uuid.Nil {
		args = append(args, filter.CaseID)
		where = append(where, fmt.Sprintf("i.case_id=$%d", len(args)))
	}
	sql := `SELECT ` + movementColumns + ` FROM inventory_movements`
	if len(where) > 0 {
		sql += ` WHERE id IN (SELECT i.movement_id FROM inventory_movement_items i WHERE ` + strings.Join(where, " AND ") + `)`
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY executed_at, id LIMIT $%d`, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadItems(ctx, r.pool, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_movements (`+movementColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, string(m.Type), string(m.Trigger), m.SourceLocationID, m.DestinationLocationID, m.CustodyChanged,
		m.Reason, m.WmsEventID, m.ExecutedAt, m.ExecutedBy)
	if err != nil {
		return mapUniqueViolation(err)
	}
	batch := &pgx.Batch{}
	for _, it := range m.Items {
		batch.Queue(`INSERT INTO inventory_movement_items (id, movement_id, bottle_id, case_id, quantity) VALUES ($1, $2, $3, $4, $5)`,
			it.ID, m.ID, it.BottleID, it.CaseID, it.Quantity)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepo) MovementByExternalID(ctx context.Context, externalID string) (Movement, error) {
	return getMovement(ctx, r.tx, `wms_event_id=$1`, externalID)
}

// Exceptions.

const exceptionColumns = `id, exception_type, bottle_id, case_id, inbound_batch_id, reason, COALESCE(resolution, ''),
resolved_at, resolved_by, created_at, created_by`

func scanException(row pgx.Row) (Exception, error) {
	var (
		e   Exception
		typ string
	)
	err := row.Scan(&e.ID, &typ, &e.BottleID, &e.CaseID, &e.InboundBatchID, &e.Reason, &e.Resolution,
		&e.ResolvedAt, &e.ResolvedBy, &e.CreatedAt, &e.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Exception{}, ErrExceptionNotFound
		}
		return Exception{}, err
	}
	e.Type = ExceptionType(typ)
	return e, nil
}

func (r *Repository) GetException(ctx context.Context, id uuid.UUID) (Exception, error) {
	return scanException(r.pool.QueryRow(ctx, `SELECT `+exceptionColumns+` FROM inventory_exceptions WHERE id=$1`, id))
}

func (r *Repository) ListExceptions(ctx context.Context, filter ExceptionFilter) ([]Exception, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("exception_type=$%d", len(args)))
	}
	if filter.Resolved != nil {
		if *filter.Resolved {
			where = append(where, "resolved_at IS NOT NULL")
		} else {
			where = append(where, "resolved_at IS NULL")
		}
	}
	sql := `SELECT ` + exceptionColumns + ` FROM inventory_exceptions`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d`, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertException(ctx context.Context, e Exception) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_exceptions (id, exception_type, bottle_id, case_id, inbound_batch_id,
reason, created_at, created_by) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, string(e.Type), e.BottleID, e.CaseID, e.InboundBatchID, e.Reason, e.CreatedAt, e.CreatedBy)
	return err
}

func (r *txRepo) GetExceptionForUpdate(ctx context.Context, id uuid.UUID) (Exception, error) {
	return scanException(r.tx.QueryRow(ctx, `SELECT `+exceptionColumns+` FROM inventory_exceptions WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepo) UpdateException(ctx context.Context, e Exception) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_exceptions SET resolution=$2, resolved_at=$3, resolved_by=$4
WHERE id=$1 AND resolved_at IS NULL`, e.ID, e.Resolution, e.ResolvedAt, e.ResolvedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExceptionResolved
	}
	return nil
}

func mapUniqueViolation(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case constraintWmsEventUnique:
			return ErrDuplicateEvent
		case constraintSerialUnique:
			return ErrDuplicateSerial
		}
	}
	return err
}
