package inventory

import (
	"context"

	"github.com/google/uuid"

	"github.com/odyssey-erp/cellar/internal/shared"
)

// RepositoryPort abstracts persistence for the inventory services. Reads
// outside WithTx see committed data only.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetLocation(ctx context.Context, id uuid.UUID) (Location, error)
	ListLocations(ctx context.Context) ([]Location, error)
	GetBatch(ctx context.Context, id uuid.UUID) (InboundBatch, error)
	GetBottle(ctx context.Context, id uuid.UUID) (Bottle, error)
	GetBottleBySerial(ctx context.Context, serial string) (Bottle, error)
	ListBottles(ctx context.Context, filter BottleFilter) ([]Bottle, error)
	GetCase(ctx context.Context, id uuid.UUID) (Case, error)
	GetMovement(ctx context.Context, id uuid.UUID) (Movement, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	CountStoredBottles(ctx context.Context, allocationID uuid.UUID) (int, error)
	GetException(ctx context.Context, id uuid.UUID) (Exception, error)
	ListExceptions(ctx context.Context, filter ExceptionFilter) ([]Exception, error)
}

// TxRepository exposes transactional operations. The *ForUpdate reads lock
// the row until the transaction ends.
type TxRepository interface {
	GetLocation(ctx context.Context, id uuid.UUID) (Location, error)
	InsertLocation(ctx context.Context, loc Location) error
	UpdateLocation(ctx context.Context, loc Location) error

	InsertBatch(ctx context.Context, batch InboundBatch) error
	GetBatchForUpdate(ctx context.Context, id uuid.UUID) (InboundBatch, error)
	UpdateBatchStatus(ctx context.Context, id uuid.UUID, status SerializationStatus) error
	// CountSerialized counts bottles of the batch, excluding MIS_SERIALIZED ones.
	CountSerialized(ctx context.Context, batchID uuid.UUID) (int, error)

	InsertBottle(ctx context.Context, b Bottle) error
	SerialExists(ctx context.Context, serial string) (bool, error)
	GetBottleForUpdate(ctx context.Context, id uuid.UUID) (Bottle, error)
	// UpdateBottle persists b after running GuardBottleUpdate against the stored row.
	UpdateBottle(ctx context.Context, b Bottle) error
	ListCaseBottlesForUpdate(ctx context.Context, caseID uuid.UUID) ([]Bottle, error)
	CountStoredBottles(ctx context.Context, allocationID uuid.UUID) (int, error)
	// LockAllocation locks the STORED bottles of an allocation so that two
	// transactions cannot both spend its last free bottle.
	LockAllocation(ctx context.Context, allocationID uuid.UUID) error

	InsertCase(ctx context.Context, c Case) error
	GetCaseForUpdate(ctx context.Context, id uuid.UUID) (Case, error)
	// UpdateCase persists c after running GuardCaseUpdate against the stored row.
	UpdateCase(ctx context.Context, c Case) error

	// InsertMovement writes the movement and its items. A repeated external
	// event id yields ErrDuplicateEvent.
	InsertMovement(ctx context.Context, m Movement) error
	MovementByExternalID(ctx context.Context, externalID string) (Movement, error)

	InsertException(ctx context.Context, e Exception) error
	GetExceptionForUpdate(ctx context.Context, id uuid.UUID) (Exception, error)
	UpdateException(ctx context.Context, e Exception) error

	// Savepoint runs fn in a nested transaction. An error from fn undoes only
	// the nested work.
	Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// VoucherReader reads customer vouchers owned by the voucher module.
type VoucherReader interface {
	CountVouchers(ctx context.Context, allocationID uuid.UUID, states []VoucherState) (int, error)
}

// ProductResolver turns a ProductRef into the labelling data of a product.
type ProductResolver interface {
	ResolveProduct(ctx context.Context, ref ProductRef) (Product, error)
}

// PermissionChecker answers whether an actor holds a permission.
type PermissionChecker interface {
	HasPermission(ctx context.Context, actorID int64, permission string) (bool, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RecordAudit writes entry when audit is configured. Audit failures never
// fail the business operation.
func RecordAudit(ctx context.Context, audit AuditPort, entry shared.AuditLog) {
	if audit == nil {
		return
	}
	_ = audit.Record(ctx, entry)
}
