package inventory

import (
	"errors"
	"fmt"
)

// Error categories. Every rejection returned by this package and its
// sub-packages matches exactly one of them with errors.Is.
var (
	// ErrValidation marks bad input; nothing was written and the call may be retried after correction.
	ErrValidation = errors.New("validation failed")
	// ErrInvariant marks an attempt to break a write-once field, a one-way
	// transition or ledger immutability. It signals a defect in the caller.
	ErrInvariant = errors.New("invariant violated")
	// ErrPrecondition marks a valid request that the current state does not allow.
	ErrPrecondition = errors.New("precondition not met")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
)

// kindError is a named rejection that also matches its category.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return "inventory: " + e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

func newError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Invariant violations.
var (
	ErrSerialImmutable      = newError(ErrInvariant, "serial_number is immutable once set")
	ErrAllocationImmutable  = newError(ErrInvariant, "allocation_id is immutable once set")
	ErrLineageImmutable     = newError(ErrInvariant, "bottle lineage (batch, serialized_at) is immutable")
	ErrTerminalState        = newError(ErrInvariant, "bottle is in a terminal state and cannot transition")
	ErrCaseUnbreakable      = newError(ErrInvariant, "integrity_status cannot revert from BROKEN to INTACT")
	ErrBreakRecordImmutable = newError(ErrInvariant, "broken_at, broken_by and broken_reason are immutable once set")
	ErrLedgerImmutable      = newError(ErrInvariant, "ledger movements are immutable and cannot be updated or deleted")
	ErrExceptionResolved    = newError(ErrInvariant, "exception is already resolved and cannot be reopened")
	ErrSerialSpace          = newError(ErrInvariant, "could not generate a unique serial number within the retry budget")
)

// Precondition failures.
var (
	ErrLocationNotAuthorized = newError(ErrPrecondition, "location is not active or not authorised for serialization")
	ErrLocationInactive      = newError(ErrPrecondition, "location is inactive")
	ErrBatchNotSerializable  = newError(ErrPrecondition, "batch serialization_status does not allow serialization")
	ErrBatchDiscrepancy      = newError(ErrPrecondition, "batch is in DISCREPANCY and needs manual resolution")
	ErrBottleNotStored       = newError(ErrPrecondition, "bottle is not in STORED state")
	ErrBottleTerminal        = newError(ErrPrecondition, "bottle is in a terminal state")
	ErrOwnershipForbids      = newError(ErrPrecondition, "ownership type does not permit event consumption")
	ErrSameLocation          = newError(ErrPrecondition, "source and destination location are the same")
	ErrCaseBroken            = newError(ErrPrecondition, "case is BROKEN; move its bottles individually")
	ErrCaseNotBreakable      = newError(ErrPrecondition, "case is not breakable")
	ErrCaseAlreadyBroken     = newError(ErrPrecondition, "case is already BROKEN")
	ErrCaseIntact            = newError(ErrPrecondition, "bottle belongs to an INTACT case; break the case or move the case")
	ErrNoFreeStock           = newError(ErrPrecondition, "allocation has no free stock; use the override path")
	ErrNotCommitted          = newError(ErrPrecondition, "bottle is not committed; use the normal consumption path")
	ErrPermissionDenied      = newError(ErrPrecondition, "actor lacks the required permission")
	ErrDuplicateEvent        = newError(ErrPrecondition, "external event already recorded in the ledger")
	ErrDuplicateSerial       = newError(ErrPrecondition, "serial number already exists")
	ErrOverrideFailed        = newError(ErrPrecondition, "override consumed no bottles")
)

// Not-found errors.
var (
	ErrLocationNotFound  = newError(ErrNotFound, "location not found")
	ErrBatchNotFound     = newError(ErrNotFound, "inbound batch not found")
	ErrBottleNotFound    = newError(ErrNotFound, "bottle not found")
	ErrCaseNotFound      = newError(ErrNotFound, "case not found")
	ErrMovementNotFound  = newError(ErrNotFound, "movement not found")
	ErrExceptionNotFound = newError(ErrNotFound, "exception not found")
)

// FieldError is a validation failure on one input field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("inventory: %s: %s", e.Field, e.Reason)
}

// FieldName returns the offending field.
func (e *FieldError) FieldName() string { return e.Field }

// Is matches ErrValidation.
func (e *FieldError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a FieldError.
func Invalid(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
