package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CaseSpec carries everything needed to create a case.
type CaseSpec struct {
	ConfigurationID uuid.UUID
	AllocationID    uuid.UUID
	InboundBatchID  uuid.UUID
	LocationID      uuid.UUID
	Breakable       bool
	CreatedAt       time.Time
}

// NewCase builds an INTACT case.
func NewCase(spec CaseSpec) (Case, error) {
	if spec.AllocationID == uuid.Nil {
		return Case{}, Invalid("allocation_id", "lineage required")
	}
	if spec.LocationID == uuid.Nil {
		return Case{}, Invalid("current_location_id", "required")
	}
	at := spec.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Case{
		ID:                uuid.New(),
		ConfigurationID:   spec.ConfigurationID,
		AllocationID:      spec.AllocationID,
		InboundBatchID:    spec.InboundBatchID,
		CurrentLocationID: spec.LocationID,
		IsBreakable:       spec.Breakable,
		IntegrityStatus:   CaseIntact,
		CreatedAt:         at,
	}, nil
}

// Intact reports whether the case can still be handled as a unit.
func (c Case) Intact() bool {
	return c.IntegrityStatus == CaseIntact
}

// Break returns the case opened by actor. The transition is one-way.
func (c Case) Break(actor int64, reason string, at time.Time) (Case, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return c, Invalid("broken_reason", "required")
	}
	if actor == 0 {
		return c, Invalid("broken_by", "required")
	}
	if c.IntegrityStatus == CaseBroken {
		return c, fmt.Errorf("case %s: %w", c.ID, ErrCaseAlreadyBroken)
	}
	if !c.IsBreakable {
		return c, fmt.Errorf("case %s: %w", c.ID, ErrCaseNotBreakable)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	next := c
	next.IntegrityStatus = CaseBroken
	next.BrokenAt = &at
	next.BrokenBy = &actor
	next.BrokenReason = reason
	return next, nil
}

// Relocate moves an intact case as a unit.
func (c Case) Relocate(to uuid.UUID) (Case, error) {
	if to == uuid.Nil {
		return c, Invalid("destination_location_id", "required")
	}
	if !c.Intact() {
		return c, fmt.Errorf("case %s: %w", c.ID, ErrCaseBroken)
	}
	if to == c.CurrentLocationID {
		return c, fmt.Errorf("case %s already at %s: %w", c.ID, to, ErrSameLocation)
	}
	next := c
	next.CurrentLocationID = to
	return next, nil
}

// GuardCaseUpdate is the write-boundary check every repository runs before
// persisting next over current. BROKEN never reverts, whoever asks.
func GuardCaseUpdate(current, next Case) error {
	if current.ID != next.ID {
		return fmt.Errorf("case %s: id cannot change: %w", current.ID, ErrInvariant)
	}
	if current.IntegrityStatus == CaseBroken && next.IntegrityStatus != CaseBroken {
		return fmt.Errorf("case %s: %w", current.ID, ErrCaseUnbreakable)
	}
	if current.AllocationID != uuid.Nil && next.AllocationID != current.AllocationID {
		return fmt.Errorf("case %s: %w", current.ID, ErrAllocationImmutable)
	}
	if current.BrokenAt != nil {
		if next.BrokenAt == nil || !next.BrokenAt.Equal(*current.BrokenAt) ||
			next.BrokenBy == nil || current.BrokenBy == nil || *next.BrokenBy != *current.BrokenBy ||
			next.BrokenReason != current.BrokenReason {
			return fmt.Errorf("case %s: %w", current.ID, ErrBreakRecordImmutable)
		}
	}
	if current.IntegrityStatus == CaseBroken && next.CurrentLocationID != current.CurrentLocationID {
		return fmt.Errorf("case %s: %w", current.ID, ErrCaseBroken)
	}
	return nil
}
