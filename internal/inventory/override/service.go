// Package override consumes committed bottles outside the normal path. Each
// consumption is preceded by an exception record carrying the operator's
// justification, so finance can review every bottle taken against a
// customer promise.
package override

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/inventory/commitment"
	"github.com/odyssey-erp/cellar/internal/inventory/ledger"
	"github.com/odyssey-erp/cellar/internal/shared"
)

const (
	// DefaultPermission is the elevated permission an operator needs.
	DefaultPermission = "inventory.override"
	// DefaultMinJustification is the shortest accepted justification, in characters.
	DefaultMinJustification = 20
	// AuditAction identifies audit log entries for override executions.
	AuditAction = "inventory:override"
)

// Consumer is the slice of the ledger the override path drives.
type Consumer interface {
	ConsumeInTx(ctx context.Context, tx inventory.TxRepository, in ledger.ConsumeInput) (inventory.Movement, error)
}

// Recorder counts override outcomes.
type Recorder interface {
	ObserveOverride(consumed, failed int)
}

// Service executes overrides.
type Service struct {
	repo        inventory.RepositoryPort
	stock       ledger.FreeStock
	consumer    Consumer
	permissions inventory.PermissionChecker
	audit       inventory.AuditPort
	metrics     Recorder
	logger      *slog.Logger
	permission  string
	minLength   int
	now         func() time.Time
}

// Options configures Service.
type Options struct {
	Permission       string
	MinJustification int
	Audit            inventory.AuditPort
	Metrics          Recorder
	Logger           *slog.Logger
}

// NewService wires the override service.
func NewService(repo inventory.RepositoryPort, stock ledger.FreeStock, consumer Consumer, permissions inventory.PermissionChecker, opts Options) *Service {
	s := &Service{
		repo:        repo,
		stock:       stock,
		consumer:    consumer,
		permissions: permissions,
		audit:       opts.Audit,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		permission:  opts.Permission,
		minLength:   opts.MinJustification,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.permission == "" {
		s.permission = DefaultPermission
	}
	if s.minLength <= 0 {
		s.minLength = DefaultMinJustification
	}
	return s
}

// Input describes one override request.
type Input struct {
	ActorID       int64
	Justification string
	BottleIDs     []uuid.UUID
	Reason        string
	Notes         string
	// Type defaults to EVENT_CONSUMPTION.
	Type inventory.MovementType
}

// BottleError is the failure of a single bottle within a batch.
type BottleError struct {
	BottleID uuid.UUID
	Err      error
}

func (e BottleError) Error() string {
	return fmt.Sprintf("bottle %s: %v", e.BottleID, e.Err)
}

func (e BottleError) Unwrap() error { return e.Err }

// Result reports what the batch did. Exceptions holds one record per bottle
// attempted, including bottles whose consumption then failed.
type Result struct {
	ConsumedCount int
	Exceptions    []inventory.Exception
	Movements     []inventory.Movement
	Errors        []BottleError
}

// JustificationLength counts the characters of s after NFC normalisation, so
// composed and decomposed accents count the same.
func JustificationLength(s string) int {
	return utf8.RuneCountInString(norm.NFC.String(strings.TrimSpace(s)))
}

// ExecuteOverride consumes the given committed bottles. Every gate is checked
// before anything is written. A bottle that fails to consume is reported in
// Result.Errors and the rest carry on; when none succeed the whole batch rolls
// back and the error wraps ErrOverrideFailed.
func (s *Service) ExecuteOverride(ctx context.Context, in Input) (Result, error) {
	if in.ActorID == 0 {
		return Result{}, inventory.Invalid("user", "required")
	}
	allowed, err := s.permissions.HasPermission(ctx, in.ActorID, s.permission)
	if err != nil {
		return Result{}, fmt.Errorf("check permission: %w", err)
	}
	if !allowed {
		return Result{}, fmt.Errorf("user %d lacks %s: %w", in.ActorID, s.permission, inventory.ErrPermissionDenied)
	}
	justification := strings.TrimSpace(in.Justification)
	if n := JustificationLength(justification); n < s.minLength {
		return Result{}, inventory.Invalid("justification", "%d characters given, at least %d required", n, s.minLength)
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return Result{}, inventory.Invalid("reason", "required")
	}
	if len(in.BottleIDs) == 0 {
		return Result{}, inventory.Invalid("bottles", "at least one bottle is required")
	}
	seen := make(map[uuid.UUID]struct{}, len(in.BottleIDs))
	for _, id := range in.BottleIDs {
		if _, dup := seen[id]; dup {
			return Result{}, inventory.Invalid("bottles", "bottle %s listed twice", id)
		}
		seen[id] = struct{}{}
	}

	var res Result
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		res = Result{}
		bottles := make([]inventory.Bottle, 0, len(in.BottleIDs))
		snaps := make(map[uuid.UUID]commitment.Snapshot)
		for _, id := range in.BottleIDs {
			b, err := tx.GetBottleForUpdate(ctx, id)
			if err != nil {
				return err
			}
			snap, ok := snaps[b.AllocationID]
			if !ok {
				if err := tx.LockAllocation(ctx, b.AllocationID); err != nil {
					return fmt.Errorf("lock allocation %s: %w", b.AllocationID, err)
				}
				if snap, err = s.stock.SnapshotWith(ctx, tx, b.AllocationID); err != nil {
					return err
				}
				snaps[b.AllocationID] = snap
			}
			if !commitment.IsCommitted(b, snap) {
				return fmt.Errorf("bottle %s (%s, free=%d): %w", b.SerialNumber, b.State, snap.Free, inventory.ErrNotCommitted)
			}
			bottles = append(bottles, b)
		}

		for _, b := range bottles {
			exc := s.exception(b, snaps[b.AllocationID], in, reason)
			if err := tx.InsertException(ctx, exc); err != nil {
				return fmt.Errorf("record exception for %s: %w", b.SerialNumber, err)
			}
			res.Exceptions = append(res.Exceptions, exc)

			var m inventory.Movement
			err := tx.Savepoint(ctx, func(ctx context.Context, sp inventory.TxRepository) error {
				var err error
				m, err = s.consumer.ConsumeInTx(ctx, sp, ledger.ConsumeInput{
					Event: ledger.Event{
						ActorID: in.ActorID,
						Reason:  fmt.Sprintf("committed override, exception %s: %s", exc.ID, reason),
						Trigger: inventory.TriggerErpOperator,
					},
					BottleID: b.ID,
					Type:     in.Type,
				})
				return err
			})
			if err != nil {
				res.Errors = append(res.Errors, BottleError{BottleID: b.ID, Err: err})
				continue
			}
			res.Movements = append(res.Movements, m)
			res.ConsumedCount++
		}

		if res.ConsumedCount == 0 {
			errs := []error{inventory.ErrOverrideFailed}
			for _, be := range res.Errors {
				errs = append(errs, be)
			}
			return errors.Join(errs...)
		}
		return nil
	})
	if s.metrics != nil && (err == nil || errors.Is(err, inventory.ErrOverrideFailed)) {
		s.metrics.ObserveOverride(res.ConsumedCount, len(res.Errors))
	}
	if err != nil {
		s.logger.Warn("override rejected",
			slog.Int64("actor_id", in.ActorID),
			slog.Int("bottles", len(in.BottleIDs)),
			slog.Any("error", err))
		if errors.Is(err, inventory.ErrOverrideFailed) {
			return Result{Errors: res.Errors}, err
		}
		return Result{}, err
	}

	s.logger.Info("override executed",
		slog.Int64("actor_id", in.ActorID),
		slog.Int("consumed", res.ConsumedCount),
		slog.Int("failed", len(res.Errors)))
	ids := make([]string, 0, len(res.Exceptions))
	for _, exc := range res.Exceptions {
		ids = append(ids, exc.ID.String())
	}
	inventory.RecordAudit(ctx, s.audit, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   AuditAction,
		Entity:   "inventory_exceptions",
		EntityID: res.Exceptions[0].ID.String(),
		Meta: map[string]any{
			"exceptions": ids,
			"consumed":   res.ConsumedCount,
			"failed":     len(res.Errors),
			"reason":     reason,
		},
		At: s.now(),
	})
	return res, nil
}

func (s *Service) exception(b inventory.Bottle, snap commitment.Snapshot, in Input, reason string) inventory.Exception {
	var sb strings.Builder
	sb.WriteString("Committed consumption override\n")
	fmt.Fprintf(&sb, "bottle: %s (%s)\n", b.SerialNumber, b.ID)
	fmt.Fprintf(&sb, "allocation: %s, batch: %s\n", b.AllocationID, b.InboundBatchID)
	fmt.Fprintf(&sb, "stock at override: stored=%d committed=%d free=%d\n", snap.Stored, snap.Committed, snap.Free)
	fmt.Fprintf(&sb, "reason: %s\n", reason)
	if notes := strings.TrimSpace(in.Notes); notes != "" {
		fmt.Fprintf(&sb, "notes: %s\n", notes)
	}
	fmt.Fprintf(&sb, "justification: %s", in.Justification)

	bottleID, batchID := b.ID, b.InboundBatchID
	return inventory.Exception{
		ID:             uuid.New(),
		Type:           inventory.ExceptionCommittedOverride,
		BottleID:       &bottleID,
		CaseID:         b.CaseID,
		InboundBatchID: &batchID,
		Reason:         sb.String(),
		CreatedAt:      s.now(),
		CreatedBy:      in.ActorID,
	}
}
