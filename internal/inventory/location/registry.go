package location

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/cellar/internal/inventory"
	"github.com/odyssey-erp/cellar/internal/shared"
)

// AuditEntity describes the audit entity for location changes.
const AuditEntity = "locations"

// CreateInput describes a new location.
type CreateInput struct {
	Name                    string
	Type                    inventory.LocationType
	Country                 string
	SerializationAuthorized bool
}

// Registry maintains physical locations.
type Registry struct {
	repo   inventory.RepositoryPort
	audit  inventory.AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry builds Registry.
func NewRegistry(repo inventory.RepositoryPort, audit inventory.AuditPort, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		repo:   repo,
		audit:  audit,
		logger: logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Create registers an ACTIVE location.
func (r *Registry) Create(ctx context.Context, actorID int64, in CreateInput) (inventory.Location, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return inventory.Location{}, inventory.Invalid("name", "required")
	}
	if !validType(in.Type) {
		return inventory.Location{}, inventory.Invalid("location_type", "unknown value %q", in.Type)
	}
	country := strings.ToUpper(strings.TrimSpace(in.Country))
	if len(country) != 2 {
		return inventory.Location{}, inventory.Invalid("country", "must be an ISO 3166 alpha-2 code")
	}
	now := r.now()
	loc := inventory.Location{
		ID:                      uuid.New(),
		Name:                    name,
		Type:                    in.Type,
		Country:                 country,
		SerializationAuthorized: in.SerializationAuthorized,
		Status:                  inventory.LocationActive,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		return tx.InsertLocation(ctx, loc)
	})
	if err != nil {
		return inventory.Location{}, err
	}
	r.record(ctx, actorID, "location:create", loc)
	return loc, nil
}

// Get returns one location.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (inventory.Location, error) {
	return r.repo.GetLocation(ctx, id)
}

// List returns every location ordered by name.
func (r *Registry) List(ctx context.Context) ([]inventory.Location, error) {
	return r.repo.ListLocations(ctx)
}

// Activate marks the location ACTIVE.
func (r *Registry) Activate(ctx context.Context, actorID int64, id uuid.UUID) (inventory.Location, error) {
	return r.update(ctx, actorID, id, "location:activate", func(l *inventory.Location) {
		l.Status = inventory.LocationActive
	})
}

// Deactivate marks the location INACTIVE. Goods already there stay put.
func (r *Registry) Deactivate(ctx context.Context, actorID int64, id uuid.UUID) (inventory.Location, error) {
	return r.update(ctx, actorID, id, "location:deactivate", func(l *inventory.Location) {
		l.Status = inventory.LocationInactive
	})
}

// SetSerializationAuthorized grants or revokes serialization at the location.
func (r *Registry) SetSerializationAuthorized(ctx context.Context, actorID int64, id uuid.UUID, authorized bool) (inventory.Location, error) {
	action := "location:revoke_serialization"
	if authorized {
		action = "location:authorize_serialization"
	}
	return r.update(ctx, actorID, id, action, func(l *inventory.Location) {
		l.SerializationAuthorized = authorized
	})
}

func (r *Registry) update(ctx context.Context, actorID int64, id uuid.UUID, action string, mutate func(*inventory.Location)) (inventory.Location, error) {
	var out inventory.Location
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		loc, err := tx.GetLocation(ctx, id)
		if err != nil {
			return err
		}
		mutate(&loc)
		loc.UpdatedAt = r.now()
		if err := tx.UpdateLocation(ctx, loc); err != nil {
			return err
		}
		out = loc
		return nil
	})
	if err != nil {
		return inventory.Location{}, err
	}
	r.record(ctx, actorID, action, out)
	return out, nil
}

func (r *Registry) record(ctx context.Context, actorID int64, action string, loc inventory.Location) {
	r.logger.Info("location changed", slog.String("action", action), slog.String("location_id", loc.ID.String()))
	inventory.RecordAudit(ctx, r.audit, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   AuditEntity,
		EntityID: loc.ID.String(),
		Meta: map[string]any{
			"status":                   string(loc.Status),
			"serialization_authorized": loc.SerializationAuthorized,
		},
	})
}

// RequireSerializable loads the location inside tx and checks that bottles
// may be serialized there.
func RequireSerializable(ctx context.Context, tx inventory.TxRepository, id uuid.UUID) (inventory.Location, error) {
	loc, err := tx.GetLocation(ctx, id)
	if err != nil {
		return inventory.Location{}, err
	}
	if !loc.CanSerialize() {
		return inventory.Location{}, fmt.Errorf("location %s (%s, authorized=%t): %w",
			loc.Name, loc.Status, loc.SerializationAuthorized, inventory.ErrLocationNotAuthorized)
	}
	return loc, nil
}

// RequireActive loads the location inside tx and checks that it accepts goods.
func RequireActive(ctx context.Context, tx inventory.TxRepository, id uuid.UUID) (inventory.Location, error) {
	loc, err := tx.GetLocation(ctx, id)
	if err != nil {
		return inventory.Location{}, err
	}
	if loc.Status != inventory.LocationActive {
		return inventory.Location{}, fmt.Errorf("location %s: %w", loc.Name, inventory.ErrLocationInactive)
	}
	return loc, nil
}

func validType(t inventory.LocationType) bool {
	switch t {
	case inventory.LocationWarehouse, inventory.LocationBondedStore, inventory.LocationEventVenue,
		inventory.LocationProducer, inventory.LocationInTransit:
		return true
	}
	return false
}
