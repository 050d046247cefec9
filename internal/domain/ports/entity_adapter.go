package ports

import (
	"context"

	"github.com/approveflow/backend/internal/domain/models"
)

// EntityAdapter is the per-business-entity-type hook surface. The executor
// calls it at lifecycle points; a missing adapter is tolerated (the engine
// proceeds with a generic title/summary), but a ValidateSubmit failure aborts
// submission before any state is persisted.
type EntityAdapter interface {
	// EntityType returns the entity-type key this adapter is registered for.
	EntityType() string

	// GetEntityData returns the business entity snapshot used as the
	// entity.* condition namespace.
	GetEntityData(ctx context.Context, entityID string) (map[string]interface{}, error)

	// ValidateSubmit reports whether the entity may be submitted; the reason
	// is surfaced to the caller when not.
	ValidateSubmit(ctx context.Context, entityID string) (bool, string, error)

	OnSubmit(ctx context.Context, entityID string, inst *models.Instance) error
	OnApproved(ctx context.Context, entityID string, inst *models.Instance) error
	OnRejected(ctx context.Context, entityID string, inst *models.Instance) error
	OnWithdrawn(ctx context.Context, entityID string, inst *models.Instance) error

	GenerateTitle(ctx context.Context, entityID string) (string, error)
	GenerateSummary(ctx context.Context, entityID string) (string, error)
}

// Notifier delivers outbound notices. Fire-and-forget from the executor's
// perspective: delivery failures must not roll back a state transition.
type Notifier interface {
	Send(ctx context.Context, n *models.Notification) error
}

// DynamicApproverResolver is the pluggable external resolver behind the
// DYNAMIC approver strategy, registered under a resolver key.
type DynamicApproverResolver interface {
	ResolveApprovers(ctx context.Context, resolverKey string, form map[string]interface{}) ([]models.Approver, error)
}
