package service

import (
	"context"

	"github.com/noah-isme/food-approval-api/internal/models"
)

// ParentLookupFunc reports the status of an entity's owning parent.
type ParentLookupFunc func(ctx context.Context, entityID string) (models.ParentStatus, error)

// ActivationFunc resolves an entity's own status once its request is terminal.
// It returns repository.ErrEntityNotFound when the entity no longer exists.
type ActivationFunc func(ctx context.Context, entityID string, outcome models.ActivationOutcome) error

// EntityPolicy is the per-type behaviour the workflow needs from the entity registry.
type EntityPolicy struct {
	// ParentName names the required parent in error messages; empty for roots.
	ParentName string
	// Parent is nil for hierarchy roots.
	Parent   ParentLookupFunc
	Activate ActivationFunc
}

// EntityPolicies maps each approvable entity type to its policy. Adding an
// entity type means adding an entry here, never touching the state machine.
type EntityPolicies map[models.EntityType]EntityPolicy

// EntityRegistry is the external collaborator that owns entity rows.
type EntityRegistry interface {
	EntityTypes() []models.EntityType
	ParentType(entityType models.EntityType) (models.EntityType, bool)
	GetParentStatus(ctx context.Context, entityType models.EntityType, entityID string) (models.ParentStatus, error)
	SetEntityStatus(ctx context.Context, entityType models.EntityType, entityID string, outcome models.ActivationOutcome) error
}

// EntityPoliciesFromRegistry builds the policy table for every type the registry knows.
func EntityPoliciesFromRegistry(registry EntityRegistry) EntityPolicies {
	policies := make(EntityPolicies)
	if registry == nil {
		return policies
	}
	for _, entityType := range registry.EntityTypes() {
		entityType := entityType
		policy := EntityPolicy{
			Activate: func(ctx context.Context, entityID string, outcome models.ActivationOutcome) error {
				return registry.SetEntityStatus(ctx, entityType, entityID, outcome)
			},
		}
		if parent, ok := registry.ParentType(entityType); ok {
			policy.ParentName = string(parent)
			policy.Parent = func(ctx context.Context, entityID string) (models.ParentStatus, error) {
				return registry.GetParentStatus(ctx, entityType, entityID)
			}
		}
		policies[entityType] = policy
	}
	return policies
}
