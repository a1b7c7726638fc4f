package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/food-approval-api/internal/models"
)

// ErrEntityNotFound is returned when the referenced business entity row is gone.
var ErrEntityNotFound = errors.New("entity not found")

// EntityTable maps an entity type onto its storage table.
type EntityTable struct {
	Table string
	// ParentType is empty for hierarchy roots.
	ParentType   models.EntityType
	ParentColumn string
	// ApprovedStatus is written when the entity is activated.
	ApprovedStatus models.EntityStatus
}

func defaultEntityTables() map[models.EntityType]EntityTable {
	return map[models.EntityType]EntityTable{
		models.EntityTypeChainOwner: {
			Table:          "chain_owners",
			ApprovedStatus: models.EntityStatusActive,
		},
		models.EntityTypeStoreAccount: {
			Table:          "store_accounts",
			ParentType:     models.EntityTypeChainOwner,
			ParentColumn:   "chain_owner_id",
			ApprovedStatus: models.EntityStatusActive,
		},
		models.EntityTypeStoreManager: {
			Table:          "store_managers",
			ParentType:     models.EntityTypeStoreAccount,
			ParentColumn:   "store_account_id",
			ApprovedStatus: models.EntityStatusActive,
		},
		models.EntityTypeFood: {
			Table:          "foods",
			ParentType:     models.EntityTypeStoreAccount,
			ParentColumn:   "store_account_id",
			ApprovedStatus: models.EntityStatusPublished,
		},
	}
}

// EntityRegistryRepository adapts the marketplace entity tables to the
// approval engine: parent status lookups and status resolution.
type EntityRegistryRepository struct {
	db *sqlx.DB

	mu     sync.RWMutex
	tables map[models.EntityType]EntityTable
}

// NewEntityRegistryRepository constructs the registry with the built-in entity tables.
func NewEntityRegistryRepository(db *sqlx.DB) *EntityRegistryRepository {
	return &EntityRegistryRepository{db: db, tables: defaultEntityTables()}
}

// Register adds or replaces the storage mapping for an entity type.
func (r *EntityRegistryRepository) Register(entityType models.EntityType, table EntityTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[entityType] = table
}

// EntityTypes returns every registered entity type.
func (r *EntityRegistryRepository) EntityTypes() []models.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]models.EntityType, 0, len(r.tables))
	for _, known := range models.EntityTypes() {
		if _, ok := r.tables[known]; ok {
			types = append(types, known)
		}
	}
	for entityType := range r.tables {
		if !containsEntityType(types, entityType) {
			types = append(types, entityType)
		}
	}
	return types
}

// ParentType reports the parent entity type, or false for hierarchy roots and
// unknown types.
func (r *EntityRegistryRepository) ParentType(entityType models.EntityType) (models.EntityType, bool) {
	table, ok := r.table(entityType)
	if !ok || table.ParentType == "" {
		return "", false
	}
	return table.ParentType, true
}

// GetParentStatus resolves whether the owning parent of the entity is Active.
// Hierarchy roots always report Active.
func (r *EntityRegistryRepository) GetParentStatus(ctx context.Context, entityType models.EntityType, entityID string) (models.ParentStatus, error) {
	child, ok := r.table(entityType)
	if !ok {
		return "", fmt.Errorf("unsupported entity type %q", entityType)
	}
	if child.ParentType == "" {
		return models.ParentStatusActive, nil
	}
	parent, ok := r.table(child.ParentType)
	if !ok {
		return "", fmt.Errorf("unsupported parent entity type %q", child.ParentType)
	}

	query := fmt.Sprintf(`SELECT p.status FROM %s c JOIN %s p ON p.id = c.%s WHERE c.id = $1`,
		child.Table, parent.Table, child.ParentColumn)
	var status models.EntityStatus
	if err := conn(ctx, r.db).GetContext(ctx, &status, query, entityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ParentStatusNotFound, nil
		}
		return "", fmt.Errorf("lookup parent of %s %s: %w", entityType, entityID, err)
	}
	if status == models.EntityStatusActive {
		return models.ParentStatusActive, nil
	}
	return models.ParentStatusNotActive, nil
}

// SetEntityStatus writes the resolved status onto the entity row.
func (r *EntityRegistryRepository) SetEntityStatus(ctx context.Context, entityType models.EntityType, entityID string, outcome models.ActivationOutcome) error {
	table, ok := r.table(entityType)
	if !ok {
		return fmt.Errorf("unsupported entity type %q", entityType)
	}
	status := models.EntityStatusRejected
	if outcome == models.ActivationOutcomeActivated {
		status = table.ApprovedStatus
	}

	query := fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = $2 WHERE id = $3`, table.Table)
	result, err := conn(ctx, r.db).ExecContext(ctx, query, status, time.Now().UTC(), entityID)
	if err != nil {
		return fmt.Errorf("set %s %s status: %w", entityType, entityID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s status update rows: %w", entityType, err)
	}
	if rows == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (r *EntityRegistryRepository) table(entityType models.EntityType) (EntityTable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.tables[entityType]
	return table, ok
}

func containsEntityType(types []models.EntityType, target models.EntityType) bool {
	for _, t := range types {
		if t == target {
			return true
		}
	}
	return false
}
