// Package gormstore implements the target-side adapter interfaces on GORM:
// resolving filters to record IDs and applying the mutation primitives.
package gormstore

import (
	"fmt"
	"regexp"
	"sync"

	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

// EntityMapping describes how one logical entity type maps onto a table.
type EntityMapping struct {
	// Table is the physical table name.
	Table string
	// IDColumn is the primary identifier column.
	IDColumn string
	// SoftDeleteColumn is the nullable timestamp marking a soft-deleted row.
	SoftDeleteColumn string
	// ArchiveColumn is the nullable timestamp marking an archived row.
	ArchiveColumn string
}

var (
	mappingRegistry = make(map[string]EntityMapping)
	mappingMutex    sync.RWMutex
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RegisterEntity registers the table mapping of one entity type. Unset columns
// fall back to the conventional names.
func RegisterEntity(entityType string, mapping EntityMapping) {
	if mapping.Table == "" {
		mapping.Table = entityType
	}
	if mapping.IDColumn == "" {
		mapping.IDColumn = "id"
	}
	if mapping.SoftDeleteColumn == "" {
		mapping.SoftDeleteColumn = "deleted_at"
	}
	if mapping.ArchiveColumn == "" {
		mapping.ArchiveColumn = "archived_at"
	}

	mappingMutex.Lock()
	defer mappingMutex.Unlock()
	if _, exists := mappingRegistry[entityType]; exists {
		logger.Warnf("Entity mapping for '%s' already registered. Overwriting.", entityType)
	}
	mappingRegistry[entityType] = mapping
}

// MappingFor returns the registered mapping of an entity type.
func MappingFor(entityType string) (EntityMapping, error) {
	mappingMutex.RLock()
	defer mappingMutex.RUnlock()
	mapping, ok := mappingRegistry[entityType]
	if !ok {
		return EntityMapping{}, fmt.Errorf("no entity mapping registered for entity type '%s'", entityType)
	}
	return mapping, nil
}

// safeIdentifier rejects names that cannot be interpolated into SQL as
// identifiers. Field names arrive from callers and are never parameterizable.
func safeIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier: %q", name)
	}
	return nil
}
