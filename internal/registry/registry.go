// Package registry holds the process-wide catalog of workflow definitions.
// The catalog is populated once at startup and treated as read-only
// afterwards; reads need no locking once Freeze has been called.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"lexmemo/backend/pkg/models"
)

var (
	// ErrDuplicateDefinition is returned when an (id, version) pair is
	// registered twice.
	ErrDuplicateDefinition = errors.New("workflow definition already registered")
	// ErrDefinitionNotFound is returned when no definition exists for an id.
	ErrDefinitionNotFound = errors.New("workflow definition not found")
	// ErrRegistryFrozen is returned on registration after startup completes.
	ErrRegistryFrozen = errors.New("registry is frozen")
)

type defKey struct {
	id      string
	version int
}

// Registry is an immutable-after-startup catalog of workflow definitions.
type Registry struct {
	mu     sync.Mutex
	frozen bool
	defs   map[defKey]*models.WorkflowDefinition
	latest map[string]*models.WorkflowDefinition
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		defs:   make(map[defKey]*models.WorkflowDefinition),
		latest: make(map[string]*models.WorkflowDefinition),
	}
}

// Register adds a definition. Fails with ErrDuplicateDefinition when the
// (id, version) pair already exists and ErrRegistryFrozen after Freeze.
func (r *Registry) Register(def *models.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	key := defKey{id: def.ID, version: def.Version}
	if _, exists := r.defs[key]; exists {
		return fmt.Errorf("%w: %s v%d", ErrDuplicateDefinition, def.ID, def.Version)
	}
	r.defs[key] = def
	if cur, ok := r.latest[def.ID]; !ok || def.Version > cur.Version {
		r.latest[def.ID] = def
	}
	return nil
}

// Freeze marks startup registration as complete. Further Register calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Get returns the latest version of the definition with the given id.
func (r *Registry) Get(id string) (*models.WorkflowDefinition, error) {
	if def, ok := r.latest[id]; ok {
		return def, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
}

// GetVersion returns one specific (id, version) definition.
func (r *Registry) GetVersion(id string, version int) (*models.WorkflowDefinition, error) {
	if def, ok := r.defs[defKey{id: id, version: version}]; ok {
		return def, nil
	}
	return nil, fmt.Errorf("%w: %s v%d", ErrDefinitionNotFound, id, version)
}

// List returns all registered definitions ordered by id then version.
func (r *Registry) List() []*models.WorkflowDefinition {
	out := make([]*models.WorkflowDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Version < out[j].Version
	})
	return out
}
