package skill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrSkillNotFound is returned when a skill name is not registered
var ErrSkillNotFound = errors.New("skill not found")

// InvalidateFunc is called with the skill name whenever a registered skill
// is replaced or removed
type InvalidateFunc func(name string)

// Registry manages skills
type Registry struct {
	skills    map[string]*SkillDefinition
	listeners []InvalidateFunc
	mu        sync.RWMutex
}

// NewRegistry creates a new skill registry
func NewRegistry() *Registry {
	return &Registry{
		skills: make(map[string]*SkillDefinition),
	}
}

// OnInvalidate adds a listener fired on re-registration and removal
func (r *Registry) OnInvalidate(fn InvalidateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Register registers a skill in the registry
func (r *Registry) Register(def *SkillDefinition) error {
	if def == nil {
		return fmt.Errorf("cannot register nil skill")
	}

	if def.Metadata.Name == "" {
		return fmt.Errorf("skill name cannot be empty")
	}

	r.mu.Lock()
	_, replaced := r.skills[def.Metadata.Name]
	r.skills[def.Metadata.Name] = def
	listeners := append([]InvalidateFunc(nil), r.listeners...)
	r.mu.Unlock()

	if replaced {
		for _, fn := range listeners {
			fn(def.Metadata.Name)
		}
	}
	return nil
}

// Remove drops a skill from the registry
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	_, exists := r.skills[name]
	delete(r.skills, name)
	listeners := append([]InvalidateFunc(nil), r.listeners...)
	r.mu.Unlock()

	if exists {
		for _, fn := range listeners {
			fn(name)
		}
	}
	return exists
}

// Get retrieves a skill by name
func (r *Registry) Get(name string) (*SkillDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, exists := r.skills[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}

	return def, nil
}

// Load retrieves a skill definition for execution
func (r *Registry) Load(ctx context.Context, name string) (*SkillDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Get(name)
}

// Metadata returns only the metadata of a registered skill
func (r *Registry) Metadata(name string) (SkillMetadata, error) {
	def, err := r.Get(name)
	if err != nil {
		return SkillMetadata{}, err
	}
	return def.Metadata, nil
}

// List returns all registered skills sorted by name
func (r *Registry) List() []*SkillDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*SkillDefinition, 0, len(r.skills))
	for _, def := range r.skills {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Metadata.Name < defs[j].Metadata.Name })

	return defs
}

// Names returns all registered skill names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Exists checks if a skill exists
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.skills[name]
	return exists
}

// Count returns the number of registered skills
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.skills)
}
