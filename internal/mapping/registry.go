package mapping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/crossmedia/fourallportal/internal/model"
)

// ErrUnknownMapping is returned when no mapper handles a module.
var ErrUnknownMapping = errors.New("no mapping registered")

// Mapper applies one event to local state.
//
// A returned error is recorded on the event and the run continues. Wrap it
// with model.Fatal to stop the run instead.
type Mapper interface {
	Apply(ctx context.Context, module model.Module, ev model.Event) error
}

// MapperFunc adapts a function to Mapper.
type MapperFunc func(ctx context.Context, module model.Module, ev model.Event) error

// Apply implements Mapper.
func (f MapperFunc) Apply(ctx context.Context, module model.Module, ev model.Event) error {
	return f(ctx, module, ev)
}

// Registry resolves mapping classes to mappers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	mappers  map[string]Mapper
	dynamic  map[string]bool
	fallback Mapper
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		mappers: map[string]Mapper{},
		dynamic: map[string]bool{},
	}
}

// Register binds a mapping class to m. Registering a class twice is an error.
func (r *Registry) Register(class string, m Mapper) error {
	class = strings.TrimSpace(class)
	if class == "" {
		return fmt.Errorf("register mapping: empty class name")
	}
	if m == nil {
		return fmt.Errorf("register mapping %q: nil mapper", class)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.mappers[class]; exists {
		return fmt.Errorf("register mapping %q: already registered", class)
	}
	r.mappers[class] = m
	return nil
}

// RegisterDynamic marks class as handled by the dynamic mapper.
func (r *Registry) RegisterDynamic(class string) {
	class = strings.TrimSpace(class)
	if class == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dynamic[class] = true
}

// SetDynamicMapper sets the mapper used for dynamic classes and modules.
func (r *Registry) SetDynamicMapper(m Mapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = m
}

// IsDynamic reports whether module is handled by the dynamic mapper.
func (r *Registry) IsDynamic(module model.Module) bool {
	if module.EnableDynamicModel {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dynamic[strings.TrimSpace(module.MappingClass)]
}

// Resolve returns the mapper for module. An explicitly registered class wins
// over the dynamic mapper.
func (r *Registry) Resolve(module model.Module) (Mapper, error) {
	class := strings.TrimSpace(module.MappingClass)

	r.mu.RLock()
	m, ok := r.mappers[class]
	fallback := r.fallback
	r.mu.RUnlock()

	if ok {
		return m, nil
	}
	if fallback != nil && r.IsDynamic(module) {
		return fallback, nil
	}
	return nil, fmt.Errorf("module %q class %q: %w", module.ModuleName, class, ErrUnknownMapping)
}

// Apply resolves the mapper for module and applies ev with it.
func (r *Registry) Apply(ctx context.Context, module model.Module, ev model.Event) error {
	m, err := r.Resolve(module)
	if err != nil {
		return err
	}
	return m.Apply(ctx, module, ev)
}

// Classes returns the registered and dynamic class names, sorted.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(r.mappers)+len(r.dynamic))
	for c := range r.mappers {
		seen[c] = true
	}
	for c := range r.dynamic {
		seen[c] = true
	}
	classes := make([]string, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes
}
