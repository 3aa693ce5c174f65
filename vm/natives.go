package vm

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/cellvm/pkg/cell"
)

// NativeContext is what a native sees of the instance that called it.
type NativeContext interface {
	// ID identifies the calling instance.
	ID() uuid.UUID

	ReadCell(addr cell.Cell) (cell.Cell, error)
	WriteCell(addr, value cell.Cell) error
	ReadString(addr cell.Cell) (string, error)
	WriteString(addr cell.Cell, s string, maxBytes int) error
	AllocHeap(cells int) (cell.Cell, error)

	// Invoke calls a script function on the same stack. It may be used
	// from within the native, but never from another goroutine.
	Invoke(ctx context.Context, fn cell.Cell, args ...cell.Cell) (cell.Cell, error)
}

// NativeFunc is a host function callable from scripts. params[0] holds the
// argument count; params[1:] the arguments.
type NativeFunc func(ctx NativeContext, params []cell.Cell) (cell.Cell, error)

// NativeInfo pairs a native with its script-visible name.
type NativeInfo struct {
	Name string
	Func NativeFunc
}

// Registry maps native names to host functions. Names are never removed.
// Lookups are safe from any goroutine.
type Registry struct {
	mu      sync.RWMutex
	natives map[string]NativeFunc
	log     commonlog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		natives: make(map[string]NativeFunc),
		log:     commonlog.GetLogger("cellvm.natives"),
	}
}

// Register adds a native. A name can be registered once.
func (r *Registry) Register(name string, fn NativeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.natives[name]; exists {
		return &DuplicateRegistrationError{Name: name}
	}
	r.natives[name] = fn
	r.log.Debug("registered native", "name", name)
	return nil
}

// RegisterAll adds every entry, stopping at the first duplicate.
func (r *Registry) RegisterAll(entries []NativeInfo) error {
	for _, e := range entries {
		if err := r.Register(e.Name, e.Func); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the native registered under name.
func (r *Registry) Lookup(name string) (NativeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.natives[name]
	return fn, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.natives))
	for name := range r.natives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered natives.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.natives)
}
