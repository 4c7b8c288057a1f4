package commandclass

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory constructs a handler bound to one node.
type Factory func(deps Deps) CommandClass

type factoryEntry struct {
	name    string
	factory Factory
}

// Registry maps command class ids to handler factories. Handlers are
// resolved here once at node setup, never by runtime type inspection.
type Registry struct {
	mu        sync.RWMutex
	factories map[uint8]factoryEntry
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		factories: make(map[uint8]factoryEntry),
		logger:    logger,
	}
}

// Register adds a factory under a command class id. A later registration
// for the same id replaces the earlier one.
func (r *Registry) Register(id uint8, name string, factory Factory) {
	r.mu.Lock()
	r.factories[id] = factoryEntry{name: name, factory: factory}
	r.mu.Unlock()
	r.logger.Debug("command class registered", "id", fmt.Sprintf("0x%02X", id), "name", name)
}

// Instantiate builds a handler for one node, or reports the id as unknown.
func (r *Registry) Instantiate(id uint8, deps Deps) (CommandClass, bool) {
	r.mu.RLock()
	entry, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return entry.factory(deps), true
}

// IDByName resolves a registered class by its lowercase config name.
func (r *Registry) IDByName(name string) (uint8, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, entry := range r.factories {
		if entry.name == name {
			return id, true
		}
	}
	return 0, false
}

// IDs returns all registered command class ids in ascending order.
func (r *Registry) IDs() []uint8 {
	r.mu.RLock()
	out := make([]uint8, 0, len(r.factories))
	for id := range r.factories {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RegisterStandard registers every command class this gateway implements.
func RegisterStandard(r *Registry) {
	r.Register(BasicID, "basic", NewBasic)
	r.Register(SwitchBinaryID, "binary_switch", NewSwitchBinary)
	r.Register(ProtectionID, "protection", NewProtection)
}
