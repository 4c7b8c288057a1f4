package values

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Key addresses one value within the store.
type Key struct {
	NodeID         uint8
	CommandClassID uint8
	Instance       uint8
	Index          uint8
}

// Change describes one value mutation, carrying a snapshot of the value
// after the update.
type Change struct {
	NodeID uint8
	Value  Value
}

// Store owns all live values and their change subscriptions.
type Store struct {
	mu     sync.RWMutex
	values map[Key]*Value

	subMu  sync.RWMutex
	subs   map[uint64]func(Change)
	nextID uint64

	logger *slog.Logger
}

// NewStore creates an empty value store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		values: make(map[Key]*Value),
		subs:   make(map[uint64]func(Change)),
		logger: logger.With("component", "values"),
	}
}

// RegisterList registers (or replaces) an enumerated value with a fixed
// option set. Re-registering with the same content is a no-op in effect.
func (s *Store) RegisterList(nodeID uint8, meta Metadata, options []Option) error {
	if len(options) == 0 {
		return fmt.Errorf("register %q: empty option list", meta.Label)
	}
	opts := make([]Option, len(options))
	copy(opts, options)

	key := Key{NodeID: nodeID, CommandClassID: meta.CommandClassID, Instance: meta.Instance, Index: meta.Index}
	s.mu.Lock()
	s.values[key] = &Value{Kind: KindList, Meta: meta, Options: opts}
	s.mu.Unlock()

	s.logger.Debug("value registered", "node", nodeID, "label", meta.Label, "kind", "list", "options", len(opts))
	return nil
}

// RegisterByte registers (or replaces) a plain byte value.
func (s *Store) RegisterByte(nodeID uint8, meta Metadata) error {
	key := Key{NodeID: nodeID, CommandClassID: meta.CommandClassID, Instance: meta.Instance, Index: meta.Index}
	s.mu.Lock()
	s.values[key] = &Value{Kind: KindByte, Meta: meta}
	s.mu.Unlock()

	s.logger.Debug("value registered", "node", nodeID, "label", meta.Label, "kind", "byte")
	return nil
}

// Get returns a snapshot of one value.
func (s *Store) Get(nodeID, ccID, instance, index uint8) (Value, bool) {
	s.mu.RLock()
	v, ok := s.values[Key{NodeID: nodeID, CommandClassID: ccID, Instance: instance, Index: index}]
	if !ok {
		s.mu.RUnlock()
		return Value{}, false
	}
	snap := snapshot(v)
	s.mu.RUnlock()
	return snap, true
}

// SetCode updates a value with a code received from the device. For list
// values the code must match one of the registered options. Subscribers are
// notified after the store lock is released.
func (s *Store) SetCode(nodeID, ccID, instance, index, code uint8) error {
	key := Key{NodeID: nodeID, CommandClassID: ccID, Instance: instance, Index: index}

	s.mu.Lock()
	v, ok := s.values[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("node %d cc 0x%02X instance %d index %d: %w", nodeID, ccID, instance, index, ErrNotFound)
	}
	if v.Kind == KindList {
		found := false
		for _, o := range v.Options {
			if o.Code == code {
				found = true
				break
			}
		}
		if !found {
			s.mu.Unlock()
			return fmt.Errorf("%q code %d: %w", v.Meta.Label, code, ErrInvalidCode)
		}
	}
	v.Current = code
	v.Known = true
	snap := snapshot(v)
	s.mu.Unlock()

	s.notify(Change{NodeID: nodeID, Value: snap})
	return nil
}

// ForNode returns snapshots of all values of one node, ordered by command
// class, instance, and index.
func (s *Store) ForNode(nodeID uint8) []Value {
	s.mu.RLock()
	var out []Value
	for key, v := range s.values {
		if key.NodeID == nodeID {
			out = append(out, snapshot(v))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Meta, out[j].Meta
		if a.CommandClassID != b.CommandClassID {
			return a.CommandClassID < b.CommandClassID
		}
		if a.Instance != b.Instance {
			return a.Instance < b.Instance
		}
		return a.Index < b.Index
	})
	return out
}

// RemoveNode drops all values of a node.
func (s *Store) RemoveNode(nodeID uint8) {
	s.mu.Lock()
	for key := range s.values {
		if key.NodeID == nodeID {
			delete(s.values, key)
		}
	}
	s.mu.Unlock()
}

// Subscribe registers a change callback. Returns an unsubscribe function.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(ch Change) {
	s.subMu.RLock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("value subscriber panic", "label", ch.Value.Meta.Label, "panic", r)
				}
			}()
			fn(ch)
		}()
	}
}

func snapshot(v *Value) Value {
	snap := *v
	if v.Options != nil {
		snap.Options = make([]Option, len(v.Options))
		copy(snap.Options, v.Options)
	}
	return snap
}
