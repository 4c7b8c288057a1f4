// Package values holds the observable typed values reported by nodes.
// Command class handlers register values at setup and push decoded state
// into them; readers (web, MQTT, automation) observe changes through
// subscriptions. All mutation is serialized by the store's own lock.
package values

import "errors"

var (
	// ErrNotFound is returned when no value is registered under a key.
	ErrNotFound = errors.New("value not found")
	// ErrInvalidCode is returned when a code does not match any option of a
	// list value.
	ErrInvalidCode = errors.New("code not in option list")
)

// Genre classifies who a value is for.
type Genre string

const (
	GenreSystem Genre = "system"
	GenreUser   Genre = "user"
	GenreConfig Genre = "config"
)

// Kind is the representation of a value.
type Kind uint8

const (
	// KindByte is a plain 0-255 level or state byte.
	KindByte Kind = iota
	// KindList is an enumerated value restricted to a fixed option set.
	KindList
)

// Option is one (label, code) entry of a list value.
type Option struct {
	Label string `json:"label"`
	Code  uint8  `json:"code"`
}

// Metadata identifies and describes a value within a node.
type Metadata struct {
	CommandClassID uint8  `json:"command_class_id"`
	Instance       uint8  `json:"instance"`
	Index          uint8  `json:"index"`
	Label          string `json:"label"`
	Genre          Genre  `json:"genre"`
	ReadOnly       bool   `json:"read_only"`
	Persisted      bool   `json:"persisted"`
}

// Value is a snapshot of one observable value. Snapshots are plain data;
// the live state stays inside the Store.
type Value struct {
	Kind    Kind     `json:"kind"`
	Meta    Metadata `json:"meta"`
	Options []Option `json:"options,omitempty"`
	Current uint8    `json:"current"`
	// Known is false until the first report or set establishes a state.
	Known bool `json:"known"`
}

// Option returns the option matching the current code of a list value.
func (v Value) Option() (Option, bool) {
	if v.Kind != KindList {
		return Option{}, false
	}
	for _, o := range v.Options {
		if o.Code == v.Current {
			return o, true
		}
	}
	return Option{}, false
}

// OptionByLabel finds an option of a list value by its display label.
func (v Value) OptionByLabel(label string) (Option, bool) {
	for _, o := range v.Options {
		if o.Label == label {
			return o, true
		}
	}
	return Option{}, false
}

// Display returns the human-readable form of the current state: the option
// label for list values, the raw number for byte values.
func (v Value) Display() any {
	if !v.Known {
		return nil
	}
	if v.Kind == KindList {
		if o, ok := v.Option(); ok {
			return o.Label
		}
	}
	return v.Current
}
