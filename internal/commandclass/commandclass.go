// Package commandclass implements Z-Wave command class handlers: the one
// place where command frames are built and inbound reports are decoded.
// Handlers receive their collaborators (transport, value store) at
// construction and hold no state of their own; the device's reported state
// lives in the values store.
package commandclass

import (
	"context"
	"log/slog"

	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/values"
)

// Request flags passed to RequestState.
const (
	// RequestSession marks a good moment to (re)query dynamic state, e.g.
	// node wake-up or gateway start.
	RequestSession uint8 = 0x01
	// RequestStatic asks for capabilities that never change after inclusion.
	RequestStatic uint8 = 0x02
)

// Sender queues outgoing command frames for transmission. Delivery, retries,
// and routing are its concern, not the handlers'.
type Sender interface {
	SendData(ctx context.Context, req serialapi.Request) error
}

// ValueStore is the slice of the value subsystem the handlers use: register
// values at setup, read snapshots, and push decoded state.
type ValueStore interface {
	RegisterList(nodeID uint8, meta values.Metadata, options []values.Option) error
	RegisterByte(nodeID uint8, meta values.Metadata) error
	Get(nodeID, ccID, instance, index uint8) (values.Value, bool)
	SetCode(nodeID, ccID, instance, index, code uint8) error
}

// Deps carries the collaborators handed to every handler at construction.
type Deps struct {
	NodeID uint8
	Sender Sender
	Values ValueStore
	Logger *slog.Logger
}

// CommandClass is one device capability handler, bound to a single node.
type CommandClass interface {
	ID() uint8
	Name() string

	// CreateValues registers this class's values for one instance. Called
	// once at node setup.
	CreateValues(instance uint8)

	// RequestState issues state queries appropriate for the given request
	// flags. Returns true if any request was sent.
	RequestState(ctx context.Context, flags uint8, instance uint8) bool

	// HandleMessage decodes one inbound frame (command class id already
	// stripped; data[0] is the opcode). Returns false if the opcode is not
	// one this class consumes, so a dispatch chain can try others.
	HandleMessage(data []byte, instance uint8) bool

	// SetValue turns a caller-supplied value into a Set command. Returns
	// false if the value's kind does not fit this class; no frame is sent
	// in that case.
	SetValue(ctx context.Context, v values.Value) bool
}

// defaultTxOptions is appended to every outgoing request.
const defaultTxOptions = serialapi.TransmitOptionACK | serialapi.TransmitOptionAutoRoute
