// Package controller owns the running gateway: it wires the serial driver,
// the command class registry, and the value store together, and orchestrates
// node lifecycle and session state queries.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"zwave-go-home/internal/commandclass"
	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/store"
	"zwave-go-home/internal/values"
)

// Controller manages the Z-Wave network via a Serial API driver.
type Controller struct {
	driver   serialapi.Driver
	store    store.Store
	registry *commandclass.Registry
	values   *values.Store
	events   *EventBus
	nodes    *NodeManager
	logger   *slog.Logger

	netMu   sync.RWMutex
	network store.NetworkState

	unsubValues func()
}

// New creates a controller and hooks it into the driver and value store.
func New(driver serialapi.Driver, st store.Store, registry *commandclass.Registry, vals *values.Store, events *EventBus, logger *slog.Logger) *Controller {
	c := &Controller{
		driver:   driver,
		store:    st,
		registry: registry,
		values:   vals,
		events:   events,
		logger:   logger,
	}
	c.nodes = NewNodeManager(c)
	driver.OnApplicationCommand(c.nodes.HandleApplicationCommand)
	c.unsubValues = vals.Subscribe(c.onValueChange)
	return c
}

// Events returns the controller's event bus.
func (c *Controller) Events() *EventBus { return c.events }

// Values returns the live value store.
func (c *Controller) Values() *values.Store { return c.values }

// Store returns the persistence layer.
func (c *Controller) Store() store.Store { return c.store }

// Nodes returns the node manager.
func (c *Controller) Nodes() *NodeManager { return c.nodes }

// Registry returns the command class registry.
func (c *Controller) Registry() *commandclass.Registry { return c.registry }

// Network returns the controller identity read at startup.
func (c *Controller) Network() store.NetworkState {
	c.netMu.RLock()
	defer c.netMu.RUnlock()
	return c.network
}

// Start reads the controller identity, restores known nodes, and issues the
// session state queries.
func (c *Controller) Start(ctx context.Context) error {
	version, err := c.driver.Version(ctx)
	if err != nil {
		return fmt.Errorf("controller version: %w", err)
	}
	homeID, ownNodeID, err := c.driver.MemoryGetID(ctx)
	if err != nil {
		return fmt.Errorf("controller ids: %w", err)
	}

	state := store.NetworkState{
		HomeID:           homeID,
		ControllerNodeID: ownNodeID,
		APIVersion:       version,
	}
	c.netMu.Lock()
	c.network = state
	c.netMu.Unlock()

	if err := c.store.SaveNetworkState(&state); err != nil {
		c.logger.Error("save network state", "err", err)
	}
	c.logger.Info("controller ready",
		"home_id", fmt.Sprintf("0x%08X", homeID),
		"node_id", ownNodeID,
		"api", version)
	c.events.Emit(Event{Type: EventNetworkState, Data: state})

	if err := c.nodes.Restore(); err != nil {
		return fmt.Errorf("restore nodes: %w", err)
	}
	c.nodes.RequestSessionState(ctx)
	return nil
}

// Stop detaches the controller from the value store. The driver is closed
// by its owner.
func (c *Controller) Stop() {
	if c.unsubValues != nil {
		c.unsubValues()
	}
}

// SetValue resolves a value of a node by its label and asks the owning
// command class to send the matching Set. For list values target is an
// option label; for byte values it is a number in 0-255.
func (c *Controller) SetValue(ctx context.Context, nodeID uint8, valueLabel, target string) error {
	var found *values.Value
	for _, v := range c.values.ForNode(nodeID) {
		if v.Meta.Label == valueLabel {
			snap := v
			found = &snap
			break
		}
	}
	if found == nil {
		return fmt.Errorf("node %d has no value %q: %w", nodeID, valueLabel, values.ErrNotFound)
	}
	if found.Meta.ReadOnly {
		return fmt.Errorf("value %q is read-only", valueLabel)
	}

	switch found.Kind {
	case values.KindList:
		opt, ok := found.OptionByLabel(target)
		if !ok {
			return fmt.Errorf("value %q has no option %q", valueLabel, target)
		}
		found.Current = opt.Code
	case values.KindByte:
		n, err := strconv.ParseUint(target, 10, 8)
		if err != nil {
			return fmt.Errorf("value %q: %q is not a byte", valueLabel, target)
		}
		found.Current = uint8(n)
	}
	found.Known = true

	handler := c.nodes.Handler(nodeID, found.Meta.CommandClassID)
	if handler == nil {
		return fmt.Errorf("node %d has no handler for command class 0x%02X", nodeID, found.Meta.CommandClassID)
	}
	if !handler.SetValue(ctx, *found) {
		return fmt.Errorf("%s rejected value %q", handler.Name(), valueLabel)
	}
	return nil
}

// onValueChange persists the new state and republishes it as an event.
func (c *Controller) onValueChange(ch values.Change) {
	label := ch.Value.Meta.Label
	display := ch.Value.Display()

	err := c.store.UpdateNode(ch.NodeID, func(n *store.Node) error {
		if n.Values == nil {
			n.Values = make(map[string]any)
		}
		n.Values[label] = display
		n.LastSeen = time.Now()
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.logger.Error("persist value", "err", err, "node", ch.NodeID, "label", label)
	}

	c.events.Emit(Event{
		Type: EventValueUpdate,
		Data: map[string]interface{}{
			"node_id":       ch.NodeID,
			"label":         label,
			"value":         display,
			"command_class": ch.Value.Meta.CommandClassID,
			"instance":      ch.Value.Meta.Instance,
			"index":         ch.Value.Meta.Index,
		},
	})

	c.logger.Info("value update", "node", ch.NodeID, "label", label, "value", display)
}
