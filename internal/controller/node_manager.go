package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"zwave-go-home/internal/commandclass"
	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/store"
)

// Multi-instance addressing is out of scope; everything runs on the first
// instance.
const defaultInstance uint8 = 1

// managedNode holds the instantiated command class handlers of one node.
type managedNode struct {
	classes map[uint8]commandclass.CommandClass
}

// NodeManager handles node lifecycle and inbound command dispatch.
type NodeManager struct {
	ctrl   *Controller
	logger *slog.Logger

	mu    sync.RWMutex
	nodes map[uint8]*managedNode
}

// NewNodeManager creates a node manager.
func NewNodeManager(ctrl *Controller) *NodeManager {
	return &NodeManager{
		ctrl:   ctrl,
		logger: ctrl.logger.With("component", "nodes"),
		nodes:  make(map[uint8]*managedNode),
	}
}

// Restore loads persisted nodes and rebuilds their handlers.
func (nm *NodeManager) Restore() error {
	nodes, err := nm.ctrl.store.ListNodes()
	if err != nil {
		return err
	}
	for _, node := range nodes {
		nm.instantiate(node)
	}
	nm.logger.Info("nodes restored", "count", len(nodes))
	return nil
}

// Add provisions a new node, persists it, and queries its session state.
// Unknown command class ids are skipped with a warning.
func (nm *NodeManager) Add(ctx context.Context, node *store.Node) error {
	if node.NodeID == 0 {
		return fmt.Errorf("node id 0 is reserved")
	}
	nm.mu.RLock()
	_, exists := nm.nodes[node.NodeID]
	nm.mu.RUnlock()
	if exists {
		return fmt.Errorf("node %d already present", node.NodeID)
	}

	node.AddedAt = time.Now()
	if err := nm.ctrl.store.SaveNode(node); err != nil {
		return fmt.Errorf("save node %d: %w", node.NodeID, err)
	}
	nm.instantiate(node)

	nm.ctrl.events.Emit(Event{Type: EventNodeAdded, Data: node})
	nm.requestNodeSessionState(ctx, node.NodeID)
	return nil
}

// Remove drops a node, its handlers, and its values.
func (nm *NodeManager) Remove(nodeID uint8) error {
	nm.mu.Lock()
	_, ok := nm.nodes[nodeID]
	delete(nm.nodes, nodeID)
	nm.mu.Unlock()
	if !ok {
		return fmt.Errorf("node %d: %w", nodeID, store.ErrNotFound)
	}

	nm.ctrl.values.RemoveNode(nodeID)
	if err := nm.ctrl.store.DeleteNode(nodeID); err != nil {
		return err
	}
	nm.ctrl.events.Emit(Event{Type: EventNodeRemoved, Data: map[string]interface{}{"node_id": nodeID}})
	nm.logger.Info("node removed", "node", nodeID)
	return nil
}

// Handler returns one node's handler for a command class, or nil.
func (nm *NodeManager) Handler(nodeID, ccID uint8) commandclass.CommandClass {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	node, ok := nm.nodes[nodeID]
	if !ok {
		return nil
	}
	return node.classes[ccID]
}

// IDs returns the managed node ids in ascending order.
func (nm *NodeManager) IDs() []uint8 {
	nm.mu.RLock()
	out := make([]uint8, 0, len(nm.nodes))
	for id := range nm.nodes {
		out = append(out, id)
	}
	nm.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HandleApplicationCommand dispatches one inbound frame to the owning
// node's handler for the frame's command class.
func (nm *NodeManager) HandleApplicationCommand(cmd serialapi.ApplicationCommand) {
	if len(cmd.Data) == 0 {
		nm.logger.Warn("empty application command", "node", cmd.NodeID)
		return
	}
	ccID := cmd.Data[0]

	handler := nm.Handler(cmd.NodeID, ccID)
	if handler == nil {
		nm.logger.Debug("command from unmanaged source",
			"node", cmd.NodeID, "cc", fmt.Sprintf("0x%02X", ccID))
		return
	}

	if !handler.HandleMessage(cmd.Data[1:], defaultInstance) {
		nm.logger.Debug("command not handled",
			"node", cmd.NodeID, "cc", fmt.Sprintf("0x%02X", ccID))
		return
	}
	nm.touch(cmd.NodeID)
}

// RequestSessionState queries dynamic state from every managed node.
func (nm *NodeManager) RequestSessionState(ctx context.Context) {
	for _, id := range nm.IDs() {
		nm.requestNodeSessionState(ctx, id)
	}
}

func (nm *NodeManager) requestNodeSessionState(ctx context.Context, nodeID uint8) {
	nm.mu.RLock()
	node, ok := nm.nodes[nodeID]
	nm.mu.RUnlock()
	if !ok {
		return
	}

	ids := make([]uint8, 0, len(node.classes))
	for id := range node.classes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		node.classes[id].RequestState(ctx, commandclass.RequestSession, defaultInstance)
	}
}

// instantiate resolves handlers for every supported command class and lets
// each one register its values.
func (nm *NodeManager) instantiate(node *store.Node) {
	deps := commandclass.Deps{
		NodeID: node.NodeID,
		Sender: nm.ctrl.driver,
		Values: nm.ctrl.values,
		Logger: nm.ctrl.logger,
	}

	mn := &managedNode{classes: make(map[uint8]commandclass.CommandClass)}
	for _, ccID := range node.CommandClasses {
		cc, ok := nm.ctrl.registry.Instantiate(ccID, deps)
		if !ok {
			nm.logger.Warn("unsupported command class",
				"node", node.NodeID, "cc", fmt.Sprintf("0x%02X", ccID))
			continue
		}
		cc.CreateValues(defaultInstance)
		mn.classes[ccID] = cc
	}

	nm.mu.Lock()
	nm.nodes[node.NodeID] = mn
	nm.mu.Unlock()

	nm.logger.Info("node ready", "node", node.NodeID, "classes", len(mn.classes))
}

// touch refreshes a node's last-seen timestamp, best effort.
func (nm *NodeManager) touch(nodeID uint8) {
	err := nm.ctrl.store.UpdateNode(nodeID, func(n *store.Node) error {
		n.LastSeen = time.Now()
		return nil
	})
	if err != nil {
		nm.logger.Debug("update last seen", "err", err, "node", nodeID)
	}
}
