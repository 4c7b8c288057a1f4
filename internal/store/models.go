package store

import "time"

// Node represents one Z-Wave device on the network.
type Node struct {
	NodeID         uint8          `json:"node_id"`
	FriendlyName   string         `json:"friendly_name,omitempty"`
	CommandClasses []uint8        `json:"command_classes"`
	Values         map[string]any `json:"values,omitempty"`
	AddedAt        time.Time      `json:"added_at"`
	LastSeen       time.Time      `json:"last_seen"`
}

// SupportsCommandClass reports whether the node lists a command class.
func (n *Node) SupportsCommandClass(id uint8) bool {
	for _, cc := range n.CommandClasses {
		if cc == id {
			return true
		}
	}
	return false
}

// NetworkState holds persisted controller identity.
type NetworkState struct {
	HomeID           uint32 `json:"home_id"`
	ControllerNodeID uint8  `json:"controller_node_id"`
	APIVersion       string `json:"api_version,omitempty"`
}
