//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"

	"zwave-go-home/internal/store"
	"zwave-go-home/internal/values"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/select/zwave_7/protection/config"
	Payload []byte
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	Options           []string `json:"options,omitempty"`
	Min               *int     `json:"min,omitempty"`
	Max               *int     `json:"max,omitempty"`
	Device            haDevice `json:"device"`
}

// nodeDisplayName returns a display name for the node.
func nodeDisplayName(node *store.Node) string {
	if node.FriendlyName != "" {
		return node.FriendlyName
	}
	return fmt.Sprintf("Z-Wave node %d", node.NodeID)
}

// discoveryMessages builds the HA discovery config for every value of one
// node: list values become select entities, writable byte values become
// numbers, read-only bytes become sensors.
func discoveryMessages(node *store.Node, vals []values.Value, prefix string) []discoveryMsg {
	device := haDevice{
		Identifiers:  []string{fmt.Sprintf("zwave_%d", node.NodeID)},
		Manufacturer: "Z-Wave",
		Name:         nodeDisplayName(node),
	}
	avail := prefix + "/bridge/state"

	var msgs []discoveryMsg
	for _, v := range vals {
		slug := slugify(v.Meta.Label)
		payload := haDiscovery{
			Name:              v.Meta.Label,
			UniqueID:          fmt.Sprintf("zwave_%d_%s", node.NodeID, slug),
			StateTopic:        stateTopic(prefix, node.NodeID, v.Meta.Label),
			AvailabilityTopic: avail,
			Device:            device,
		}

		var component string
		switch {
		case v.Kind == values.KindList:
			component = "select"
			for _, o := range v.Options {
				payload.Options = append(payload.Options, o.Label)
			}
		case v.Meta.ReadOnly:
			component = "sensor"
		default:
			component = "number"
			lo, hi := 0, 255
			payload.Min, payload.Max = &lo, &hi
		}
		if !v.Meta.ReadOnly {
			payload.CommandTopic = fmt.Sprintf("%s/%d/set/%s", prefix, node.NodeID, slug)
		}

		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/zwave_%d/%s/config", component, node.NodeID, slug),
			Payload: mustJSON(payload),
		})
	}
	return msgs
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err) // structs above always marshal
	}
	return data
}
