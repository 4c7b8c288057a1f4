//go:build !no_mqtt

package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zwave-go-home/internal/controller"
	"zwave-go-home/internal/store"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge connects the Z-Wave controller to MQTT with HA autodiscovery.
type Bridge struct {
	client pahomqtt.Client
	ctrl   *controller.Controller
	prefix string
	logger *slog.Logger
	unsub  func()

	// Discovery topics published per node, so removal can clear them.
	discMu     sync.Mutex
	discTopics map[uint8][]string
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(ctrl *controller.Controller, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		ctrl:       ctrl,
		prefix:     cfg.TopicPrefix,
		logger:     logger.With("component", "mqtt"),
		discTopics: make(map[uint8][]string),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("zwave-go-home").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publish(b.prefix+"/bridge/state", []byte("online"), true)
			b.publishAllDiscovery()
			b.publishAllStates()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to controller events.
func (b *Bridge) Start() {
	b.unsub = b.ctrl.Events().OnAll(b.handleEvent)
}

// Stop unsubscribes and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	if b.client != nil && b.client.IsConnected() {
		b.publish(b.prefix+"/bridge/state", []byte("offline"), true)
		b.client.Disconnect(250)
	}
}

func (b *Bridge) handleEvent(event controller.Event) {
	switch event.Type {
	case controller.EventValueUpdate:
		b.handleValueUpdate(event)
	case controller.EventNodeAdded:
		if node, ok := event.Data.(*store.Node); ok {
			b.publishNodeDiscovery(node)
		}
	case controller.EventNodeRemoved:
		b.handleNodeRemoved(event)
	}
}

func (b *Bridge) handleValueUpdate(event controller.Event) {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return
	}
	nodeID, ok := data["node_id"].(uint8)
	if !ok {
		return
	}
	label, _ := data["label"].(string)

	var payload string
	switch v := data["value"].(type) {
	case string:
		payload = v
	case uint8:
		payload = strconv.Itoa(int(v))
	case nil:
		return
	default:
		payload = fmt.Sprintf("%v", v)
	}

	b.publish(stateTopic(b.prefix, nodeID, label), []byte(payload), true)
}

func (b *Bridge) handleNodeRemoved(event controller.Event) {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return
	}
	nodeID, ok := data["node_id"].(uint8)
	if !ok {
		return
	}

	b.discMu.Lock()
	topics := b.discTopics[nodeID]
	delete(b.discTopics, nodeID)
	b.discMu.Unlock()

	// Empty retained payload deletes the HA entity.
	for _, topic := range topics {
		b.publish(topic, nil, true)
	}
}

func (b *Bridge) publishAllDiscovery() {
	nodes, err := b.ctrl.Store().ListNodes()
	if err != nil {
		b.logger.Error("list nodes for discovery", "err", err)
		return
	}
	for _, node := range nodes {
		b.publishNodeDiscovery(node)
	}
}

func (b *Bridge) publishNodeDiscovery(node *store.Node) {
	msgs := discoveryMessages(node, b.ctrl.Values().ForNode(node.NodeID), b.prefix)

	topics := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		b.publish(msg.Topic, msg.Payload, true)
		topics = append(topics, msg.Topic)
	}

	b.discMu.Lock()
	b.discTopics[node.NodeID] = topics
	b.discMu.Unlock()
}

// publishAllStates republishes the last known state of every value, so a
// freshly connected broker starts populated.
func (b *Bridge) publishAllStates() {
	nodes, err := b.ctrl.Store().ListNodes()
	if err != nil {
		return
	}
	for _, node := range nodes {
		for _, v := range b.ctrl.Values().ForNode(node.NodeID) {
			display := v.Display()
			if display == nil {
				continue
			}
			b.publish(stateTopic(b.prefix, node.NodeID, v.Meta.Label), []byte(fmt.Sprintf("%v", display)), true)
		}
	}
}

func (b *Bridge) subscribeCommands() {
	topic := b.prefix + "/+/set/+"
	token := b.client.Subscribe(topic, 0, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Topic(), msg.Payload())
	})
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		b.logger.Error("subscribe commands", "err", token.Error())
	}
}

// handleCommand processes <prefix>/<nodeID>/set/<value-slug> messages.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	nodeID, slug, ok := parseCommandTopic(b.prefix, topic)
	if !ok {
		b.logger.Warn("bad command topic", "topic", topic)
		return
	}

	var label string
	for _, v := range b.ctrl.Values().ForNode(nodeID) {
		if slugify(v.Meta.Label) == slug {
			label = v.Meta.Label
			break
		}
	}
	if label == "" {
		b.logger.Warn("command for unknown value", "node", nodeID, "slug", slug)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.ctrl.SetValue(ctx, nodeID, label, string(payload)); err != nil {
		b.logger.Error("mqtt set value", "err", err, "node", nodeID, "label", label)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 0, retained, payload)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		b.logger.Error("mqtt publish", "err", token.Error(), "topic", topic)
	}
}

// parseCommandTopic splits <prefix>/<nodeID>/set/<slug>.
func parseCommandTopic(prefix, topic string) (uint8, string, bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return 0, "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" {
		return 0, "", false
	}
	id, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return 0, "", false
	}
	return uint8(id), parts[2], true
}

func stateTopic(prefix string, nodeID uint8, label string) string {
	return fmt.Sprintf("%s/%d/%s", prefix, nodeID, slugify(label))
}

// slugify lowercases a value label and replaces spaces for topic use.
func slugify(label string) string {
	return strings.ReplaceAll(strings.ToLower(label), " ", "_")
}
