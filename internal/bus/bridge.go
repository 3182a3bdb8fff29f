package bus

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
)

// MQTTClient is the subset of the MQTT client used by the bridge.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// eventMessage is the JSON mirrored on graylogic/event/{type}.
type eventMessage struct {
	HubID     string         `json:"hub_id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	TimeFired time.Time      `json:"time_fired"`
	Context   Context        `json:"context"`
}

// MQTTBridge mirrors local events of the configured types to MQTT and
// fires events published by other hubs on the local bus.
//
// Only OriginLocal events are published, and messages carrying this
// hub's id are ignored, so an event never loops.
type MQTTBridge struct {
	bus        *Bus
	client     MQTTClient
	hubID      string
	qos        byte
	eventTypes []string

	mu     sync.Mutex
	unsubs []Unsubscribe
	logger Logger
}

// NewMQTTBridge creates a bridge for the given event types.
func NewMQTTBridge(b *Bus, client MQTTClient, hubID string, qos byte, eventTypes []string) *MQTTBridge {
	return &MQTTBridge{
		bus:        b,
		client:     client,
		hubID:      hubID,
		qos:        qos,
		eventTypes: slices.Clone(eventTypes),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for publish and decode failures.
func (br *MQTTBridge) SetLogger(logger Logger) {
	if logger != nil {
		br.logger = logger
	}
}

// Start subscribes to remote events and begins forwarding local ones.
func (br *MQTTBridge) Start() error {
	if err := br.client.Subscribe(mqtt.Topics{}.AllEvents(), br.qos, br.handleMessage); err != nil {
		return fmt.Errorf("subscribing to remote events: %w", err)
	}

	br.mu.Lock()
	defer br.mu.Unlock()
	for _, eventType := range br.eventTypes {
		br.unsubs = append(br.unsubs, br.bus.Listen(eventType, br.forward))
	}
	return nil
}

// Stop detaches from the bus and the broker.
func (br *MQTTBridge) Stop() error {
	br.mu.Lock()
	unsubs := br.unsubs
	br.unsubs = nil
	br.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	return br.client.Unsubscribe(mqtt.Topics{}.AllEvents())
}

// forward publishes a local event. Publish failures are logged and not
// returned: a broker outage must not fail the local producer.
func (br *MQTTBridge) forward(ev Event) error {
	if ev.Origin != OriginLocal {
		return nil
	}

	payload, err := json.Marshal(eventMessage{
		HubID:     br.hubID,
		EventType: ev.Type,
		Data:      ev.Data,
		TimeFired: ev.TimeFired,
		Context:   ev.Context,
	})
	if err != nil {
		br.logger.Warn("cannot encode event for MQTT", "event_type", ev.Type, "error", err)
		return nil
	}

	if err := br.client.Publish(mqtt.Topics{}.Event(ev.Type), payload, br.qos, false); err != nil {
		br.logger.Warn("publishing event to MQTT failed", "event_type", ev.Type, "error", err)
	}
	return nil
}

func (br *MQTTBridge) handleMessage(topic string, payload []byte) error {
	eventType, ok := mqtt.EventTypeFromTopic(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %s", ErrInvalidEventMessage, topic)
	}

	var msg eventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEventMessage, err)
	}
	if msg.HubID == br.hubID {
		return nil
	}
	if msg.EventType != "" && msg.EventType != eventType {
		return fmt.Errorf("%w: topic says %s, payload says %s", ErrInvalidEventMessage, eventType, msg.EventType)
	}

	return br.bus.Fire(eventType, msg.Data, OriginRemote, msg.Context)
}
