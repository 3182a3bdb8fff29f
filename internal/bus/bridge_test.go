package bus

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
)

// ─── Mock Dependencies ──────────────────────────────────────────────

type published struct {
	topic   string
	payload []byte
}

type mockMQTT struct {
	mu         sync.Mutex
	published  []published
	handlers   map[string]mqtt.MessageHandler
	publishErr error
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockMQTT) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, published{topic: topic, payload: payload})
	return m.publishErr
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *mockMQTT) deliver(topic string, payload []byte) error {
	m.mu.Lock()
	h := m.handlers[mqtt.Topics{}.AllEvents()]
	m.mu.Unlock()
	return h(topic, payload)
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestMQTTBridge_ForwardsLocalEvents(t *testing.T) {
	b := New(nil)
	client := newMockMQTT()
	br := NewMQTTBridge(b, client, "hub-a", 1, []string{"kodi_turn_on"})
	if err := br.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx := NewContext()
	if err := b.Fire("kodi_turn_on", map[string]any{"entity_id": "media_player.lounge"}, OriginLocal, ctx); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if err := b.Fire("kodi_turn_off", nil, OriginLocal, Context{}); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if err := b.Fire("kodi_turn_on", nil, OriginRemote, Context{}); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}

	if len(client.published) != 1 {
		t.Fatalf("published = %d messages, want 1", len(client.published))
	}
	msg := client.published[0]
	if msg.topic != "graylogic/event/kodi_turn_on" {
		t.Errorf("topic = %q", msg.topic)
	}
	var decoded eventMessage
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded.HubID != "hub-a" || decoded.Context.ID != ctx.ID || decoded.Data["entity_id"] != "media_player.lounge" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestMQTTBridge_PublishFailureDoesNotFailProducer(t *testing.T) {
	b := New(nil)
	client := newMockMQTT()
	client.publishErr = mqtt.ErrNotConnected
	br := NewMQTTBridge(b, client, "hub-a", 1, []string{"x"})
	if err := br.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := b.Fire("x", nil, OriginLocal, Context{}); err != nil {
		t.Errorf("Fire() error = %v, want nil", err)
	}
}

func TestMQTTBridge_FiresRemoteEvents(t *testing.T) {
	b := New(nil)
	client := newMockMQTT()
	br := NewMQTTBridge(b, client, "hub-a", 1, []string{"kodi_turn_on"})
	if err := br.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var got []Event
	b.Listen("kodi_turn_on", func(ev Event) error { got = append(got, ev); return nil })

	remote := eventMessage{HubID: "hub-b", EventType: "kodi_turn_on", Data: map[string]any{"entity_id": "media_player.den"}, Context: Context{ID: "ctx-1"}}
	payload, _ := json.Marshal(remote) //nolint:errcheck // Static test data

	if err := client.deliver("graylogic/event/kodi_turn_on", payload); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].Origin != OriginRemote || got[0].Context.ID != "ctx-1" {
		t.Errorf("event = %+v", got[0])
	}
	// Remote events are not re-published.
	if len(client.published) != 0 {
		t.Errorf("published = %d, want 0", len(client.published))
	}
}

func TestMQTTBridge_IgnoresOwnMessages(t *testing.T) {
	b := New(nil)
	client := newMockMQTT()
	br := NewMQTTBridge(b, client, "hub-a", 1, nil)
	if err := br.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	fired := false
	b.Listen(MatchAll, func(Event) error { fired = true; return nil })

	payload, _ := json.Marshal(eventMessage{HubID: "hub-a", EventType: "x"}) //nolint:errcheck // Static test data
	if err := client.deliver("graylogic/event/x", payload); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	if fired {
		t.Error("own message was fired locally")
	}
}

func TestMQTTBridge_InvalidMessages(t *testing.T) {
	b := New(nil)
	client := newMockMQTT()
	br := NewMQTTBridge(b, client, "hub-a", 1, nil)
	if err := br.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"not json", "graylogic/event/x", "{"},
		{"type mismatch", "graylogic/event/x", `{"hub_id":"hub-b","event_type":"y"}`},
		{"bad topic", "graylogic/state/x/y", `{}`},
	}
	for _, tt := range tests {
		if err := client.deliver(tt.topic, []byte(tt.payload)); !errors.Is(err, ErrInvalidEventMessage) {
			t.Errorf("%s: error = %v, want ErrInvalidEventMessage", tt.name, err)
		}
	}
}

func TestMQTTBridge_Stop(t *testing.T) {
	b := New(nil)
	client := newMockMQTT()
	br := NewMQTTBridge(b, client, "hub-a", 1, []string{"x"})
	if err := br.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := br.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if b.ListenerCount("x") != 0 {
		t.Error("bridge listener still registered after Stop")
	}
	if len(client.handlers) != 0 {
		t.Error("MQTT subscription still present after Stop")
	}
}
