package devolo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/gray-logic-hub/internal/clock"
	"github.com/nerrad567/gray-logic-hub/internal/configentry"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
)

type mockSubscriber struct {
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
}

func (m *mockSubscriber) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	if m.handlers == nil {
		m.handlers = make(map[string]mqtt.MessageHandler)
	}
	m.handlers[topic] = h
	return nil
}

func (m *mockSubscriber) Unsubscribe(topic string) error {
	m.unsubscribed = append(m.unsubscribed, topic)
	return nil
}

// retainedSubscriber delivers payload on every subscription from another
// goroutine shortly after Subscribe returns, as a broker does with a
// retained message.
type retainedSubscriber struct {
	payload []byte
	delay   time.Duration

	mu         sync.Mutex
	subscribed int
	delivered  sync.WaitGroup
}

func (r *retainedSubscriber) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	r.mu.Lock()
	r.subscribed++
	r.mu.Unlock()
	if r.payload == nil {
		return nil
	}
	r.delivered.Add(1)
	go func() {
		defer r.delivered.Done()
		time.Sleep(r.delay)
		h(topic, r.payload) //nolint:errcheck // payload is valid
	}()
	return nil
}

func (r *retainedSubscriber) Unsubscribe(string) error { return nil }

const overviewJSON = `{
	"devices": [
		{"mac_address": "AA:BB:CC:DD:EE:FF", "attached_to_router": true, "topology": "LOCAL", "product_name": "Magic 2 WiFi next"}
	],
	"data_rates": [
		{"mac_address_from": "AA:BB:CC:DD:EE:FF", "mac_address_to": "11:22:33:44:55:66", "rx_rate": 512.5, "tx_rate": 480}
	]
}`

func TestMQTTOverviewSource(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	sub := &mockSubscriber{}
	src := NewMQTTOverviewSource(sub, testSerial, LongUpdateInterval, clk)
	ctx := context.Background()

	if _, err := src.GetNetworkOverview(ctx); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("GetNetworkOverview() before Start error = %v, want ErrDeviceUnavailable", err)
	}

	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	topic := "graylogic/state/devolo/" + testSerial + "/plcnet"
	handler, ok := sub.handlers[topic]
	if !ok {
		t.Fatalf("no subscription on %s, have %v", topic, sub.handlers)
	}

	if err := handler(topic, []byte("{not json")); err == nil {
		t.Error("handler accepted invalid JSON")
	}
	if err := handler(topic, []byte(overviewJSON)); err != nil {
		t.Fatalf("handler() error = %v", err)
	}

	got, err := src.GetNetworkOverview(ctx)
	if err != nil {
		t.Fatalf("GetNetworkOverview() error = %v", err)
	}
	want := NetworkOverview{
		Devices: []NetworkDevice{{
			MACAddress: "AA:BB:CC:DD:EE:FF", AttachedToRouter: true, Topology: "LOCAL", ProductName: "Magic 2 WiFi next",
		}},
		DataRates: []DataRate{{
			MACAddressFrom: "AA:BB:CC:DD:EE:FF", MACAddressTo: "11:22:33:44:55:66", RxRate: 512.5, TxRate: 480,
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetNetworkOverview() mismatch (-want +got):\n%s", diff)
	}

	// Still fresh at exactly three intervals, stale after.
	clk.Advance(3 * LongUpdateInterval)
	if _, err := src.GetNetworkOverview(ctx); err != nil {
		t.Errorf("GetNetworkOverview() at 3 intervals error = %v", err)
	}
	clk.Advance(time.Second)
	if _, err := src.GetNetworkOverview(ctx); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("GetNetworkOverview() stale error = %v, want ErrDeviceUnavailable", err)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if len(sub.unsubscribed) != 1 {
		t.Errorf("unsubscribed = %v, want one", sub.unsubscribed)
	}
}

func TestMQTTOverviewSource_CancelledContext(t *testing.T) {
	src := NewMQTTOverviewSource(&mockSubscriber{}, testSerial, LongUpdateInterval, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.GetNetworkOverview(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("GetNetworkOverview() error = %v, want context.Canceled", err)
	}
}

func TestMQTTOverviewSource_WaitsForRetainedReport(t *testing.T) {
	sub := &retainedSubscriber{payload: []byte(overviewJSON), delay: time.Millisecond}
	src := NewMQTTOverviewSource(sub, testSerial, LongUpdateInterval, nil)
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sub.delivered.Wait()

	got, err := src.GetNetworkOverview(context.Background())
	if err != nil {
		t.Fatalf("GetNetworkOverview() error = %v", err)
	}
	if !got.ConnectedToRouter(testMAC) {
		t.Errorf("ConnectedToRouter(%s) = false, want true", testMAC)
	}
}

func TestMQTTOverviewSource_FirstReportTimeout(t *testing.T) {
	src := NewMQTTOverviewSource(&retainedSubscriber{}, testSerial, LongUpdateInterval, nil)
	src.SetFirstReportTimeout(5 * time.Millisecond)
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := src.GetNetworkOverview(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("GetNetworkOverview() error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestMQTTOverviewSource_WaitHonoursContext(t *testing.T) {
	src := NewMQTTOverviewSource(&retainedSubscriber{}, testSerial, LongUpdateInterval, nil)
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	if _, err := src.GetNetworkOverview(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("GetNetworkOverview() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestIntegration_SetupWithMQTTOverviewSource(t *testing.T) {
	h := newHub(t)
	sub := &retainedSubscriber{payload: []byte(overviewJSON), delay: time.Millisecond}
	defer sub.delivered.Wait()
	h.integ.newAPI = func(configentry.Entry) (PlcNetAPI, error) {
		src := NewMQTTOverviewSource(sub, testSerial, LongUpdateInterval, h.clock)
		if err := src.Start(); err != nil {
			return nil, err
		}
		return src, nil
	}
	entry := h.configureIntegration(t)
	ctx := context.Background()

	if err := h.entries.Setup(ctx, entry.ID); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	got, ok := h.entries.Get(entry.ID)
	if !ok || got.State != configentry.StateLoaded {
		t.Errorf("entry state = %q, want loaded", got.State)
	}
	c, ok := h.integ.Coordinator(entry.ID)
	if !ok {
		t.Fatal("Coordinator() not found after Setup()")
	}
	if !c.Data().ConnectedToRouter(testMAC) {
		t.Error("coordinator data does not report the adapter attached to the router")
	}

	if err := h.entries.Unload(ctx, entry.ID); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
}
