package devolo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/clock"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
)

// staleFactor is how many poll intervals a report stays valid.
const staleFactor = 3

// DefaultFirstReportTimeout bounds how long a started source waits for the
// retained overview before reporting the device unavailable.
const DefaultFirstReportTimeout = 10 * time.Second

// Subscriber is the part of the MQTT client the overview source needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// OverviewTopic returns the topic the bridge publishes the overview of
// the adapter with serial on.
func OverviewTopic(serial string) string {
	return mqtt.Topics{}.State("devolo", serial) + "/plcnet"
}

// MQTTOverviewSource is a PlcNetAPI fed by overview reports published over
// MQTT. It answers from the last report and treats a missing or stale
// report as the device being unavailable.
//
// Thread Safety: all methods are safe for concurrent use.
type MQTTOverviewSource struct {
	client Subscriber
	topic  string
	maxAge time.Duration
	clock  clock.Clock

	// firstReportTimeout uses wall time; the broker delivers on its own schedule.
	firstReportTimeout time.Duration
	firstReport        chan struct{}

	mu       sync.Mutex
	last     NetworkOverview
	received time.Time
	started  bool
}

// NewMQTTOverviewSource creates a source for the adapter with serial.
// Reports older than three poll intervals are stale. A nil clock uses the
// wall clock.
func NewMQTTOverviewSource(client Subscriber, serial string, interval time.Duration, clk clock.Clock) *MQTTOverviewSource {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MQTTOverviewSource{
		client: client,
		topic:  OverviewTopic(serial),
		maxAge: staleFactor * interval,
		clock:  clk,

		firstReportTimeout: DefaultFirstReportTimeout,
		firstReport:        make(chan struct{}),
	}
}

// SetFirstReportTimeout changes how long GetNetworkOverview waits for the
// first report after Start. Call it before Start.
func (s *MQTTOverviewSource) SetFirstReportTimeout(d time.Duration) {
	s.firstReportTimeout = d
}

// Start subscribes to the overview topic.
func (s *MQTTOverviewSource) Start() error {
	if err := s.client.Subscribe(s.topic, 1, s.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.topic, err)
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

// Close unsubscribes. It is safe to call on a source that never started.
func (s *MQTTOverviewSource) Close() error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return nil
	}
	return s.client.Unsubscribe(s.topic)
}

func (s *MQTTOverviewSource) handleMessage(topic string, payload []byte) error {
	var overview NetworkOverview
	if err := json.Unmarshal(payload, &overview); err != nil {
		return fmt.Errorf("devolo: decoding overview on %s: %w", topic, err)
	}
	s.mu.Lock()
	first := s.received.IsZero()
	s.last = overview
	s.received = s.clock.Now()
	s.mu.Unlock()
	if first {
		close(s.firstReport)
	}
	return nil
}

// GetNetworkOverview implements PlcNetAPI. On a started source that has
// not seen a report yet, it waits for the first one until ctx is done or
// the first-report timeout passes.
func (s *MQTTOverviewSource) GetNetworkOverview(ctx context.Context) (NetworkOverview, error) {
	if err := ctx.Err(); err != nil {
		return NetworkOverview{}, err
	}
	if err := s.awaitFirstReport(ctx); err != nil {
		return NetworkOverview{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.received.IsZero() {
		return NetworkOverview{}, fmt.Errorf("%w: no overview received on %s", ErrDeviceUnavailable, s.topic)
	}
	if age := s.clock.Now().Sub(s.received); age > s.maxAge {
		return NetworkOverview{}, fmt.Errorf("%w: last overview is %s old", ErrDeviceUnavailable, age.Round(time.Second))
	}
	return s.last.Clone(), nil
}

func (s *MQTTOverviewSource) awaitFirstReport(ctx context.Context) error {
	s.mu.Lock()
	waiting := s.started && s.received.IsZero()
	s.mu.Unlock()
	if !waiting || s.firstReportTimeout <= 0 {
		return nil
	}

	timer := time.NewTimer(s.firstReportTimeout)
	defer timer.Stop()
	select {
	case <-s.firstReport:
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
