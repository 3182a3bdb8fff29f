package influxdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

// testConfig matches the local development InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "graylogic-dev-token",
		Org:           "graylogic",
		Bucket:        "metrics",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Connect(ctx, testConfig())
	if err != nil {
		t.Skipf("InfluxDB not available: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("IsConnected() = true for nil client")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	// Must not panic.
	c.WriteEntityState(EntityState{EntityID: "x.y", State: "on"})
	c.Flush()
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
}

func TestEntityStatePoint(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		state     EntityState
		wantValue any
	}{
		{"on", EntityState{EntityID: "binary_sensor.connected_to_router", Domain: "binary_sensor", State: "on", Available: true, Timestamp: ts}, 1.0},
		{"off", EntityState{EntityID: "binary_sensor.connected_to_router", Domain: "binary_sensor", State: "off", Available: true, Timestamp: ts}, 0.0},
		{"unavailable", EntityState{EntityID: "binary_sensor.connected_to_router", Domain: "binary_sensor", State: "unavailable", Timestamp: ts}, nil},
		{"non-binary", EntityState{EntityID: "media_player.lounge", Domain: "media_player", State: "playing", Available: true, Timestamp: ts}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := entityStatePoint(tt.state)

			if p.Name() != MeasurementEntityState {
				t.Errorf("Name() = %q, want %q", p.Name(), MeasurementEntityState)
			}
			if !p.Time().Equal(ts) {
				t.Errorf("Time() = %v, want %v", p.Time(), ts)
			}

			tags := map[string]string{}
			for _, tag := range p.TagList() {
				tags[tag.Key] = tag.Value
			}
			if tags["entity_id"] != tt.state.EntityID || tags["domain"] != tt.state.Domain {
				t.Errorf("tags = %v", tags)
			}

			fields := map[string]any{}
			for _, f := range p.FieldList() {
				fields[f.Key] = f.Value
			}
			if fields["state"] != tt.state.State {
				t.Errorf("state field = %v, want %q", fields["state"], tt.state.State)
			}
			if fields["available"] != tt.state.Available {
				t.Errorf("available field = %v, want %v", fields["available"], tt.state.Available)
			}
			if got := fields["value"]; got != tt.wantValue {
				t.Errorf("value field = %v, want %v", got, tt.wantValue)
			}
		})
	}
}

func TestWriteEntityState_Server(t *testing.T) {
	client := connectOrSkip(t)

	client.WriteEntityState(EntityState{
		EntityID:  "binary_sensor.connected_to_router",
		Domain:    "binary_sensor",
		State:     "on",
		Available: true,
	})
	client.Flush()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
}
