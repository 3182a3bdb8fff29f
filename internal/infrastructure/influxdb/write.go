package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementEntityState is the measurement recorded for every state change.
const MeasurementEntityState = "entity_state"

// EntityState is one recorded state of an entity.
type EntityState struct {
	EntityID string
	Domain   string
	State    string
	// Available is false when the entity reported "unavailable".
	Available bool
	Timestamp time.Time
}

// WriteEntityState queues an entity_state point. Dropped silently when
// the client is not connected.
//
// Example:
//
//	client.WriteEntityState(influxdb.EntityState{
//	    EntityID: "binary_sensor.connected_to_router", Domain: "binary_sensor",
//	    State: "on", Available: true, Timestamp: time.Now(),
//	})
func (c *Client) WriteEntityState(s EntityState) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(entityStatePoint(s))
}

// entityStatePoint builds the point for s. Binary states also get a
// numeric "value" field (on=1, off=0) so they can be graphed.
func entityStatePoint(s EntityState) *write.Point {
	fields := map[string]any{
		"state":     s.State,
		"available": s.Available,
	}
	switch s.State {
	case "on":
		fields["value"] = 1.0
	case "off":
		fields["value"] = 0.0
	}

	ts := s.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		MeasurementEntityState,
		map[string]string{
			"entity_id": s.EntityID,
			"domain":    s.Domain,
		},
		fields,
		ts,
	)
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
