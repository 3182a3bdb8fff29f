// Package recorder keeps the history of entity states.
//
// It listens for state_changed events and stores every new state in the
// state_history table. When an InfluxDB client is configured each state is
// also written as an entity_state point for dashboards.
package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hub/internal/state"
)

const writeTimeout = 5 * time.Second

var recordedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "graylogic_hub_recorder_states_total",
		Help: "States handled by the recorder, by result.",
	},
	[]string{"result"},
)

func init() { prometheus.MustRegister(recordedTotal) }

// EventListener is the part of the bus the recorder listens on.
type EventListener interface {
	Listen(eventType string, l bus.Listener) bus.Unsubscribe
}

// TelemetryWriter receives entity states for time-series storage.
type TelemetryWriter interface {
	WriteEntityState(s influxdb.EntityState)
}

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder writes state changes to a Repository.
//
// Thread Safety: all methods are safe for concurrent use.
type Recorder struct {
	repo      Repository
	telemetry TelemetryWriter

	mu     sync.Mutex
	logger Logger
	stop   bus.Unsubscribe
}

// New creates a recorder. telemetry may be nil.
func New(repo Repository, telemetry TelemetryWriter) *Recorder {
	return &Recorder{repo: repo, telemetry: telemetry, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (r *Recorder) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Start begins recording state_changed events from events. Calling Start
// on a running recorder does nothing.
func (r *Recorder) Start(events EventListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	r.stop = events.Listen(bus.EventStateChanged, r.handleStateChanged)
}

// Stop stops recording.
func (r *Recorder) Stop() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// History returns the latest recorded states of entityID, newest first.
func (r *Recorder) History(ctx context.Context, entityID string, limit int) ([]Record, error) {
	return r.repo.History(ctx, entityID, limit)
}

// handleStateChanged records the new state. Removals are not recorded.
// A storage failure is logged, never returned to whoever changed the state.
func (r *Recorder) handleStateChanged(ev bus.Event) error {
	_, newState, ok := state.FromEvent(ev)
	if !ok || newState == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := r.repo.Insert(ctx, Record{
		EntityID:   newState.EntityID,
		State:      newState.State,
		Attributes: newState.Attributes,
		ContextID:  newState.Context.ID,
		RecordedAt: newState.LastUpdated,
	})
	if err != nil {
		recordedTotal.WithLabelValues("failure").Inc()
		r.mu.Lock()
		logger := r.logger
		r.mu.Unlock()
		logger.Warn("recording state failed", "entity_id", newState.EntityID, "error", err)
	} else {
		recordedTotal.WithLabelValues("success").Inc()
	}

	if r.telemetry != nil {
		r.telemetry.WriteEntityState(influxdb.EntityState{
			EntityID:  newState.EntityID,
			Domain:    newState.Domain(),
			State:     newState.State,
			Available: newState.State != state.StateUnavailable,
			Timestamp: newState.LastUpdated,
		})
	}
	return nil
}
