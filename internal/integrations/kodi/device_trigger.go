package kodi

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nerrad567/gray-logic-hub/internal/automation"
	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/entity"
	"github.com/nerrad567/gray-logic-hub/internal/jobs"
)

// Trigger types offered for every Kodi media player.
const (
	TriggerTurnOn  automation.TriggerType = "turn_on"
	TriggerTurnOff automation.TriggerType = "turn_off"
)

const mediaPlayerDomain = "media_player"

const triggerSchemaJSON = `{
	"allOf": [{"$ref": "device_trigger_base.json"}],
	"required": ["entity_id", "type"],
	"properties": {
		"domain":    {"const": "kodi"},
		"entity_id": {"type": "string", "pattern": "^[a-z0-9_]+\\.[a-z0-9_]+$"},
		"type":      {"enum": ["turn_on", "turn_off"]}
	}
}`

var triggerSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return automation.CompileTriggerSchema("kodi_device_trigger.json", triggerSchemaJSON)
})

var tracer = otel.Tracer("graylogic-hub/kodi")

var triggerFirings = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "graylogic_hub_kodi_trigger_firings_total",
		Help: "Kodi device trigger actions scheduled, by event type.",
	},
	[]string{"event_type"},
)

func init() { prometheus.MustRegister(triggerFirings) }

// EntityLookup lists the entities of a device.
type EntityLookup interface {
	EntriesForDevice(ctx context.Context, deviceID string) ([]entity.Entry, error)
}

// EventListener is the part of the bus triggers listen on.
type EventListener interface {
	Listen(eventType string, l bus.Listener) bus.Unsubscribe
}

// JobRunner schedules work without blocking the caller.
type JobRunner interface {
	Run(name string, fn jobs.Func) error
}

// Logger defines the logging interface used by the integration.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TriggerPlatform offers turn_on and turn_off device triggers for Kodi
// media players.
type TriggerPlatform struct {
	entities EntityLookup
	events   EventListener
	jobs     JobRunner
	logger   Logger
}

// NewTriggerPlatform creates the Kodi device trigger platform.
func NewTriggerPlatform(entities EntityLookup, events EventListener, runner JobRunner) *TriggerPlatform {
	return &TriggerPlatform{
		entities: entities,
		events:   events,
		jobs:     runner,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (p *TriggerPlatform) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// Domain returns "kodi".
func (p *TriggerPlatform) Domain() string { return Domain }

// GetTriggers returns a turn_on and a turn_off trigger for every enabled
// media_player entity of deviceID, in registration order. It never fails:
// a registry error is logged and yields no triggers.
func (p *TriggerPlatform) GetTriggers(ctx context.Context, deviceID string) ([]automation.TriggerDescriptor, error) {
	entries, err := p.entities.EntriesForDevice(ctx, deviceID)
	if err != nil {
		p.logger.Warn("listing device entities failed", "device_id", deviceID, "error", err)
		return []automation.TriggerDescriptor{}, nil
	}

	triggers := make([]automation.TriggerDescriptor, 0, 2*len(entries))
	for _, e := range entries {
		if e.Domain != mediaPlayerDomain {
			continue
		}
		for _, typ := range []automation.TriggerType{TriggerTurnOn, TriggerTurnOff} {
			triggers = append(triggers, automation.TriggerDescriptor{
				Platform: automation.PlatformDevice,
				DeviceID: deviceID,
				Domain:   Domain,
				EntityID: e.EntityID,
				Type:     typ,
			})
		}
	}
	return triggers, nil
}

// ValidateTriggerConfig checks cfg against the Kodi trigger schema.
// Failures wrap automation.ErrInvalidTrigger.
func (p *TriggerPlatform) ValidateTriggerConfig(cfg automation.TriggerConfig) (automation.TriggerConfig, error) {
	schema, err := triggerSchema()
	if err != nil {
		return automation.TriggerConfig{}, err
	}
	if err := automation.ValidateAgainst(schema, cfg); err != nil {
		return automation.TriggerConfig{}, err
	}
	return cfg, nil
}

// AttachTrigger listens for the event of cfg.Type and schedules action on
// the job runner for every event whose entity_id equals cfg.EntityID.
//
// The action receives {"trigger": trigger data + config + description} and
// the context of the event. An unknown type yields a handle that does
// nothing together with an error wrapping automation.ErrInvalidTriggerType.
//
// Returns:
//   - bus.Unsubscribe: removes the listener; safe to call repeatedly
//   - error: non-nil only for an unknown trigger type
func (p *TriggerPlatform) AttachTrigger(_ context.Context, cfg automation.TriggerConfig, action automation.Action, info automation.TriggerInfo) (bus.Unsubscribe, error) {
	var eventType string
	switch cfg.Type {
	case TriggerTurnOn:
		eventType = EventTurnOn
	case TriggerTurnOff:
		eventType = EventTurnOff
	default:
		p.logger.Error("kodi trigger with unsupported type attached",
			"type", cfg.Type,
			"entity_id", cfg.EntityID,
			"automation_id", info.AutomationID,
		)
		return func() {}, fmt.Errorf("%w: kodi %q", automation.ErrInvalidTriggerType, cfg.Type)
	}

	triggerData := maps.Clone(info.TriggerData)
	config := cfg.Map()
	jobName := eventType + " " + info.AutomationID

	listener := func(ev bus.Event) error {
		entityID, ok := ev.String("entity_id")
		if !ok {
			return fmt.Errorf("%w: %s (context %s)", ErrMissingEntityID, eventType, ev.Context.ID)
		}
		if entityID != cfg.EntityID {
			return nil
		}

		trigger := make(map[string]any, len(triggerData)+len(config)+1)
		maps.Copy(trigger, triggerData)
		maps.Copy(trigger, config)
		trigger["description"] = eventType
		vars := automation.Variables{"trigger": trigger}
		eventCtx := ev.Context

		triggerFirings.WithLabelValues(eventType).Inc()
		return p.jobs.Run(jobName, func(ctx context.Context) {
			ctx, span := tracer.Start(ctx, "kodi.trigger", trace.WithSpanKind(trace.SpanKindConsumer))
			span.SetAttributes(
				attribute.String("kodi.event_type", eventType),
				attribute.String("kodi.entity_id", entityID),
				attribute.String("automation.id", info.AutomationID),
				attribute.String("bus.context_id", eventCtx.ID),
			)
			defer span.End()
			action(ctx, vars, eventCtx)
		})
	}

	return p.events.Listen(eventType, listener), nil
}
