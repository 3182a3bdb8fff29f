package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by the Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ServiceCaller executes service actions.
type ServiceCaller interface {
	Call(ctx context.Context, domain, service string, data map[string]any, busCtx bus.Context) error
}

// MQTTClient is the interface for publishing commands to protocol bridges.
type MQTTClient interface {
	// Publish sends a message to the specified MQTT topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EventFirer announces runs on the event bus.
type EventFirer interface {
	Fire(eventType string, data map[string]any, origin bus.Origin, ctx bus.Context) error
}

var runsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "graylogic_hub_automation_runs_total",
		Help: "Automation runs by automation id and final status.",
	},
	[]string{"automation", "status"},
)

func init() { prometheus.MustRegister(runsTotal) }

// maxRunTime is the hard limit for a single automation run, delays included.
const maxRunTime = 60 * time.Second

// Engine attaches the triggers of enabled automations and runs their
// actions when a trigger fires.
//
// Thread Safety: all methods are safe for concurrent use. Runs of the same
// automation may overlap.
type Engine struct {
	platforms  *Platforms
	services   ServiceCaller
	mqttClient MQTTClient
	events     EventFirer
	repo       Repository
	logger     Logger

	mu          sync.Mutex
	automations []Automation
	handles     []bus.Unsubscribe
	started     bool
}

// NewEngine creates a new automation engine.
//
// Parameters:
//   - platforms: Device trigger platforms used to validate and attach triggers
//   - services: Service registry for service actions (may be nil)
//   - mqttClient: MQTT client for device commands and run notifications (may be nil)
//   - events: Event bus for automation_triggered events (may be nil)
//   - repo: Repository for run records (may be nil)
//   - logger: Logger instance
func NewEngine(platforms *Platforms, services ServiceCaller, mqttClient MQTTClient, events EventFirer, repo Repository, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		platforms:  platforms,
		services:   services,
		mqttClient: mqttClient,
		events:     events,
		repo:       repo,
		logger:     logger,
	}
}

// Load validates and stores the automations. It fails while started.
func (e *Engine) Load(automations []Automation) error {
	seen := make(map[string]bool, len(automations))
	loaded := make([]Automation, 0, len(automations))
	for _, a := range automations {
		if err := ValidateAutomation(a); err != nil {
			return err
		}
		if seen[a.ID] {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidAutomation, a.ID)
		}
		seen[a.ID] = true
		loaded = append(loaded, a.DeepCopy())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrEngineStarted
	}
	e.automations = loaded
	return nil
}

// Automations returns copies of the loaded automations.
func (e *Engine) Automations() []Automation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Automation, 0, len(e.automations))
	for _, a := range e.automations {
		out = append(out, a.DeepCopy())
	}
	return out
}

// Get returns the automation with id.
func (e *Engine) Get(id string) (Automation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.automations {
		if a.ID == id {
			return a.DeepCopy(), nil
		}
	}
	return Automation{}, fmt.Errorf("%w: %s", ErrAutomationNotFound, id)
}

// Start attaches every trigger of every enabled automation. Triggers that
// fail to attach are skipped; their errors are joined in the result.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrEngineStarted
	}
	e.started = true
	automations := e.automations
	e.mu.Unlock()

	var errs []error
	var handles []bus.Unsubscribe
	for _, a := range automations {
		if !a.Enabled {
			e.logger.Debug("automation disabled, not attaching", "automation_id", a.ID)
			continue
		}
		for i, cfg := range a.Triggers {
			info := TriggerInfo{
				AutomationID: a.ID,
				Name:         a.Name,
				TriggerData:  map[string]any{"id": strconv.Itoa(i), "idx": strconv.Itoa(i)},
			}
			handle, err := e.platforms.Attach(ctx, cfg, e.actionFor(a), info)
			if handle != nil {
				handles = append(handles, handle)
			}
			if err != nil {
				e.logger.Error("attaching trigger failed", "automation_id", a.ID, "trigger", i, "error", err)
				errs = append(errs, fmt.Errorf("automation %s trigger %d: %w", a.ID, i, err))
			}
		}
	}

	e.mu.Lock()
	e.handles = append(e.handles, handles...)
	e.mu.Unlock()

	e.logger.Info("automation engine started", "automations", len(automations), "triggers", len(handles))
	return errors.Join(errs...)
}

// Stop detaches every trigger. Runs already in flight finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	handles := e.handles
	e.handles = nil
	e.started = false
	e.mu.Unlock()

	for _, h := range handles {
		h()
	}
}

// AttachedTriggers returns the number of trigger handles currently held.
func (e *Engine) AttachedTriggers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handles)
}

func (e *Engine) actionFor(a Automation) Action {
	return func(ctx context.Context, vars Variables, triggerCtx bus.Context) {
		if _, err := e.Run(ctx, a.ID, vars, triggerCtx); err != nil {
			e.logger.Error("automation run failed", "automation_id", a.ID, "error", err)
		}
	}
}

// Run executes the actions of automation id in order and records the run.
// The run context is a child of triggerCtx so the run can be traced back to
// the event that caused it.
//
// Returns:
//   - *AutomationRun: The finished run record
//   - error: ErrAutomationNotFound, or nil even when actions failed
//     (failures are recorded on the run)
func (e *Engine) Run(ctx context.Context, id string, vars Variables, triggerCtx bus.Context) (*AutomationRun, error) {
	a, err := e.Get(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, maxRunTime)
	defer cancel()

	runCtx := triggerCtx.Child()
	if triggerCtx.IsZero() {
		runCtx = bus.NewContext()
	}
	description, _ := vars.Trigger()["description"].(string)

	run := &AutomationRun{
		ID:                 GenerateID(),
		AutomationID:       a.ID,
		TriggerDescription: description,
		ContextID:          runCtx.ID,
		ParentContextID:    runCtx.ParentID,
		Status:             RunRunning,
		StartedAt:          time.Now().UTC(),
		ActionsTotal:       len(a.Actions),
	}
	if e.repo != nil {
		if createErr := e.repo.CreateRun(ctx, run); createErr != nil {
			e.logger.Error("failed to create run record", "error", createErr)
		}
	}

	e.announce(a, run, runCtx)

	for i, act := range a.Actions {
		if ctx.Err() != nil {
			run.Status = RunCancelled
			run.ErrorMessage = ctx.Err().Error()
			break
		}
		if actErr := e.executeAction(ctx, a, run, act, runCtx); actErr != nil {
			run.ActionsFailed++
			run.Failures = append(run.Failures, ActionFailure{
				ActionIndex: i,
				Target:      act.Target(),
				ErrorMsg:    actErr.Error(),
			})
			e.logger.Warn("automation action failed", "automation_id", a.ID, "action", i, "error", actErr)
			continue
		}
		run.ActionsCompleted++
	}

	completedAt := time.Now().UTC()
	run.CompletedAt = &completedAt
	switch {
	case run.Status == RunCancelled:
	case run.ActionsFailed > 0 && run.ActionsCompleted == 0:
		run.Status = RunFailed
	case run.ActionsFailed > 0:
		run.Status = RunPartial
	default:
		run.Status = RunCompleted
	}

	if e.repo != nil {
		// The run context may already be expired; the record must still land.
		if updateErr := e.repo.UpdateRun(context.WithoutCancel(ctx), run); updateErr != nil {
			e.logger.Error("failed to update run record", "error", updateErr)
		}
	}
	runsTotal.WithLabelValues(a.ID, string(run.Status)).Inc()

	e.logger.Info("automation run complete",
		"automation_id", a.ID,
		"run_id", run.ID,
		"status", run.Status,
		"trigger", description,
		"completed", run.ActionsCompleted,
		"failed", run.ActionsFailed,
	)
	return run, nil
}

func (e *Engine) announce(a Automation, run *AutomationRun, runCtx bus.Context) {
	if e.events != nil {
		err := e.events.Fire(bus.EventAutomationTriggered, map[string]any{
			"automation_id": a.ID,
			"name":          a.Name,
			"source":        run.TriggerDescription,
			"run_id":        run.ID,
		}, bus.OriginLocal, runCtx)
		if err != nil {
			e.logger.Warn("automation_triggered listeners failed", "automation_id", a.ID, "error", err)
		}
	}

	if e.mqttClient == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"automation_id": a.ID,
		"run_id":        run.ID,
		"source":        run.TriggerDescription,
		"context":       runCtx,
		"timestamp":     run.StartedAt,
	})
	if err != nil {
		return
	}
	if err := e.mqttClient.Publish(mqtt.Topics{}.AutomationFired(a.ID), payload, 1, false); err != nil {
		e.logger.Warn("publishing automation fired", "automation_id", a.ID, "error", err)
	}
}

// executeAction runs one action, honouring its delay.
func (e *Engine) executeAction(ctx context.Context, a Automation, run *AutomationRun, act ActionConfig, runCtx bus.Context) error {
	if act.DelayMS > 0 {
		timer := time.NewTimer(time.Duration(act.DelayMS) * time.Millisecond)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("action delayed: %w", ctx.Err())
		}
	}

	if act.IsService() {
		if e.services == nil {
			return fmt.Errorf("service %s: no service registry", act.Service)
		}
		domain, service, _ := act.ServiceName()
		return e.services.Call(ctx, domain, service, deepCopyMap(act.Data), runCtx)
	}
	return e.publishCommand(a, run, act)
}

// publishCommand publishes a device command using the flat topic scheme
// graylogic/command/{protocol}/{device_id}.
func (e *Engine) publishCommand(a Automation, run *AutomationRun, act ActionConfig) error {
	if e.mqttClient == nil {
		return ErrMQTTUnavailable
	}

	params := deepCopyMap(act.Parameters)
	if params == nil {
		params = make(map[string]any)
	}
	payload, err := json.Marshal(map[string]any{
		"id":         GenerateID(),
		"device_id":  act.DeviceID,
		"command":    act.Command,
		"parameters": params,
		"source":     "automation:" + a.ID,
		"run_id":     run.ID,
	})
	if err != nil {
		return fmt.Errorf("marshalling command: %w", err)
	}

	topic := mqtt.Topics{}.Command(act.Protocol, act.DeviceID)
	if err := e.mqttClient.Publish(topic, payload, 1, false); err != nil {
		return fmt.Errorf("publishing to %q: %w", topic, err)
	}

	e.logger.Debug("automation command published",
		"automation_id", a.ID,
		"device_id", act.DeviceID,
		"command", act.Command,
		"topic", topic,
	)
	return nil
}
