package automation

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

// Automation binds device triggers to an ordered list of actions.
type Automation struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Enabled  bool            `json:"enabled"`
	Triggers []TriggerConfig `json:"triggers"`
	Actions  []ActionConfig  `json:"actions"`
}

// ActionConfig is one step of an automation: either a service call
// (Service set) or a device command (DeviceID set).
type ActionConfig struct {
	Service string         `json:"service,omitempty"`
	Data    map[string]any `json:"data,omitempty"`

	DeviceID   string         `json:"device_id,omitempty"`
	Protocol   string         `json:"protocol,omitempty"`
	Command    string         `json:"command,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// Delay before executing (milliseconds, default 0)
	DelayMS int `json:"delay_ms,omitempty"`
}

// IsService reports whether the action is a service call.
func (a ActionConfig) IsService() bool {
	return a.Service != ""
}

// ServiceName splits Service into domain and service name.
func (a ActionConfig) ServiceName() (domain, service string, ok bool) {
	domain, service, ok = strings.Cut(a.Service, ".")
	return domain, service, ok && domain != "" && service != ""
}

// Target describes the action for logs and failure records.
func (a ActionConfig) Target() string {
	if a.IsService() {
		return a.Service
	}
	return a.DeviceID + ":" + a.Command
}

// DeepCopy returns a copy sharing no maps or slices with a.
func (a Automation) DeepCopy() Automation {
	cpy := a
	cpy.Triggers = slices.Clone(a.Triggers)
	cpy.Actions = make([]ActionConfig, len(a.Actions))
	for i, act := range a.Actions {
		act.Data = deepCopyMap(act.Data)
		act.Parameters = deepCopyMap(act.Parameters)
		cpy.Actions[i] = act
	}
	return cpy
}

// deepCopyMap copies nested maps and slices of decoded JSON/YAML values.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// RunStatus is the outcome of an automation run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"   // some actions failed
	RunFailed    RunStatus = "failed"    // every action failed
	RunCancelled RunStatus = "cancelled" // context cancelled mid-run
)

// AutomationRun records one firing of an automation.
type AutomationRun struct {
	ID                 string          `json:"id"`
	AutomationID       string          `json:"automation_id"`
	TriggerDescription string          `json:"trigger_description"`
	ContextID          string          `json:"context_id"`
	ParentContextID    string          `json:"parent_context_id,omitempty"`
	Status             RunStatus       `json:"status"`
	StartedAt          time.Time       `json:"started_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	ActionsTotal       int             `json:"actions_total"`
	ActionsCompleted   int             `json:"actions_completed"`
	ActionsFailed      int             `json:"actions_failed"`
	Failures           []ActionFailure `json:"failures,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
}

// ActionFailure records a failed action within a run.
type ActionFailure struct {
	ActionIndex int    `json:"action_index"`
	Target      string `json:"target"`
	ErrorMsg    string `json:"error_message"`
}

// GenerateID creates a new unique identifier for runs.
func GenerateID() string {
	return uuid.New().String()
}

// FromConfig converts the automations section of the configuration.
func FromConfig(cfgs []config.AutomationConfig) []Automation {
	out := make([]Automation, 0, len(cfgs))
	for _, c := range cfgs {
		a := Automation{
			ID:      c.ID,
			Name:    c.Name,
			Enabled: c.IsEnabled(),
		}
		for _, t := range c.Triggers {
			a.Triggers = append(a.Triggers, TriggerConfig{
				Platform: t.Platform,
				DeviceID: t.DeviceID,
				Domain:   t.Domain,
				EntityID: t.EntityID,
				Type:     TriggerType(t.Type),
			})
		}
		for _, act := range c.Actions {
			a.Actions = append(a.Actions, ActionConfig{
				Service:    act.Service,
				Data:       deepCopyMap(act.Data),
				DeviceID:   act.DeviceID,
				Protocol:   act.Protocol,
				Command:    act.Command,
				Parameters: deepCopyMap(act.Parameters),
				DelayMS:    act.DelayMS,
			})
		}
		out = append(out, a)
	}
	return out
}

// Validation limits.
const (
	maxNameLength = 100
	maxActions    = 100
	maxDelayMS    = 300000 // 5 minutes
)

// ValidateAutomation checks the automation structure. Triggers are only
// checked for presence; their content is validated by the platforms when
// the engine starts.
func ValidateAutomation(a Automation) error {
	if a.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidAutomation)
	}
	if len(a.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidAutomation, maxNameLength)
	}
	if len(a.Triggers) == 0 {
		return fmt.Errorf("%w: %s has no triggers", ErrInvalidAutomation, a.ID)
	}
	if len(a.Actions) > maxActions {
		return fmt.Errorf("%w: %s has more than %d actions", ErrInvalidAutomation, a.ID, maxActions)
	}
	for i, act := range a.Actions {
		if err := validateAction(act); err != nil {
			return fmt.Errorf("%s action %d: %w", a.ID, i, err)
		}
	}
	return nil
}

func validateAction(a ActionConfig) error {
	switch {
	case a.IsService() && a.DeviceID != "":
		return fmt.Errorf("%w: set either service or device_id", ErrInvalidAction)
	case a.IsService():
		if _, _, ok := a.ServiceName(); !ok {
			return fmt.Errorf("%w: service %q must be domain.service", ErrInvalidAction, a.Service)
		}
	case a.DeviceID != "":
		if a.Protocol == "" || a.Command == "" {
			return fmt.Errorf("%w: device command needs protocol and command", ErrInvalidAction)
		}
	default:
		return fmt.Errorf("%w: set service or device_id", ErrInvalidAction)
	}
	if a.DelayMS < 0 || a.DelayMS > maxDelayMS {
		return fmt.Errorf("%w: delay_ms must be between 0 and %d", ErrInvalidAction, maxDelayMS)
	}
	return nil
}
