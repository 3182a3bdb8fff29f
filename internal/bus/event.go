package bus

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Well-known event types fired by the hub itself.
const (
	EventStateChanged          = "state_changed"
	EventEntityRegistryUpdated = "entity_registry_updated"
	EventCallService           = "call_service"
	EventAutomationTriggered   = "automation_triggered"

	// MatchAll registers a listener for every event type.
	MatchAll = "*"
)

// Origin says where an event was first fired.
type Origin string

const (
	OriginLocal  Origin = "LOCAL"
	OriginRemote Origin = "REMOTE"
)

// Context identifies the cause of an event. Work triggered by an event
// runs under a Child of the event's context.
type Context struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// NewContext returns a root context with a fresh id.
func NewContext() Context {
	return Context{ID: uuid.New().String()}
}

// NewUserContext returns a root context attributed to userID.
func NewUserContext(userID string) Context {
	return Context{ID: uuid.New().String(), UserID: userID}
}

// Child returns a new context caused by c. The user is inherited.
func (c Context) Child() Context {
	return Context{ID: uuid.New().String(), ParentID: c.ID, UserID: c.UserID}
}

// IsZero reports whether c was never assigned.
func (c Context) IsZero() bool {
	return c.ID == ""
}

// Event is one occurrence on the bus.
type Event struct {
	Type      string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Origin    Origin         `json:"origin"`
	TimeFired time.Time      `json:"time_fired"`
	Context   Context        `json:"context"`
}

// String returns the event value under key, and whether it was a string.
func (e Event) String(key string) (string, bool) {
	v, ok := e.Data[key].(string)
	return v, ok
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return maps.Clone(data)
}
