package devolo

import (
	"github.com/nerrad567/gray-logic-hub/internal/coordinator"
	"github.com/nerrad567/gray-logic-hub/internal/entity"
	"github.com/nerrad567/gray-logic-hub/internal/platform"
	"github.com/nerrad567/gray-logic-hub/internal/state"
)

// ConnectedToRouterSensor is on when the adapter reaches the router over
// the powerline network.
type ConnectedToRouterSensor struct {
	coordinator *coordinator.Coordinator[NetworkOverview]
	serial      string
	mac         string
	deviceID    string
}

// NewConnectedToRouterSensor creates the sensor of the adapter identified
// by serial and mac, reading from c.
func NewConnectedToRouterSensor(c *coordinator.Coordinator[NetworkOverview], serial, mac, deviceID string) *ConnectedToRouterSensor {
	return &ConnectedToRouterSensor{coordinator: c, serial: serial, mac: mac, deviceID: deviceID}
}

// Describe implements platform.Entity.
func (s *ConnectedToRouterSensor) Describe() platform.Description {
	return platform.Description{
		UniqueID:          s.serial + "_" + ConnectedToRouter,
		Domain:            "binary_sensor",
		SuggestedObjectID: ConnectedToRouter,
		Name:              "Connected to router",
		DeviceID:          s.deviceID,
		Icon:              "mdi:router-network",
		Category:          entity.CategoryDiagnostic,
		DisabledByDefault: true,
	}
}

// Available is false after a failed poll.
func (s *ConnectedToRouterSensor) Available() bool {
	return s.coordinator.LastUpdateSuccess()
}

// State implements platform.Entity.
func (s *ConnectedToRouterSensor) State() string {
	if s.coordinator.Data().ConnectedToRouter(s.mac) {
		return state.StateOn
	}
	return state.StateOff
}

// Attributes implements platform.Entity.
func (s *ConnectedToRouterSensor) Attributes() map[string]any {
	return map[string]any{"device_class": "plug"}
}

// Subscribe follows the coordinator's polls.
func (s *ConnectedToRouterSensor) Subscribe(notify func()) func() {
	return s.coordinator.AddListener(notify)
}
