package automation

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
)

// PlatformDevice is the platform value of every device trigger.
const PlatformDevice = "device"

// TriggerType names one kind of device trigger, such as "turn_on".
type TriggerType string

// TriggerConfig is one device trigger as stored in an automation.
type TriggerConfig struct {
	Platform string      `json:"platform" yaml:"platform"`
	DeviceID string      `json:"device_id" yaml:"device_id"`
	Domain   string      `json:"domain" yaml:"domain"`
	EntityID string      `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	Type     TriggerType `json:"type" yaml:"type"`
}

// TriggerDescriptor is a trigger offered by a device. It carries the same
// fields as the config an automation stores when the user picks it.
type TriggerDescriptor = TriggerConfig

// Map renders the config with its wire keys. entity_id is omitted when empty.
func (c TriggerConfig) Map() map[string]any {
	m := map[string]any{
		"platform":  c.Platform,
		"device_id": c.DeviceID,
		"domain":    c.Domain,
		"type":      string(c.Type),
	}
	if c.EntityID != "" {
		m["entity_id"] = c.EntityID
	}
	return m
}

// TriggerConfigFromMap parses a config received as JSON. Every present field
// must be a string.
func TriggerConfigFromMap(m map[string]any) (TriggerConfig, error) {
	var cfg TriggerConfig
	fields := []struct {
		key string
		dst *string
	}{
		{"platform", &cfg.Platform},
		{"device_id", &cfg.DeviceID},
		{"domain", &cfg.Domain},
		{"entity_id", &cfg.EntityID},
	}
	for _, f := range fields {
		v, ok := m[f.key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return TriggerConfig{}, fmt.Errorf("%w: %s must be a string", ErrInvalidTrigger, f.key)
		}
		*f.dst = s
	}
	if v, ok := m["type"]; ok {
		s, ok := v.(string)
		if !ok {
			return TriggerConfig{}, fmt.Errorf("%w: type must be a string", ErrInvalidTrigger)
		}
		cfg.Type = TriggerType(s)
	}
	return cfg, nil
}

// Variables are passed to an action when its trigger fires. Device
// triggers set "trigger" to the merged trigger data.
type Variables map[string]any

// Trigger returns the "trigger" variable.
func (v Variables) Trigger() map[string]any {
	t, _ := v["trigger"].(map[string]any)
	return t
}

// TriggerInfo describes the automation a trigger is attached for.
// TriggerData is merged into the trigger variable on every firing.
type TriggerInfo struct {
	AutomationID string
	Name         string
	TriggerData  map[string]any
}

// Action is invoked when an attached trigger fires. triggerCtx is the
// context of the event that caused the firing.
type Action func(ctx context.Context, vars Variables, triggerCtx bus.Context)

// DeviceTriggerPlatform is implemented by integrations that offer device
// triggers.
type DeviceTriggerPlatform interface {
	// Domain returns the integration domain the platform serves.
	Domain() string

	// GetTriggers lists the triggers the device offers. It never fails for
	// unknown devices; the result is then empty.
	GetTriggers(ctx context.Context, deviceID string) ([]TriggerDescriptor, error)

	// ValidateTriggerConfig checks cfg against the platform schema and
	// returns the normalised config.
	ValidateTriggerConfig(cfg TriggerConfig) (TriggerConfig, error)

	// AttachTrigger starts listening for cfg and returns the handle that
	// stops it. The handle may be called any number of times.
	AttachTrigger(ctx context.Context, cfg TriggerConfig, action Action, info TriggerInfo) (bus.Unsubscribe, error)
}
