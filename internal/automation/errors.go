package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrInvalidTrigger) {
//	    // reject the configuration
//	}
var (
	// ErrInvalidTrigger is returned when a trigger config fails validation.
	ErrInvalidTrigger = errors.New("automation: invalid trigger")

	// ErrInvalidTriggerType is returned when attaching a trigger whose type
	// the platform does not offer.
	ErrInvalidTriggerType = errors.New("automation: invalid trigger type")

	// ErrUnknownTriggerDomain is returned when no platform serves the
	// trigger's domain.
	ErrUnknownTriggerDomain = errors.New("automation: unknown trigger domain")

	// ErrInvalidAutomation is returned when automation validation fails.
	ErrInvalidAutomation = errors.New("automation: invalid")

	// ErrInvalidAction is returned when an action is neither a valid
	// service call nor a valid device command.
	ErrInvalidAction = errors.New("automation: invalid action")

	// ErrAutomationNotFound is returned for unknown automation ids.
	ErrAutomationNotFound = errors.New("automation: not found")

	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("automation: run not found")

	// ErrMQTTUnavailable is returned for device commands without MQTT.
	ErrMQTTUnavailable = errors.New("automation: MQTT unavailable")

	// ErrEngineStarted is returned by Load while triggers are attached.
	ErrEngineStarted = errors.New("automation: engine already started")
)
