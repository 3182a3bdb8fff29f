package bus

import "errors"

var (
	// ErrEmptyEventType is returned by Fire for an empty event type.
	ErrEmptyEventType = errors.New("bus: event type is required")

	// ErrInvalidEventMessage is returned for MQTT event payloads that cannot be decoded.
	ErrInvalidEventMessage = errors.New("bus: invalid event message")
)
