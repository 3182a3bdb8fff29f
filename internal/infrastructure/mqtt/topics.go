package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every hub topic.
//
// Layout: graylogic/{category}/{source}/{id}
const TopicPrefix = "graylogic"

// Topics provides builders for hub MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.State("devolo", "1234567890/plcnet")
//	// Returns: "graylogic/state/devolo/1234567890/plcnet"
type Topics struct{}

// State returns the topic an external bridge publishes device state on.
//
// Example: graylogic/state/kodi/kodi-lounge
func (Topics) State(source, id string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, source, id)
}

// Command returns the topic for commands to a protocol bridge.
//
// Example: graylogic/command/kodi/kodi-lounge
func (Topics) Command(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, deviceID)
}

// Event returns the topic a bus event of eventType is mirrored to.
//
// Example: graylogic/event/kodi_turn_on
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}

// AutomationFired returns the topic announcing an automation run.
//
// Example: graylogic/automation/lights-on-with-tv/fired
func (Topics) AutomationFired(automationID string) string {
	return fmt.Sprintf("%s/automation/%s/fired", TopicPrefix, automationID)
}

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllEvents matches every mirrored bus event.
//
// Pattern: graylogic/event/+
func (Topics) AllEvents() string {
	return TopicPrefix + "/event/+"
}

// EventTypeFromTopic extracts the event type from an event topic.
// It returns false for topics outside graylogic/event/.
func EventTypeFromTopic(topic string) (string, bool) {
	eventType, ok := strings.CutPrefix(topic, TopicPrefix+"/event/")
	if !ok || eventType == "" || strings.Contains(eventType, "/") {
		return "", false
	}
	return eventType, true
}
