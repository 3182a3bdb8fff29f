// Package bus is the hub's in-process event bus.
//
// Integrations fire typed events (kodi_turn_on, state_changed,
// entity_registry_updated, ...) and listeners registered for that type,
// or for MatchAll, are called synchronously in registration order:
//
//	producer ──Fire──▶ Bus ──▶ listener 1 ──▶ listener 2 ──▶ ... ──▶ errors.Join
//
// Listeners must return quickly. Work that may block is handed to a job
// runner (see package jobs). A listener error is returned to the producer
// so contract violations, such as a missing entity_id, surface at the
// call site instead of being swallowed.
//
// Every event carries a Context (id, parent id, user id) so that work caused
// by an event can be traced back to it.
//
// MQTTBridge mirrors selected local events to graylogic/event/{type} and
// fires events received from other hubs with OriginRemote.
package bus
