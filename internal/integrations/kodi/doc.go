// Package kodi integrates Kodi media centres with the hub.
//
// Each configured Kodi box becomes a media_player entity. Turning it on or
// off through the hub fires kodi_turn_on / kodi_turn_off on the event bus,
// and the device trigger platform (device_trigger.go) lets automations react
// to those events:
//
//	media_player.turn_on ──▶ MediaPlayer.TurnOn ──▶ bus: kodi_turn_on
//	                                                    │
//	                          TriggerPlatform listener ◀┘
//	                          entity_id matches? ──▶ jobs.Runner ──▶ automation action
//
// Player state comes from a Kodi bridge publishing {"state": "playing"} on
// graylogic/state/kodi/{entry_id}. Talking to Kodi's JSON-RPC API directly is
// left to that bridge.
package kodi

import "errors"

// Domain is the integration domain.
const Domain = "kodi"

// Events fired when a Kodi media player is asked to turn on or off.
const (
	EventTurnOn  = "kodi_turn_on"
	EventTurnOff = "kodi_turn_off"
)

// ErrMissingEntityID is returned by trigger listeners for kodi events that
// carry no string entity_id. Such an event breaks the event contract and the
// error propagates to whoever fired it.
var ErrMissingEntityID = errors.New("kodi: event without entity_id")

// ErrUnknownEntity is returned by the media_player services for entity ids
// that are not loaded Kodi players.
var ErrUnknownEntity = errors.New("kodi: unknown media player")
