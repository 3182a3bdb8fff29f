// Package devolo integrates devolo Home Network powerline adapters.
//
// The integration polls the adapter's PLC network overview through a
// coordinator and exposes the "connected to router" diagnostic binary
// sensor:
//
//	PlcNetAPI.GetNetworkOverview ◀── Coordinator (every LongUpdateInterval)
//	                                     │
//	                                     ▼ listeners
//	                           ConnectedToRouter sensor ──▶ platform ──▶ state machine
//
// A failed poll marks the sensor unavailable until a later poll succeeds.
// The sensor is disabled by default; enabling it in the entity registry
// reloads the config entry, which adds it and starts polling.
//
// In production the overview comes from MQTTOverviewSource, which reads the
// reports a devolo bridge publishes on graylogic/state/devolo/{serial}/plcnet.
package devolo

import (
	"errors"
	"time"
)

// Domain is the integration domain.
const Domain = "devolo_home_network"

// ConnectedToRouter is the key of the connected-to-router binary sensor.
const ConnectedToRouter = "connected_to_router"

// LongUpdateInterval is how often the PLC network overview is polled.
const LongUpdateInterval = 5 * time.Minute

var (
	// ErrDeviceUnavailable is returned (or wrapped) by a PlcNetAPI that
	// cannot reach the adapter.
	ErrDeviceUnavailable = errors.New("devolo: device unavailable")

	// ErrInvalidEntry is returned by Setup for entries without a serial
	// number or MAC address.
	ErrInvalidEntry = errors.New("devolo: invalid config entry")
)
