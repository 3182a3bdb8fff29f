package devolo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/clock"
	"github.com/nerrad567/gray-logic-hub/internal/configentry"
	"github.com/nerrad567/gray-logic-hub/internal/coordinator"
	"github.com/nerrad567/gray-logic-hub/internal/platform"
)

// APIFactory builds the PlcNetAPI of a config entry. An API that also
// implements io.Closer is closed on unload.
type APIFactory func(entry configentry.Entry) (PlcNetAPI, error)

// Logger defines the logging interface used by the integration.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

type loaded struct {
	api         PlcNetAPI
	coordinator *coordinator.Coordinator[NetworkOverview]
	platform    *platform.Platform
}

// Integration sets up devolo adapters.
//
// Entry data keys:
//   - serial: adapter serial number (required)
//   - mac_address: adapter MAC address (required)
//   - device_id: device id of the entities, defaults to the serial
//   - update_interval: poll interval in seconds, defaults to LongUpdateInterval
//
// Thread Safety: all methods are safe for concurrent use.
type Integration struct {
	registry platform.Registry
	states   platform.StateWriter
	clock    clock.Clock
	newAPI   APIFactory

	mu      sync.Mutex
	logger  Logger
	entries map[string]*loaded
}

// NewIntegration creates the integration. A nil clock uses the wall clock.
func NewIntegration(registry platform.Registry, states platform.StateWriter, clk clock.Clock, newAPI APIFactory) *Integration {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Integration{
		registry: registry,
		states:   states,
		clock:    clk,
		newAPI:   newAPI,
		logger:   noopLogger{},
		entries:  make(map[string]*loaded),
	}
}

// SetLogger sets the logger for the integration and its coordinators.
func (i *Integration) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	i.mu.Lock()
	i.logger = logger
	i.mu.Unlock()
}

type entryData struct {
	serial   string
	mac      string
	deviceID string
	interval time.Duration
}

func parseEntry(entry configentry.Entry) (entryData, error) {
	d := entryData{interval: LongUpdateInterval}
	d.serial, _ = entry.Data["serial"].(string)
	d.mac, _ = entry.Data["mac_address"].(string)
	d.deviceID, _ = entry.Data["device_id"].(string)
	if d.serial == "" || d.mac == "" {
		return entryData{}, fmt.Errorf("%w: %s needs serial and mac_address", ErrInvalidEntry, entry.ID)
	}
	if d.deviceID == "" {
		d.deviceID = d.serial
	}
	switch v := entry.Data["update_interval"].(type) {
	case int:
		if v > 0 {
			d.interval = time.Duration(v) * time.Second
		}
	case float64:
		if v > 0 {
			d.interval = time.Duration(v * float64(time.Second))
		}
	}
	return d, nil
}

// Setup implements configentry.Integration. An unreachable adapter fails
// with an error wrapping configentry.ErrNotReady.
func (i *Integration) Setup(ctx context.Context, entry configentry.Entry) error {
	d, err := parseEntry(entry)
	if err != nil {
		return err
	}
	api, err := i.newAPI(entry)
	if err != nil {
		return fmt.Errorf("creating devolo api for %s: %w", entry.ID, err)
	}

	logger := i.log()
	c := coordinator.New[NetworkOverview](fmt.Sprintf("%s %s plcnet", Domain, d.serial), d.interval, i.clock, api.GetNetworkOverview)
	c.SetLogger(logger)

	if err := c.FirstRefresh(ctx); err != nil {
		closeAPI(api, logger)
		if errors.Is(err, ErrDeviceUnavailable) {
			return fmt.Errorf("%w: %w", configentry.ErrNotReady, err)
		}
		return err
	}

	plat := platform.New(Domain, entry.ID, i.registry, i.states)
	plat.SetLogger(logger)
	sensor := NewConnectedToRouterSensor(c, d.serial, d.mac, d.deviceID)
	if err := plat.AddEntities(ctx, sensor); err != nil {
		plat.Reset()
		c.Shutdown()
		closeAPI(api, logger)
		return fmt.Errorf("adding devolo entities for %s: %w", entry.ID, err)
	}

	i.mu.Lock()
	i.entries[entry.ID] = &loaded{api: api, coordinator: c, platform: plat}
	i.mu.Unlock()

	logger.Info("devolo adapter set up", "entry_id", entry.ID, "serial", d.serial, "entities", len(plat.EntityIDs()))
	return nil
}

// Unload implements configentry.Integration.
func (i *Integration) Unload(_ context.Context, entry configentry.Entry) error {
	i.mu.Lock()
	l, ok := i.entries[entry.ID]
	delete(i.entries, entry.ID)
	i.mu.Unlock()
	if !ok {
		return nil
	}

	l.coordinator.Shutdown()
	l.platform.Reset()
	closeAPI(l.api, i.log())
	return nil
}

// Coordinator returns the overview coordinator of a loaded entry.
func (i *Integration) Coordinator(entryID string) (*coordinator.Coordinator[NetworkOverview], bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	l, ok := i.entries[entryID]
	if !ok {
		return nil, false
	}
	return l.coordinator, true
}

func closeAPI(api PlcNetAPI, logger Logger) {
	c, ok := api.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("closing devolo api", "error", err)
	}
}

func (i *Integration) log() Logger {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.logger
}
