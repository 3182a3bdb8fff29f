// Package coordinator polls a data source on a fixed interval and shares
// the result with every entity built on it.
//
// A Coordinator only polls while it has listeners: the first AddListener
// arms the timer, removing the last one disarms it. A failed poll keeps the
// previous data but flips LastUpdateSuccess to false, which entities map to
// "unavailable".
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-hub/internal/clock"
)

var (
	// ErrNotReady wraps the first refresh failure so the config entry can
	// be retried later.
	ErrNotReady = errors.New("coordinator: not ready")

	// ErrUpdateFailed wraps every failed poll.
	ErrUpdateFailed = errors.New("coordinator: update failed")
)

var updatesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "graylogic_hub_coordinator_updates_total",
		Help: "Coordinator polls by coordinator name and result.",
	},
	[]string{"coordinator", "result"},
)

func init() { prometheus.MustRegister(updatesTotal) }

// Logger defines the logging interface used by coordinators.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// UpdateFunc fetches fresh data.
type UpdateFunc[T any] func(ctx context.Context) (T, error)

// Coordinator owns one polled value of type T.
//
// Thread Safety: all methods are safe for concurrent use. Listeners are
// called without the internal lock held.
type Coordinator[T any] struct {
	name     string
	interval time.Duration
	update   UpdateFunc[T]
	clock    clock.Clock

	mu          sync.Mutex
	logger      Logger
	data        T
	lastSuccess bool
	lastErr     error
	listeners   map[uint64]func()
	nextID      uint64
	timer       clock.Timer
	shutdown    bool
}

// New creates a coordinator. A nil clock uses the wall clock.
func New[T any](name string, interval time.Duration, clk clock.Clock, update UpdateFunc[T]) *Coordinator[T] {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Coordinator[T]{
		name:        name,
		interval:    interval,
		update:      update,
		clock:       clk,
		logger:      noopLogger{},
		lastSuccess: true,
		listeners:   make(map[uint64]func()),
	}
}

// SetLogger sets the logger for poll transitions.
func (c *Coordinator[T]) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// Name returns the coordinator name used in logs and metrics.
func (c *Coordinator[T]) Name() string { return c.name }

// Interval returns the poll interval.
func (c *Coordinator[T]) Interval() time.Duration { return c.interval }

// FirstRefresh performs the initial poll. A failure is returned wrapped in
// ErrNotReady.
func (c *Coordinator[T]) FirstRefresh(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotReady, c.name, err)
	}
	return nil
}

// Refresh polls now, notifies listeners and reschedules the next poll.
// The error, if any, wraps ErrUpdateFailed.
func (c *Coordinator[T]) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	c.mu.Unlock()

	data, err := c.update(ctx)

	c.mu.Lock()
	logger := c.logger
	wasSuccess := c.lastSuccess
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrUpdateFailed, c.name, err)
		c.lastSuccess = false
		c.lastErr = err
		updatesTotal.WithLabelValues(c.name, "failure").Inc()
	} else {
		c.data = data
		c.lastSuccess = true
		c.lastErr = nil
		updatesTotal.WithLabelValues(c.name, "success").Inc()
	}
	c.scheduleLocked()
	listeners := c.snapshotLocked()
	c.mu.Unlock()

	switch {
	case err != nil && wasSuccess:
		logger.Warn("error fetching data", "coordinator", c.name, "error", err)
	case err == nil && !wasSuccess:
		logger.Info("fetching data recovered", "coordinator", c.name)
	case err == nil:
		logger.Debug("fetched data", "coordinator", c.name)
	}

	for _, fn := range listeners {
		fn()
	}
	return err
}

// AddListener registers fn to run after every poll and returns the function
// that removes it. The first listener starts periodic polling.
func (c *Coordinator[T]) AddListener(fn func()) (remove func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	if len(c.listeners) == 1 {
		c.scheduleLocked()
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			if len(c.listeners) == 0 {
				c.stopTimerLocked()
			}
			c.mu.Unlock()
		})
	}
}

// ListenerCount returns the number of registered listeners.
func (c *Coordinator[T]) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Data returns the data of the last successful poll.
func (c *Coordinator[T]) Data() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// LastUpdateSuccess reports whether the most recent poll succeeded.
func (c *Coordinator[T]) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

// LastError returns the error of the most recent poll, or nil.
func (c *Coordinator[T]) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Shutdown stops polling for good. Listeners are dropped.
func (c *Coordinator[T]) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = true
	c.stopTimerLocked()
	clear(c.listeners)
}

func (c *Coordinator[T]) scheduleLocked() {
	if c.shutdown || c.interval <= 0 || len(c.listeners) == 0 {
		return
	}
	c.stopTimerLocked()
	c.timer = c.clock.AfterFunc(c.interval, func() {
		_ = c.Refresh(context.Background()) //nolint:errcheck // logged and exposed through LastError
	})
}

func (c *Coordinator[T]) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator[T]) snapshotLocked() []func() {
	out := make([]func(), 0, len(c.listeners))
	for _, id := range slices.Sorted(maps.Keys(c.listeners)) {
		out = append(out, c.listeners[id])
	}
	return out
}
