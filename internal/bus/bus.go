package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-hub/internal/clock"
)

// Logger is the logging surface used by the bus.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listener handles one event. A returned error is passed back to Fire's caller.
type Listener func(Event) error

// Unsubscribe removes a listener. It is safe to call more than once and
// from any goroutine; only the first call has an effect.
type Unsubscribe func()

type registration struct {
	seq      uint64
	listener Listener
	active   atomic.Bool
}

// Bus dispatches events to listeners.
//
// Thread Safety: all methods are safe for concurrent use. Listeners may
// fire further events and may register or remove listeners.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]*registration
	seq       uint64

	clock  clock.Clock
	logger Logger
}

// New creates an empty bus. A nil clock uses the wall clock.
func New(clk clock.Clock) *Bus {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Bus{
		listeners: make(map[string][]*registration),
		clock:     clk,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for dispatch diagnostics.
func (b *Bus) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Listen registers l for eventType (or MatchAll) and returns the handle
// that removes it.
func (b *Bus) Listen(eventType string, l Listener) Unsubscribe {
	b.mu.Lock()
	b.seq++
	reg := &registration{seq: b.seq, listener: l}
	reg.active.Store(true)
	b.listeners[eventType] = append(b.listeners[eventType], reg)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			reg.active.Store(false)
			b.remove(eventType, reg)
		})
	}
}

func (b *Bus) remove(eventType string, reg *registration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.listeners[eventType]
	for i, r := range regs {
		if r == reg {
			b.listeners[eventType] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(b.listeners[eventType]) == 0 {
		delete(b.listeners, eventType)
	}
}

// ListenerCount returns the number of listeners registered for eventType,
// not counting MatchAll listeners.
func (b *Bus) ListenerCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[eventType])
}

// Fire dispatches an event to every matching listener and returns the
// joined listener errors (nil when all succeeded). data is copied, so the
// caller may reuse the map.
//
// Parameters:
//   - eventType: Event type, e.g. "kodi_turn_on"
//   - data: Event payload (may be nil)
//   - origin: OriginLocal for events raised on this hub
//   - ctx: Cause of the event; a zero Context is replaced by a new root
func (b *Bus) Fire(eventType string, data map[string]any, origin Origin, ctx Context) error {
	if eventType == "" {
		return ErrEmptyEventType
	}
	if ctx.IsZero() {
		ctx = NewContext()
	}
	if origin == "" {
		origin = OriginLocal
	}

	ev := Event{
		Type:      eventType,
		Data:      cloneData(data),
		Origin:    origin,
		TimeFired: b.clock.Now().UTC(),
		Context:   ctx,
	}

	regs, logger := b.snapshot(eventType)

	var errs []error
	for _, reg := range regs {
		// A listener removed while this event was in flight is skipped.
		if !reg.active.Load() {
			continue
		}
		if err := b.call(reg.listener, ev); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		logger.Debug("event listeners returned errors", "event_type", eventType, "error", err)
		return err
	}
	return nil
}

// snapshot returns the listeners for eventType merged with MatchAll
// listeners in registration order.
func (b *Bus) snapshot(eventType string) ([]*registration, Logger) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	typed := b.listeners[eventType]
	var all []*registration
	if eventType != MatchAll {
		all = b.listeners[MatchAll]
	}

	out := make([]*registration, 0, len(typed)+len(all))
	i, j := 0, 0
	for i < len(typed) || j < len(all) {
		if j >= len(all) || (i < len(typed) && typed[i].seq < all[j].seq) {
			out = append(out, typed[i])
			i++
		} else {
			out = append(out, all[j])
			j++
		}
	}
	return out, b.logger
}

// call runs one listener, converting a panic into an error.
func (b *Bus) call(l Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: listener for %s panicked: %v", ev.Type, r)
		}
	}()
	return l(ev)
}
