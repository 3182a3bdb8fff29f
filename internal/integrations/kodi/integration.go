package kodi

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/configentry"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/platform"
	"github.com/nerrad567/gray-logic-hub/internal/service"
)

// StateSubscriber is the part of the MQTT client players read their state
// from.
type StateSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

type loaded struct {
	player   *MediaPlayer
	platform *platform.Platform
	topic    string
}

// Integration sets up one media player per Kodi config entry.
//
// Thread Safety: all methods are safe for concurrent use.
type Integration struct {
	registry   platform.Registry
	states     platform.StateWriter
	events     EventFirer
	subscriber StateSubscriber

	mu      sync.Mutex
	logger  Logger
	entries map[string]*loaded
}

// NewIntegration creates the integration. subscriber may be nil, in which
// case players stay off.
func NewIntegration(registry platform.Registry, states platform.StateWriter, events EventFirer, subscriber StateSubscriber) *Integration {
	return &Integration{
		registry:   registry,
		states:     states,
		events:     events,
		subscriber: subscriber,
		logger:     noopLogger{},
		entries:    make(map[string]*loaded),
	}
}

// SetLogger sets the logger.
func (i *Integration) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	i.mu.Lock()
	i.logger = logger
	i.mu.Unlock()
}

// Setup implements configentry.Integration. The device id is taken from
// entry.Data["device_id"] and defaults to the entry id.
func (i *Integration) Setup(ctx context.Context, entry configentry.Entry) error {
	deviceID, _ := entry.Data["device_id"].(string)
	if deviceID == "" {
		deviceID = entry.ID
	}
	name := entry.Title
	if name == "" {
		name = "Kodi " + entry.ID
	}

	player := NewMediaPlayer(entry.ID, deviceID, name, i.events)
	plat := platform.New(Domain, entry.ID, i.registry, i.states)
	l := &loaded{player: player, platform: plat}

	if i.subscriber != nil {
		l.topic = mqtt.Topics{}.State(Domain, entry.ID)
		if err := i.subscriber.Subscribe(l.topic, 1, player.HandleStateMessage); err != nil {
			// Without MQTT the player keeps working, only its state is stale.
			i.log().Warn("subscribing to kodi state failed", "entry_id", entry.ID, "topic", l.topic, "error", err)
			l.topic = ""
		}
	}

	if err := plat.AddEntities(ctx, player); err != nil {
		i.unsubscribe(l)
		return fmt.Errorf("adding kodi player for %s: %w", entry.ID, err)
	}

	i.mu.Lock()
	i.entries[entry.ID] = l
	i.mu.Unlock()

	i.log().Info("kodi player set up", "entry_id", entry.ID, "entity_id", player.EntityID())
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

	l.platform.Reset()
	i.unsubscribe(l)
	return nil
}

func (i *Integration) unsubscribe(l *loaded) {
	if l.topic == "" {
		return
	}
	if err := i.subscriber.Unsubscribe(l.topic); err != nil {
		i.log().Warn("unsubscribing from kodi state failed", "topic", l.topic, "error", err)
	}
}

// Player returns the loaded player registered as entityID.
func (i *Integration) Player(entityID string) (*MediaPlayer, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, l := range i.entries {
		if entityID != "" && l.player.EntityID() == entityID {
			return l.player, true
		}
	}
	return nil, false
}

// RegisterServices registers media_player.turn_on and media_player.turn_off
// for Kodi players. Calls name their targets in data["entity_id"], a
// string or a list of strings.
func (i *Integration) RegisterServices(services *service.Registry) error {
	turnOn := func(p *MediaPlayer, call service.Call) error { return p.TurnOn(call.Context) }
	turnOff := func(p *MediaPlayer, call service.Call) error { return p.TurnOff(call.Context) }

	if err := services.Register(mediaPlayerDomain, "turn_on", i.handler(turnOn)); err != nil {
		return err
	}
	return services.Register(mediaPlayerDomain, "turn_off", i.handler(turnOff))
}

func (i *Integration) handler(do func(*MediaPlayer, service.Call) error) service.Handler {
	return func(_ context.Context, call service.Call) error {
		ids, err := targetIDs(call.Data)
		if err != nil {
			return err
		}
		var errs []error
		for _, id := range ids {
			p, ok := i.Player(id)
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownEntity, id))
				continue
			}
			if err := do(p, call); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

func targetIDs(data map[string]any) ([]string, error) {
	switch v := data["entity_id"].(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: entity_id list holds %T", ErrUnknownEntity, item)
			}
			ids = append(ids, s)
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("%w: service call without entity_id", ErrUnknownEntity)
	}
}

func (i *Integration) log() Logger {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.logger
}
