package automation

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
)

// Platforms dispatches device trigger operations to the platform of the
// trigger's domain.
//
// Thread Safety: all methods are safe for concurrent use.
type Platforms struct {
	mu       sync.RWMutex
	byDomain map[string]DeviceTriggerPlatform
}

// NewPlatforms creates an empty platform registry.
func NewPlatforms() *Platforms {
	return &Platforms{byDomain: make(map[string]DeviceTriggerPlatform)}
}

// Register adds p under p.Domain(), replacing any previous platform.
func (p *Platforms) Register(platform DeviceTriggerPlatform) {
	p.mu.Lock()
	p.byDomain[platform.Domain()] = platform
	p.mu.Unlock()
}

// Get returns the platform for domain.
func (p *Platforms) Get(domain string) (DeviceTriggerPlatform, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	platform, ok := p.byDomain[domain]
	return platform, ok
}

// Domains returns the registered domains, sorted.
func (p *Platforms) Domains() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	domains := make([]string, 0, len(p.byDomain))
	for d := range p.byDomain {
		domains = append(domains, d)
	}
	slices.Sort(domains)
	return domains
}

// GetTriggers collects the triggers every platform offers for deviceID,
// platforms in domain order. The slice is never nil.
func (p *Platforms) GetTriggers(ctx context.Context, deviceID string) ([]TriggerDescriptor, error) {
	out := make([]TriggerDescriptor, 0)
	for _, domain := range p.Domains() {
		platform, _ := p.Get(domain)
		triggers, err := platform.GetTriggers(ctx, deviceID)
		if err != nil {
			return nil, fmt.Errorf("listing %s triggers for %s: %w", domain, deviceID, err)
		}
		out = append(out, triggers...)
	}
	return out, nil
}

// Validate checks cfg against the base schema, then the platform's own.
func (p *Platforms) Validate(cfg TriggerConfig) (TriggerConfig, error) {
	if err := ValidateBase(cfg); err != nil {
		return TriggerConfig{}, err
	}
	platform, ok := p.Get(cfg.Domain)
	if !ok {
		return TriggerConfig{}, fmt.Errorf("%w: %w: %s", ErrInvalidTrigger, ErrUnknownTriggerDomain, cfg.Domain)
	}
	return platform.ValidateTriggerConfig(cfg)
}

// Attach validates cfg and attaches it on its platform.
func (p *Platforms) Attach(ctx context.Context, cfg TriggerConfig, action Action, info TriggerInfo) (bus.Unsubscribe, error) {
	valid, err := p.Validate(cfg)
	if err != nil {
		return nil, err
	}
	platform, _ := p.Get(valid.Domain)
	return platform.AttachTrigger(ctx, valid, action, info)
}
