// Package channels contains the platform adapters. Each adapter runs its
// own trigger filter, posts the transient "thinking" placeholder, and
// publishes accepted triggers to the bus; the Manager pumps outbound
// messages back to the adapter that owns them.
package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/pingpal-io/pingpal/pkg/bus"
	"github.com/pingpal-io/pingpal/pkg/logger"
)

// Channel is one platform adapter.
type Channel interface {
	Name() string
	// TransportLimit is the platform's maximum message size, in the units
	// the platform counts (characters for every supported platform).
	TransportLimit() int
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Manager owns the adapter set and the outbound pump.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus
}

func NewManager(b *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      b,
	}
}

// Register adds an adapter. Call before StartAll.
func (m *Manager) Register(c Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[c.Name()] = c
}

// Get returns the adapter with the given name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[name]
	return c, ok
}

// TransportLimits returns every adapter's message size cap, keyed by name.
func (m *Manager) TransportLimits() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.channels))
	for name, c := range m.channels {
		out[name] = c.TransportLimit()
	}
	return out
}

// StartAll starts every adapter and the outbound pump. A single adapter
// failing to start aborts startup; a misconfigured bot should not limp.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, c := range m.channels {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("channels: start %s: %w", name, err)
		}
		logger.InfoCF("channels", "Channel started", map[string]interface{}{"channel": name})
	}
	go m.pumpOutbound(ctx)
	return nil
}

// StopAll stops every adapter. Errors are logged, not returned: shutdown
// should always run to completion.
func (m *Manager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, c := range m.channels {
		if err := c.Stop(); err != nil {
			logger.WarnCF("channels", "Channel stop failed", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
}

// pumpOutbound delivers bus outbound messages to their adapters, in publish
// order. A failed send is logged and the pump moves on; one bad chunk never
// stalls the stream.
func (m *Manager) pumpOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		c, found := m.Get(msg.Channel)
		if !found {
			logger.WarnCF("channels", "Outbound for unknown channel dropped",
				map[string]interface{}{"channel": msg.Channel})
			continue
		}
		if err := c.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Send failed", map[string]interface{}{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}
