// registry.go manages multiple communication channels at once, providing a
// single point to wire inbound messages into the agent and to route outbound
// replies to the right platform.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Registry holds all registered channels, indexed by platform name.
type Registry struct {
	channels map[string]Channel
	handler  Handler
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRegistry creates a new channel registry with the provided logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels: make(map[string]Channel),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds a channel to the registry. If a global handler is already
// set it is wired into the new channel immediately.
func (r *Registry) Register(ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := ch.Name()
	if _, exists := r.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}

	r.channels[name] = ch
	if r.handler != nil {
		ch.SetHandler(r.handler)
	}
	r.logger.Info("channel registered", "platform", name)
	return nil
}

// SetHandler sets the central function that processes unified messages from
// every channel, current and future.
func (r *Registry) SetHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handler = h
	for _, ch := range r.channels {
		ch.SetHandler(h)
	}
	r.logger.Info("global message handler set", "channels", len(r.channels))
}

// StartAll starts every registered channel. A channel that fails to start is
// logged but does not prevent the others from starting.
func (r *Registry) StartAll(ctx context.Context) {
	r.mu.RLock()
	snapshot := make(map[string]Channel, len(r.channels))
	for name, ch := range r.channels {
		snapshot[name] = ch
	}
	r.mu.RUnlock()

	if len(snapshot) == 0 {
		r.logger.Warn("no channels registered, running without messaging platforms")
		return
	}

	for name, ch := range snapshot {
		if err := ch.Start(ctx); err != nil {
			r.logger.Error("failed to start channel", "platform", name, "error", err)
			continue
		}
		r.logger.Info("channel started", "platform", name)
	}
}

// StopAll stops every registered channel. Errors are logged, not returned.
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, ch := range r.channels {
		if err := ch.Stop(); err != nil {
			r.logger.Error("error stopping channel", "platform", name, "error", err)
			continue
		}
		r.logger.Info("channel stopped", "platform", name)
	}
}

// Route sends a unified request through the channel registered for the
// platform. An unknown platform is an error, not a crash.
func (r *Registry) Route(ctx context.Context, platform string, req *UnifiedSendRequest) error {
	r.mu.RLock()
	ch, exists := r.channels[platform]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %q", ErrChannelNotFound, platform)
	}
	return ch.Send(ctx, req)
}

// Channel returns a registered channel by platform name.
func (r *Registry) Channel(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
