// Package channels connects the outside world to the inbox. Each Adapter is
// driven by its own Poller goroutine, which only ever pushes envelopes; the
// Router sends replies back through the adapter an envelope came from.
package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/logging"
)

var (
	// ErrUnknownChannel is returned when a reply names a channel with no adapter.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrClosed is returned by Poll once an adapter has no more input; its
	// poller stops.
	ErrClosed = errors.New("channel closed")
)

// Adapter is one inbound/outbound channel.
//
// Poll returns new envelopes and the cursor for the next call. Adapters that
// receive pushes (console, webhook) block in Poll until something arrives or
// ctx ends. An adapter must return envelopes in the channel's own order.
type Adapter interface {
	Name() string
	Poll(ctx context.Context, cursor string) ([]inbox.Envelope, string, error)
	Send(ctx context.Context, to inbox.Address, text string) error
}

// Router delivers replies to the adapter named by the address.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	fallback string
}

// NewRouter returns a router. Replies to the zero address go to the fallback
// adapter when one is registered under that name, and to the log otherwise.
func NewRouter(fallback string) *Router {
	return &Router{adapters: make(map[string]Adapter), fallback: fallback}
}

// Add registers a.
func (r *Router) Add(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Names lists the registered adapters.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}

// Reply sends text to the adapter that owns to.Channel.
func (r *Router) Reply(ctx context.Context, to inbox.Address, text string) error {
	name := to.Channel
	if name == "" {
		name = r.fallback
	}
	r.mu.RLock()
	a, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		if to.IsZero() {
			logging.For("channels").Info("reply", "text", text)
			return nil
		}
		return fmt.Errorf("%w: %s", ErrUnknownChannel, to.Channel)
	}
	if err := a.Send(ctx, to, text); err != nil {
		return fmt.Errorf("%s send: %w", name, err)
	}
	return nil
}
