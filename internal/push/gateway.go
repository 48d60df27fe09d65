package push

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Sink displays notifications. The platform deduplicates by tag: showing a
// notification whose tag matches one already displayed replaces it.
type Sink interface {
	Show(ctx context.Context, n Notification) error
	Close(ctx context.Context, tag string) error
}

// WindowRegistry is the set of open application windows the gateway can
// route a click into.
type WindowRegistry interface {
	// Focus brings an existing same-origin window to the foreground and
	// navigates it to url. Returns false if no window is open.
	Focus(ctx context.Context, url string) (bool, error)

	// Open opens a new window at url.
	Open(ctx context.Context, url string) error
}

// Click is one notification interaction.
type Click struct {
	// Action is ActionRead, ActionDismiss, or empty for a default
	// activation (clicking the notification body).
	Action string

	// Tag identifies the clicked notification.
	Tag string

	// Data is the notification's associated data.
	Data PayloadData
}

// Gateway is the push receive/display/click state machine.
type Gateway struct {
	defaults   Payload
	defaultURL string
	sink       Sink
	windows    WindowRegistry
	logger     *slog.Logger

	mu  sync.Mutex
	sub *Subscription
}

// NewGateway creates a gateway rendering through sink and routing clicks
// through windows. defaultURL is the navigation target when a notification
// carries no data.url.
func NewGateway(defaults Payload, defaultURL string, sink Sink, windows WindowRegistry, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		defaults:   defaults,
		defaultURL: defaultURL,
		sink:       sink,
		windows:    windows,
		logger:     logger,
	}
}

// Subscribe records the client's push subscription. The gateway keeps only
// the most recent one; each client has a single delivery identity, and a
// re-subscription replaces it.
func (g *Gateway) Subscribe(sub *Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sub = sub
	g.logger.Info("push subscription registered", "endpoint", sub.Endpoint)
}

// Subscription returns the registered push subscription, if any.
func (g *Gateway) Subscription() (*Subscription, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sub == nil {
		return nil, false
	}
	return g.sub, true
}

// HandlePush renders a notification for one push payload. The notification
// requires explicit interaction and always offers read and dismiss.
func (g *Gateway) HandlePush(ctx context.Context, raw []byte) error {
	merged := Merge(g.defaults, raw)

	n := Notification{
		Payload:            merged,
		RequireInteraction: true,
		Actions:            []string{ActionRead, ActionDismiss},
	}

	if err := g.sink.Show(ctx, n); err != nil {
		return fmt.Errorf("show notification: %w", err)
	}
	g.logger.Debug("notification shown", "tag", merged.Tag, "title", merged.Title)
	return nil
}

// HandleClick routes one notification interaction. Dismiss closes and
// stops; read or a default activation closes, resolves the target URL,
// and focuses an open window or opens a new one.
func (g *Gateway) HandleClick(ctx context.Context, click Click) error {
	if err := g.sink.Close(ctx, click.Tag); err != nil {
		// Closing is cosmetic; routing continues regardless.
		g.logger.Debug("notification close failed", "tag", click.Tag, "error", err)
	}

	if click.Action == ActionDismiss {
		return nil
	}

	target := click.Data.URL
	if target == "" {
		target = g.defaultURL
	}

	focused, err := g.windows.Focus(ctx, target)
	if err != nil {
		return fmt.Errorf("focus window: %w", err)
	}
	if focused {
		return nil
	}

	if err := g.windows.Open(ctx, target); err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	return nil
}
