// Package agent wires the offline agent together: the lifecycle controller
// that installs and activates cache generations, and the event loop that
// serializes platform events.
//
// The agent mirrors a platform-managed background worker: every entry
// point is an independent event handler, the process may die between
// events, and nothing in memory is assumed to survive - all durable state
// lives in the store. Fetch events stay on the concurrent HTTP path; the
// loop here handles the state-mutating events (install, activate, sync,
// push, notification click) one at a time, which keeps the
// install→activate ordering guarantee trivial.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rowanhq/backstop/internal/cache"
	"github.com/rowanhq/backstop/internal/intercept"
	"github.com/rowanhq/backstop/internal/push"
	"github.com/rowanhq/backstop/internal/queue"
	"github.com/rowanhq/backstop/internal/syncer"
)

// precacheConcurrency bounds parallel manifest fetches at install time.
const precacheConcurrency = 4

// Doer performs HTTP calls. Satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Armer arms the background-sync trigger. Satisfied by *syncer.Trigger.
type Armer interface {
	Arm(tag string)
}

// Drainer runs one queue drain cycle. Satisfied by *syncer.Syncer.
type Drainer interface {
	Drain(ctx context.Context) (syncer.Report, error)
}

// Agent is the lifecycle controller plus event dispatch loop.
type Agent struct {
	store       cache.Store
	queue       *queue.Queue
	interceptor *intercept.Interceptor
	drainer     Drainer
	trigger     Armer
	gateway     *push.Gateway
	client      Doer
	origin      *url.URL
	cachePrefix string
	syncTag     string
	logger      *slog.Logger

	events   *eventQueue
	handlers map[EventKind]func(context.Context, Event) error
}

// Config collects the agent's collaborators.
type Config struct {
	Store       cache.Store
	Queue       *queue.Queue
	Interceptor *intercept.Interceptor
	Drainer     Drainer
	Trigger     Armer
	Gateway     *push.Gateway
	Client      Doer
	Origin      *url.URL
	CachePrefix string
	SyncTag     string
	Logger      *slog.Logger
}

// New creates an Agent. The dispatch table maps each event kind to exactly
// one handler; handler errors are logged by the run loop and never
// propagate to the code that enqueued the event.
func New(cfg Config) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		store:       cfg.Store,
		queue:       cfg.Queue,
		interceptor: cfg.Interceptor,
		drainer:     cfg.Drainer,
		trigger:     cfg.Trigger,
		gateway:     cfg.Gateway,
		client:      cfg.Client,
		origin:      cfg.Origin,
		cachePrefix: cfg.CachePrefix,
		syncTag:     cfg.SyncTag,
		logger:      logger,
		events:      newEventQueue(),
	}
	a.handlers = map[EventKind]func(context.Context, Event) error{
		EventInstall:           a.handleInstall,
		EventActivate:          a.handleActivate,
		EventSync:              a.handleSync,
		EventPush:              a.handlePush,
		EventNotificationClick: a.handleClick,
	}
	return a
}

// SetTrigger installs the sync trigger after construction. The trigger
// usually signals the agent, so the two reference each other; the agent is
// built first and armed second.
func (a *Agent) SetTrigger(t Armer) {
	a.trigger = t
}

// Signal enqueues a platform event for the run loop. Returns false if the
// agent has shut down.
func (a *Agent) Signal(e Event) bool {
	return a.events.Enqueue(e)
}

// Run dispatches events until ctx is done. Must be called from exactly
// one goroutine; it is the single writer for lifecycle state.
func (a *Agent) Run(ctx context.Context) error {
	defer a.events.Close()

	for {
		e, ok := a.events.TryDequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-a.events.Wait():
				continue
			}
		}

		handler, ok := a.handlers[e.Kind]
		if !ok {
			a.logger.Warn("no handler for event", "kind", e.Kind)
			continue
		}
		if err := handler(ctx, e); err != nil {
			// Core errors never propagate; they degrade and get logged.
			a.logger.Error("event handler failed", "kind", e.Kind, "error", err)
		}
	}
}

// EnqueueOfflineAction accepts one deferred write from the application and
// arms the sync trigger. Fire-and-forget for the caller beyond the
// returned error: if storage is down the action is reported lost, never
// crashed on.
func (a *Agent) EnqueueOfflineAction(ctx context.Context, actionType string, payload json.RawMessage) error {
	if _, err := a.queue.Append(ctx, actionType, payload); err != nil {
		return err
	}
	// Arming is best-effort by contract; the append above already stuck.
	a.RequestBackgroundSync(a.syncTag)
	return nil
}

// RequestBackgroundSync arms the sync trigger for tag. Never fails: with
// no trigger available sync degrades to purely best-effort.
func (a *Agent) RequestBackgroundSync(tag string) {
	if a.trigger == nil {
		return
	}
	a.trigger.Arm(tag)
}

// handleInstall pre-populates the candidate generation with the manifest
// entries, then immediately requests activation - a news agent does not
// wait for old sessions to wind down.
func (a *Agent) handleInstall(ctx context.Context, e Event) error {
	name := a.cachePrefix + e.Version
	gen := cache.NewGeneration(a.store, name)
	log := a.logger.With("generation", name)

	entries := e.Entries
	if len(entries) == 0 {
		// A manifest-less install still precaches the root document; the
		// navigation shell fallback depends on it being present.
		entries = []string{"/"}
	}
	log.Info("install started", "entries", len(entries))

	// Best-effort addAll: a missing asset is logged and skipped, never
	// fatal - the agent must activate even with holes in the precache.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(precacheConcurrency)
	for _, entry := range entries {
		g.Go(func() error {
			if err := a.precache(gctx, gen, entry); err != nil {
				log.Warn("precache entry failed", "entry", entry, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("install finished")
	a.events.Enqueue(Event{Kind: EventActivate, Version: e.Version})
	return nil
}

func (a *Agent) precache(ctx context.Context, gen *cache.Generation, entry string) error {
	ref, err := url.Parse(entry)
	if err != nil {
		return fmt.Errorf("parse entry: %w", err)
	}
	target := a.origin.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, intercept.DefaultMaxCacheBody))
	if err != nil {
		return err
	}

	stored := &cache.Response{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}
	return gen.Put(ctx, cache.KeyFor(http.MethodGet, target), target.String(), stored)
}

// handleActivate garbage-collects stale generations and claims live
// traffic. Deletion failures are independent per generation and never
// block activation.
func (a *Agent) handleActivate(ctx context.Context, e Event) error {
	current := a.cachePrefix + e.Version
	log := a.logger.With("generation", current)

	names, err := a.store.Generations(ctx, a.cachePrefix)
	if err != nil {
		// Can't enumerate: skip GC, still claim. Stale generations get
		// another chance at the next activation.
		log.Warn("generation listing failed, skipping GC", "error", err)
		names = nil
	}
	for _, name := range names {
		if name == current {
			continue
		}
		if err := a.store.DeleteGeneration(ctx, name); err != nil {
			log.Warn("stale generation delete failed", "stale", name, "error", err)
			continue
		}
		log.Info("stale generation deleted", "stale", name)
	}

	// Claim: swap the live generation so the new fetch policy applies to
	// every subsequent request without a reload.
	a.interceptor.SetGeneration(cache.NewGeneration(a.store, current))
	log.Info("activated")
	return nil
}

func (a *Agent) handleSync(ctx context.Context, e Event) error {
	tag := e.Tag
	if tag == "" {
		tag = a.syncTag
	}

	report, err := a.drainer.Drain(ctx)
	if err != nil {
		// The records are still queued; re-arm so the next connectivity
		// probe retries instead of waiting for an unrelated enqueue.
		a.RequestBackgroundSync(tag)
		return fmt.Errorf("sync %s: %w", tag, err)
	}
	if report.Retried > 0 {
		// Same for records the cycle left in place: the trigger disarmed
		// when it fired, so retried records must arm the next cycle here
		// or they strand below the dead-letter ceiling.
		a.RequestBackgroundSync(tag)
	}
	a.logger.Info("sync drained", "tag", tag, "replayed", report.Replayed, "retried", report.Retried, "buried", report.Buried)
	return nil
}

func (a *Agent) handlePush(ctx context.Context, e Event) error {
	return a.gateway.HandlePush(ctx, e.Payload)
}

func (a *Agent) handleClick(ctx context.Context, e Event) error {
	return a.gateway.HandleClick(ctx, e.Click)
}
