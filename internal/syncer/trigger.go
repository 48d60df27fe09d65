package syncer

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Trigger is the background-sync arming mechanism: the platform analog that
// wakes the drain loop when connectivity returns.
//
// The application arms the trigger after every successful enqueue. The
// trigger probes the configured URL while offline; on the first
// offline→online transition with armed tags it fires one drain and
// disarms, matching one-shot sync registration semantics. Arming is
// best-effort by contract: a trigger that cannot run never fails the
// enqueue that armed it.
type Trigger struct {
	probeURL string
	interval time.Duration
	client   Doer
	drain    func(context.Context) (Report, error)
	logger   *slog.Logger

	mu     sync.Mutex
	armed  map[string]bool
	online bool
}

// NewTrigger creates a connectivity-probing trigger that fires drain.
func NewTrigger(probeURL string, interval time.Duration, client Doer, drain func(context.Context) (Report, error), logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		probeURL: probeURL,
		interval: interval,
		client:   client,
		drain:    drain,
		logger:   logger,
		armed:    make(map[string]bool),
		online:   true, // assume online until a probe says otherwise
	}
}

// Arm registers interest in the next connectivity-restored signal for tag.
// Always succeeds; the trigger is best-effort.
func (t *Trigger) Arm(tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed[tag] = true
}

// Armed reports whether any tag is currently armed.
func (t *Trigger) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.armed) > 0
}

// Run probes connectivity until ctx is done, firing the drain on each
// offline→online transition while armed. Also fires if armed while already
// online - an enqueue can race the connection coming back, and a pending
// record must not wait for another outage.
func (t *Trigger) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Trigger) tick(ctx context.Context) {
	online := t.probe(ctx)

	t.mu.Lock()
	t.online = online
	// Fire whenever online with armed tags; disarming makes it one-shot
	// per arming, so this does not busy-loop drains.
	fire := online && len(t.armed) > 0
	if fire {
		t.armed = make(map[string]bool)
	}
	t.mu.Unlock()

	if !fire {
		return
	}

	report, err := t.drain(ctx)
	if err != nil {
		t.logger.Warn("triggered drain failed", "error", err)
		// Re-arm so the next tick retries; the records are still queued.
		t.Arm("retry")
		return
	}
	if report.Retried > 0 {
		// The cycle left records behind. Firing disarmed the trigger, so
		// without a re-arm those records would wait for the next enqueue.
		t.Arm("retry")
	}
}

// probe reports whether the backend is reachable right now. Any completed
// HTTP exchange counts as online; only transport failure means offline.
func (t *Trigger) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, t.interval)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, t.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
