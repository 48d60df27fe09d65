package agent

import (
	"sync"

	"github.com/rowanhq/backstop/internal/push"
)

// EventKind distinguishes platform event kinds.
type EventKind int

const (
	// EventInstall asks the agent to install a new version: create and
	// pre-populate the next cache generation.
	EventInstall EventKind = iota + 1
	// EventActivate asks the agent to cut over: garbage-collect stale
	// generations and claim live traffic.
	EventActivate
	// EventSync signals connectivity restored for an armed sync tag.
	EventSync
	// EventPush delivers a push payload.
	EventPush
	// EventNotificationClick delivers a notification interaction.
	EventNotificationClick
)

// Event is one platform event awaiting dispatch.
//
// Fetch is deliberately absent: fetch events are concurrent and handled
// inline by the interceptor on the HTTP path. The loop here serializes the
// events that mutate agent state.
type Event struct {
	Kind EventKind

	// Version accompanies EventInstall and EventActivate: the version
	// being installed or cut over to.
	Version string

	// Entries accompanies EventInstall: the precache manifest entries.
	Entries []string

	// Payload accompanies EventPush: the raw push body.
	Payload []byte

	// Click accompanies EventNotificationClick.
	Click push.Click

	// Tag accompanies EventSync: the sync tag that fired.
	Tag string
}

// eventQueue is a thread-safe FIFO queue for platform events.
//
// Thread-safety is provided for external enqueuing (HTTP handlers, the
// manifest watcher, the sync trigger) while the Agent's Run loop dequeues.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered size 1; coalesces multiple signals
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if the queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the array does not retain payload bytes.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued and wakes waiters.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
