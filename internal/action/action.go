package action

import (
	"encoding/json"
	"time"
)

// Well-known action type tags. The route table (internal/routes) maps each
// tag to a backend endpoint; tags not present in the table are unknown and
// eventually dead-lettered by the drain loop.
const (
	TypeSaveArticle = "SAVE_ARTICLE"
	TypeBookmark    = "BOOKMARK"
)

// Record is one queued offline action as persisted in the durable store.
type Record struct {
	// ID is the store-assigned auto-increment identifier. Zero until the
	// record has been committed.
	ID int64

	// Type is the action type tag (e.g. TypeBookmark).
	Type string

	// Payload is the opaque JSON body the application handed over. It is
	// replayed verbatim to the backend endpoint for Type.
	Payload json.RawMessage

	// EnqueuedAt is when the record was accepted.
	EnqueuedAt time.Time

	// Attempts counts completed drain passes that failed to deliver this
	// record. Incremented by the drain loop; once it reaches the configured
	// ceiling the record moves to the dead-letter table.
	Attempts int
}

// DeadLetter is a record that exhausted its delivery attempts, preserved for
// operator recovery rather than silently dropped.
type DeadLetter struct {
	ID         int64
	Type       string
	Payload    json.RawMessage
	EnqueuedAt time.Time
	FailedAt   time.Time
	Reason     string
}
