// Package action defines queued offline actions and their stable identity.
//
// An action is a deferred write the application performed while offline:
// an enumerated type tag plus an opaque JSON payload. Records get a
// locally-assigned auto-increment ID from the durable store; that ID is
// unique and stable for the lifetime of the record and is what the drain
// loop uses for idempotent removal.
//
// Because delivery is at-least-once, every replay POST carries an
// Idempotency-Key header computed here: a domain-separated SHA-256 over the
// canonical JSON of {type, payload}. The same action always produces the
// same key, across restarts and across drain cycles, so the backend can
// deduplicate a replay that succeeded but whose response was lost.
package action
