// Package cache implements the versioned response cache.
//
// The cache is organized into generations. A generation is a named set of
// request-key → captured-response entries, created when a new agent version
// installs and deleted when the next version activates. Exactly one
// generation is current at any time; all reads and writes go through a
// Generation handle bound to that name, so addressing a stale generation
// after activation is impossible by construction.
//
// Cache keys are the normalized request identity: method plus normalized
// URL (lowercased scheme and host, default port dropped, fragment dropped),
// NFC-normalized so equivalent Unicode paths collapse to one entry. Only
// GET requests are ever keyed.
//
// Storage is pluggable via the Store interface. The production
// implementation is the SQLite store in internal/store; tests use an
// in-memory fake.
package cache
