// Package syncer drains the offline-action queue when connectivity returns.
//
// # At-Least-Once Replay
//
// Delivery is at-least-once, never exactly-once. The drain loop only
// removes a record after the backend confirmed the replay with a success
// status; every other outcome leaves the record in place for the next
// cycle. The failure modes work out as follows:
//
//	POST fails            → record stays, retried next cycle
//	POST succeeds, agent
//	dies before Remove    → record stays, REPLAYED AGAIN next cycle
//	Remove fails          → record stays, replayed again next cycle
//
// The duplicate-replay cases are why every POST carries the action's
// stable Idempotency-Key (internal/action): the backend can recognize a
// replay it already applied. Remove is idempotent by ID, so concurrent or
// interrupted drains never error on records another pass already handled.
//
// # Record Independence
//
// Records are processed independently: one record's failure never blocks
// or skips another's processing, and no ordering holds across records.
// A drain interrupted by agent termination simply leaves its remaining
// records untouched for the next trigger.
//
// # Bounded Retention
//
// There is no unbounded retry. Each failed pass increments the record's
// persisted attempt counter; at the configured ceiling the record moves to
// the dead-letter table with its failure reason. Unknown action types -
// tags with no route - take the same path, so a forgotten tag can neither
// vanish silently nor clog the queue forever.
package syncer
