// Package harness provides a conformance testing framework for the agent.
//
// Scenarios are YAML files describing a sequence of steps against a fresh
// agent: fetches through the interceptor, going offline and online,
// enqueuing offline actions, drain cycles, and push deliveries. Each run
// gets its own SQLite store and fake origin, so scenarios are isolated and
// repeatable.
//
// Every step appends events to a trace stamped with a logical sequence
// number - no wall clocks - so the same scenario always produces the same
// trace. Golden files capture the expected traces; see golden.go for the
// comparison helpers and how to regenerate them.
package harness
