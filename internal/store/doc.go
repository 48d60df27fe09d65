// Package store provides SQLite-backed durable storage for the agent.
//
// Everything that must survive an agent restart lives here:
//   - Cache entries: captured GET responses, partitioned by generation
//   - Actions: the offline queue of deferred writes
//   - Dead letters: actions that exhausted their delivery attempts
//
// The store implements cache.Store and backs queue.Queue; both share one
// database so a single file on disk carries the whole agent state.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// The single-writer connection pool (MaxOpenConns=1) avoids SQLITE_BUSY
// under the agent's concurrent fetch handlers; SQLite only supports one
// writer at a time anyway.
//
// # Durability Contract
//
// AppendAction returns only after the INSERT has committed. With
// synchronous=NORMAL in WAL mode a commit is durable against process death;
// an OS crash can lose the tail of the WAL, which the queue's best-effort
// contract accepts.
package store
