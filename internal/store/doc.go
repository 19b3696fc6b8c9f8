// Package store provides SQLite-backed durable storage for transport channel
// state.
//
// The store keeps two tables:
//   - channel_values: the last committed JSON value of every channel key,
//     with a revision counter bumped on each overwrite
//   - cursors: named integer cursors such as the applied command id
//
// Both are partitioned by namespace (one per session), and a Bucket scopes
// all reads and writes to a single namespace.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Values are stored as the exact bytes the channel committed, so a reload
// hands back what was written.
package store
