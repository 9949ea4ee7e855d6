// Package sqlite provides a remote.Collection stored in a SQLite file.
//
// Documents are kept as JSON bodies in a single table. Every write bumps a
// per-collection version row in the same transaction; watchers compare that
// version to decide whether to reload. Writes through the same Store wake
// watchers immediately, writes from other processes are seen on the next
// poll tick.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Snapshot order is creation order: ORDER BY seq ASC, id COLLATE BINARY ASC.
package sqlite
