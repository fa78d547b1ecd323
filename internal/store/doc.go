// Package store provides the durable key-value collaborator behind the
// cache and the offline action queue.
//
// Every backend implements Store:
//   - Read returns ErrNotFound for absent keys
//   - Write is durable once it returns nil (crash-consistent)
//   - Delete is idempotent
//   - ListKeysWithPrefix returns keys in ascending byte order
//
// The ordering guarantee is load-bearing: the offline queue stores one record
// per action under a zero-padded sequence key and relies on prefix listing to
// recover FIFO order after a restart.
//
// # Backends
//
//   - SQLite (OpenSQLite): WAL journal, synchronous=FULL, single connection
//   - Badger (OpenBadger): SyncWrites enabled, prefix iteration
//   - Memory (NewMemory): process-local, for tests and ephemeral use
//
// # Key Layout
//
//	cache/<category>/<key>   cache record {payload, stored_at, schema_version}
//	queue/<seq:020d>         offline action record
//	meta/last_sync           last successful sync timestamp
package store
