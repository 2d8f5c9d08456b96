// Package storage persists relayed-copy records in SQLite.
//
// One row per (recipient, item). Rows expire via the retention sweep
// (internal/retention) plus an opportunistic prune every N writes.
package storage
