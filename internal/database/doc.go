// Package database holds the seen-announcement set used for deduplication.
//
// Stores:
//   - PostgresStore: durable set in PostgreSQL (pgxpool), shared by restarts
//   - MemoryStore: bounded LRU set, used when no database is configured
//   - CachedStore: LRU in front of another store to skip round-trips for
//     announcements both sources report
package database
