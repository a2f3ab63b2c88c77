// Package sqlite implements the store repositories on SQLite.
//
// A single Store satisfies all three repository interfaces. The database
// runs in WAL mode with a single writer connection; all writes use
// upserts (ON CONFLICT) so retried operations stay idempotent. Schema
// changes are tracked with PRAGMA user_version migrations.
package sqlite
