// Package store defines the repository interfaces the engine persists
// through. The core depends only on these interfaces; the sqlite
// subpackage provides the storage the pulse binary ships with.
//
// Persisted state survives process restart: profiles (with their event
// logs), automation instances (with absolute due timestamps), and rule /
// segment / automation definitions. The orchestrator recomputes its
// schedule from stored due_at values, never from process-local timers.
package store
