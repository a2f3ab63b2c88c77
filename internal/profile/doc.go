// Package profile implements the profile store, the single owner of
// mutable per-subscriber state.
//
// CONCURRENCY:
//
// All mutation serializes per subscriber id through a keyed mutex.
// Events for different subscribers proceed fully in parallel; events for
// the same subscriber apply in arrival order, and segment recomputation
// happens inside the same critical section so a profile's segment set is
// always consistent with its fields. There is deliberately no global
// lock.
//
// PERSISTENCE:
//
// Writes are write-then-apply: the repository write commits before the
// in-memory copy updates, so memory never runs ahead of storage. A
// failed write surfaces to the caller and leaves both unchanged.
//
// Readers receive deep clones and can never observe concurrent mutation.
package profile
