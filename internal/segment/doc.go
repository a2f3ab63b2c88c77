// Package segment computes segment membership for profiles.
//
// Recomputation is a full rescan of every registered definition - no
// incremental update. This bounds the design to a moderate definition
// count (tens, not thousands) and in exchange makes recomputation
// trivially idempotent and order-independent.
package segment
