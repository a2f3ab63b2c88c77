// Package ids generates unique identifiers for events and dispatch
// correlation.
package ids

import "github.com/google/uuid"

// Generator produces unique ids. Implemented by UUIDv7Generator
// (production) and testutil.FixedIDGenerator (tests).
type Generator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, making ids
// sortable by creation time, which keeps event logs and correlation ids
// easy to eyeball in traces.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
