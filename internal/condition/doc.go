// Package condition implements the field-path grammar and the condition
// evaluator for profile snapshots.
//
// The evaluator is a pure leaf: no side effects, no external calls, no
// clock reads (the caller supplies "now" for date operators). It is total:
// malformed conditions and unresolvable paths evaluate to the operator's
// miss default, never to an error or panic. Static problems (unknown
// operator, bad path syntax) are caught separately by Validate, which the
// definition compiler and the admin surface call before a condition is
// ever accepted.
//
// Path grammar, resolved over a tagged model.Value tree:
//
//	preferences.hairType          nested object traversal
//	behavior.bookings[0].kind     indexed array element access
//	behavior.bookings.length      terminal container size
//
// Resolution that hits a missing intermediate node yields the absent
// sentinel, not an error.
package condition
