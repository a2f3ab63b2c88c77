// Package rules implements priority-ordered personalization rule dispatch.
//
// Rules are evaluated on every profile mutation; the engine keeps no
// "already fired" state. Idempotence of effects (e.g. not re-sending a
// welcome email) is the action dispatcher's responsibility.
//
// Matching rules are ordered by priority descending with declaration
// order as the tie-break. Authors rely on declaration order as an
// implicit tie-break, so the sort must be stable and the declaration
// order must never change after registration.
package rules
