// Package model provides the domain types for the pulse personalization engine.
//
// This package contains type definitions only. All other internal packages
// import model; model imports nothing internal. This keeps it the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Profile data is represented as a tagged Value tree (object/array/
//     scalar/absent) so condition evaluation stays total and type-safe.
//     Absent is distinct from Null: a missing path resolves to Absent,
//     an explicit JSON null resolves to Null.
//   - All JSON tags use snake_case.
//   - Timestamps are wall-clock time.Time; they serialize as RFC 3339 in
//     Value trees so date operators can parse them back.
package model
