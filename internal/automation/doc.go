// Package automation runs multi-step, delayed automation sequences.
//
// The Orchestrator holds the automation definitions, creates instances
// when triggers fire, and advances instances step by step. A single
// scheduler goroutine sleeps until the earliest due instance and fires
// due instances concurrently.
//
// Instance state transitions serialize on a per-(automation,
// subscriber) lock. The lock is held only to read and commit instance
// state; profile reads and action dispatch happen outside it, and the
// commit re-checks that the instance is still on the step that was
// fired.
//
// Due times are absolute timestamps persisted with the instance. After
// a restart the schedule is rebuilt from storage; instances whose due
// time passed while the process was down fire immediately.
package automation
