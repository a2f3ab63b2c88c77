// Package engine is the facade over the personalization core. It wires
// the profile store, rule engine, segment calculator, orchestrator, and
// dispatcher into the ingestion pipeline and exposes the administrative
// operations.
//
// The pipeline for one tracked event:
//
//  1. Profile Store applies the event and recomputes segments.
//  2. Rule Engine evaluates the updated snapshot; matched actions are
//     dispatched immediately.
//  3. Automation Orchestrator starts instances whose triggers match.
//
// Rule and step dispatch failures never surface to the ingest caller;
// at worst a personalization is suppressed. Persistence failures do
// surface, since they mean the event was not recorded.
package engine
