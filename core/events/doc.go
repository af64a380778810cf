// Package events defines the autopilot events emitted on the event bus.
//
// Available event types:
//   - StateEvent: a dispatcher completed a state transition
//   - GhostEvent: an unexpected sensor activation cut the power
//   - LegEvent: a locomotive arrived in its destination block
package events
