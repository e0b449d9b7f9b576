// Package journal provides a Redis-backed journal of plugin lifecycle
// events.
//
// Every lifecycle transition the manager performs (register, initialize,
// install, uninstall, shutdown) can be recorded as an Event. Events are kept
// in a capped Redis list for later inspection and simultaneously published
// on a pub/sub channel so external observers (dashboards, audit pipelines)
// can follow transitions live.
//
// The journal is strictly observational: PLM never reads its own journal to
// make lifecycle decisions, and journal failures never fail the operation
// that produced the event.
package journal
