// Package bus provides topic-scoped realtime fan-out of entity snapshots.
//
// # Topic Model
//
//   - request:<id>       state changes of a single assistance request
//   - requests:open      the live feed responders watch for new open requests
//   - conversation:<key> messages between one participant pair (symmetric key)
//
// # Delivery Semantics
//
// Delivery is at-least-once and ordered only within a single topic relative
// to the write that produced it. There is no cross-topic ordering guarantee,
// and a subscriber too slow to keep its channel drained is evicted (its
// channel closed) rather than blocking the publisher. Every event carries
// the full current state of the changed
// entity, never a diff, so handlers can apply it idempotently. Clients that
// lose their subscription must resubscribe and refetch; the bus does not
// replay missed events.
//
// # Multi-Instance Deployments
//
// A single Broadcaster serves one process. Relay mirrors publishes over a
// shared Redis channel so several gateway instances behave as one bus; the
// relay suppresses its own echoes by event ID.
package bus
