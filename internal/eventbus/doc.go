// Package eventbus implements the Local Event Bus: an in-process, single-slot broadcast channel
// that decouples producers of status notifications (call failures, connection state changes,
// log lines) from whoever displays them.
//
// Semantics:
//   - Current returns only the most recently published value
//   - A subscriber sees every publish made while it is attached, in order, none dropped
//   - A subscriber never sees anything published before it attached
//
// The generic Stream type carries the same semantics for any value type and is reused by the
// connection manager for its envelope and state streams.
package eventbus
