// Package metrics provides Prometheus metrics for monitoring a relay instance.
//
// Key metrics:
//   - Pushes accepted and rejected
//   - Envelopes handed to client connections
//   - Backplane messages received, dropped as self-origin, and backplane errors
//   - Live client connections per transport
package metrics
