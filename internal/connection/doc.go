// Package connection implements the client-side Connection Manager.
//
// The Manager:
//   - Negotiates with the relay hub and connects over the most preferred transport offered
//   - Falls back to the next transport only when the preferred one is unavailable
//   - Recovers dropped connections with bounded backoff (1s, 2s, 5s, then 10s)
//   - Republishes received envelopes and state changes as live streams
package connection
