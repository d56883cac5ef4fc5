// Package api wraps outbound request/response calls.
//
// Caller adds bounded retry and a shared Idle/Busy/Error status to any call and mirrors final
// failures onto the local event bus as apiError events. Client is the business backend's REST
// API (exchange, queue, binding, publish, consume, ack and dead-letter operations), with every
// request routed through a Caller.
package api
