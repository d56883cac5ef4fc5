// Package model defines the event envelope shared by the relay and its clients.
//
// An Envelope is the unit of fan-out: a name plus an opaque JSON payload. The relay never
// interprets payloads; producers and consumers agree on their shape per event name.
//
// Conventions:
//   - Wire form: {"event": "<name>", "payload": <any JSON>}
//   - Field names decode case-insensitively, so {"Event", "Payload"} is accepted too
//   - A missing payload decodes as JSON null
package model
