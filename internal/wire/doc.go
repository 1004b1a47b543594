// Package wire holds the JSON shapes exchanged with the outside world: the inbound
// sample payloads carried by the message bus and the outbound messages pushed to
// WebSocket clients.
package wire
