// Package domain defines the core domain types and interfaces.
//
// Commands, digital states and the samples wrapping them, per-socket statistics,
// diagnostic events and the transport ports. No implementation code - just contracts.
// Prevents circular imports by keeping interfaces on the consumer side.
package domain
