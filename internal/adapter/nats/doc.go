// Package nats implements the message bus on core NATS subjects. Samples
// arrive on it, and the aggregator and diagnostic sinks publish through it.
package nats
