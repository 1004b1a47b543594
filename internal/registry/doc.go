// Package registry owns the set of client WebSocket connections and their statistics.
//
// Every connection gets two goroutines: a writer draining a buffered send channel
// (so a slow client never blocks the broadcaster beyond its own buffer) and a read unit
// that counts inbound messages and reports the disconnect. The registry lock is never
// held across a network write.
package registry
