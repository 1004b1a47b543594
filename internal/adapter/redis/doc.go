// Package redis provides the Redis transport: a Pub/Sub message bus and a
// store for the latest statistics snapshot. All commands pass through a
// circuit breaker hook.
package redis
