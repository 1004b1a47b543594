// Package publisher runs the processing cycle: it validates incoming samples, tracks
// input freshness and broadcasts accepted samples to every active WebSocket client.
package publisher
