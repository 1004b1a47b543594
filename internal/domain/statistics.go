package domain

import (
	"context"
	"time"
)

// SocketStatistics are the counters of a single client connection.
// A zero LastReceivedMessage means nothing was received yet.
type SocketStatistics struct {
	Sent                uint64    `json:"sent"`
	Received            uint64    `json:"received"`
	LastReceivedMessage time.Time `json:"last_received_message,omitzero"`
	LastSentMessage     time.Time `json:"last_sent_message,omitzero"`
	ConnectedAt         time.Time `json:"connected_at"`
}

// Statistics is one sampled view of every active connection.
type Statistics struct {
	Time              time.Time          `json:"time"`
	SocketsStatistics []SocketStatistics `json:"sockets_statistics"`
}

type StatisticsSink interface {
	WriteStatistics(ctx context.Context, stats Statistics) error
}
