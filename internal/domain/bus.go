package domain

import "context"

// MessageHandler processes one message delivered on a subscribed topic.
type MessageHandler func(ctx context.Context, data []byte)

type Subscription interface {
	Unsubscribe() error
}

// Bus is the process-external messaging transport samples arrive on and
// combined commands leave through.
type Bus interface {
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)
	Publish(ctx context.Context, topic string, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}
