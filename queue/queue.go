package queue

import "context"

// MessageInfo is one received message plus whatever the queue needs to
// acknowledge it later.
type MessageInfo struct {
	Body    string
	Receipt string
}

// Handler consumes one message. The worker decides what a returned error
// means, the queue just delivers.
type Handler func(msg MessageInfo) error

// Queue is the transport job payloads travel over.
type Queue interface {
	Enqueue(ctx context.Context, body string) error
	// ProcessAsync starts delivering messages to the handler in the
	// background and returns. Delivery stops when the context is canceled.
	ProcessAsync(ctx context.Context, handler Handler) error
	Ack(ctx context.Context, msg MessageInfo) error
	MessageCount(ctx context.Context) (int, error)
	Purge(ctx context.Context) error
}
