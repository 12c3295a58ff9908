// Package queue carries jobs from the gateway to the workers over a durable
// broker queue. Messages are persistent and acknowledged manually: a message
// is removed only after the handler says so.
package queue

import (
	"context"
	"errors"
)

var (
	// ErrQueueUnavailable means the broker could not be reached or refused a publish.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrConnectionLost is returned by Consume when the broker connection or channel closes.
	ErrConnectionLost = errors.New("queue connection lost")
	// ErrMalformedMessage is returned by the decoders.
	ErrMalformedMessage = errors.New("malformed message")
)

// Disposition tells the consumer what to do with a delivery once the handler returns.
type Disposition int

const (
	// Ack removes the message from the queue.
	Ack Disposition = iota
	// Requeue returns the message to the queue for redelivery.
	Requeue
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	}
	return "unknown"
}

// Delivery is one message handed to a Handler.
type Delivery struct {
	Body        []byte
	Redelivered bool
}

// Handler processes a delivery. It is called for one message at a time.
type Handler func(ctx context.Context, d Delivery) Disposition

type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

type Consumer interface {
	// Consume blocks until ctx is done (returning nil) or the connection is
	// lost (returning ErrConnectionLost).
	Consume(ctx context.Context, queue string, h Handler) error
}
