// Package mock provides an in-memory broker implementing queue.Publisher and
// queue.Consumer for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/artify-labs/artify/internal/queue"
)

type message struct {
	body        []byte
	redelivered bool
}

// Broker keeps one FIFO per queue name. Requeued messages go back to the
// front of their queue flagged as redelivered.
type Broker struct {
	mu     sync.Mutex
	queues map[string][]message
	acked  map[string]int

	// PublishErr, when set, is returned by every Publish.
	PublishErr error
}

func NewBroker() *Broker {
	return &Broker{queues: make(map[string][]message), acked: make(map[string]int)}
}

func (b *Broker) Publish(_ context.Context, q string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PublishErr != nil {
		return b.PublishErr
	}
	b.queues[q] = append(b.queues[q], message{body: append([]byte(nil), body...)})
	return nil
}

// Pending returns the bodies waiting on q.
func (b *Broker) Pending(q string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, 0, len(b.queues[q]))
	for _, m := range b.queues[q] {
		out = append(out, m.body)
	}
	return out
}

// Acked returns how many messages on q were acknowledged.
func (b *Broker) Acked(q string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked[q]
}

// Consume delivers messages from q until ctx is done.
func (b *Broker) Consume(ctx context.Context, q string, h queue.Handler) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		msg, ok := b.pop(q)
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				continue
			}
		}

		switch h(context.WithoutCancel(ctx), queue.Delivery{Body: msg.body, Redelivered: msg.redelivered}) {
		case queue.Ack:
			b.mu.Lock()
			b.acked[q]++
			b.mu.Unlock()
		default:
			b.mu.Lock()
			b.queues[q] = append([]message{{body: msg.body, redelivered: true}}, b.queues[q]...)
			b.mu.Unlock()
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (b *Broker) pop(q string) (message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.queues[q]
	if len(msgs) == 0 {
		return message{}, false
	}
	b.queues[q] = msgs[1:]
	return msgs[0], true
}

var (
	_ queue.Publisher = (*Broker)(nil)
	_ queue.Consumer  = (*Broker)(nil)
)
