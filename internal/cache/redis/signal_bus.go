package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

const busBuffer = 128

// SignalBus implements domain.SignalBus over Redis Pub/Sub. Channel names are
// used as given so that API clients in other processes can subscribe to
// them directly.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends payload to channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// PSubscribe subscribes to a glob pattern such as "ch:game:*". Each message
// carries the concrete channel it was published on.
func (sb *SignalBus) PSubscribe(ctx context.Context, pattern string) (<-chan domain.BusMessage, error) {
	return sb.open(ctx, sb.rdb.PSubscribe(ctx, pattern), pattern)
}

func (sb *SignalBus) open(ctx context.Context, pubsub *redis.PubSub, name string) (<-chan domain.BusMessage, error) {
	// Wait for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", name, err)
	}

	out := make(chan domain.BusMessage, busBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- domain.BusMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
