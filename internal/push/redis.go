package push

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-orders/internal/domain/order"
)

// redisPublisher is the subset of redis.UniversalClient used to publish.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

var _ order.Publisher = (*RedisPublisher)(nil)

// RedisPublisher publishes events on a Redis pub/sub channel.
type RedisPublisher struct {
	client  redisPublisher
	channel string
}

// NewRedisPublisher creates a publisher for the given channel.
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends the encoded event. Having no subscribers is not an error.
func (p *RedisPublisher) Publish(ctx context.Context, ev order.Event) error {
	if err := p.client.Publish(ctx, p.channel, Encode(ev)).Err(); err != nil {
		return errors.Wrapf(err, "publish %s to %s", ev.Type, p.channel)
	}
	return nil
}
