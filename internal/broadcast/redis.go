package broadcast

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"codecast/collabd/pkg/logger"
)

// channel namespaces session traffic within a shared redis.
func channel(sessionID string) string {
	return "collabd:session:" + sessionID
}

// Redis is the redis pub/sub Broadcaster, used when several gateway nodes
// serve the same sessions.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to redis at addr and verifies the connection.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	logger.Info("redis_connected", "addr", addr)
	return &Redis{client: client}, nil
}

// Publish sends msg on the session channel.
func (r *Redis) Publish(ctx context.Context, sessionID string, msg []byte) error {
	if err := r.client.Publish(ctx, channel(sessionID), msg).Err(); err != nil {
		return fmt.Errorf("failed to publish to session channel: %w", err)
	}
	return nil
}

// Subscribe opens a redis subscription on the session channel and adapts
// it to the Subscription interface.
func (r *Redis) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channel(sessionID))
	// Force the subscription to be established before returning, so a
	// subscriber never misses messages published right after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to session channel: %w", err)
	}

	out := make(chan []byte, hubBuffer)
	go forward(pubsub.Channel(), out)
	return &redisSub{pubsub: pubsub, ch: out}, nil
}

// forward copies pubsub payloads onto the subscription channel. Sends are
// non-blocking, matching the hub: a subscriber that stops draining loses
// messages and must reconcile via the operation log.
func forward(in <-chan *redis.Message, out chan []byte) {
	defer close(out)
	for msg := range in {
		select {
		case out <- []byte(msg.Payload):
		default:
			logger.Warn("redis_subscriber_lagging", "channel", msg.Channel)
		}
	}
}

// Close closes the underlying redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan []byte
}

func (s *redisSub) C() <-chan []byte { return s.ch }

func (s *redisSub) Close() error {
	return s.pubsub.Close()
}
