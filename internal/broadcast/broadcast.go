// Package broadcast fans serialized session messages out to every
// subscriber of a session channel. Two implementations exist: an
// in-process hub for single-node deployments and tests, and a redis
// pub/sub bridge for multi-node fan-out.
package broadcast

import "context"

// Broadcaster delivers opaque message payloads to all current subscribers
// of a session channel. Delivery is best effort; durable catch-up is the
// operation log's job, not the fan-out's.
type Broadcaster interface {
	Publish(ctx context.Context, sessionID string, msg []byte) error
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
	Close() error
}

// Subscription is one subscriber's live feed for a session channel.
type Subscription interface {
	// C yields published payloads until the subscription is closed.
	C() <-chan []byte
	Close() error
}
