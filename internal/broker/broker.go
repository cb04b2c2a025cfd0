// Package broker abstracts the job queue and the text embedding
// request/response bus over either a Redis or a NATS transport. The
// queue gives destructive claim-on-read delivery; the bus gives
// fire-and-forget pub/sub with no persistence and no replay.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/jamzercise/lidify-fork/internal/config"
	ec "github.com/jamzercise/lidify-fork/pkgs/errors"
)

// ErrNoJob reports that a Pop interval elapsed without a message. It is
// the normal idle outcome of polling, not a failure.
var ErrNoJob = errors.New("no job available")

// Queue is the analysis job queue. Pop blocks for at most timeout and
// claims one message; a claimed message is never redelivered, not even
// when processing it later fails.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
	Push(ctx context.Context, payload []byte) error
}

// Bus is the fire-and-forget pub/sub transport. Published messages reach
// only the subscriptions that were established before the publish; there
// is no buffering for late subscribers.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription delivers messages for a single topic. The Messages
// channel closes when the subscription is closed or the transport drops
// it; consumers that need to keep listening are expected to subscribe
// again.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Broker bundles the queue and the bus of one backing transport together
// with a liveness probe for readiness checks.
type Broker interface {
	Queue
	Bus
	Ping(ctx context.Context) error
	Close() error
}

// New builds the Broker selected by cfg.Driver.
func New(ctx context.Context, cfg config.BrokerConfig, logger zerolog.Logger) (Broker, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		return NewRedis(ctx, cfg, logger)
	case config.DriverNATS:
		return NewNATS(cfg, logger)
	default:
		return nil, ec.ErrValidationFailed.Clone().
			WithDetails("unknown broker driver " + cfg.Driver)
	}
}
