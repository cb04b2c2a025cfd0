package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jamzercise/lidify-fork/internal/config"
	ec "github.com/jamzercise/lidify-fork/pkgs/errors"
)

// subscriptionBuffer is the size of the per-subscription delivery channel.
// Publishes to a full channel are dropped, matching the fire-and-forget
// contract of the bus.
const subscriptionBuffer = 16

// Redis implements Broker on a single Redis connection pool. The queue
// uses BLPOP/RPUSH on one list; the bus uses plain PUBLISH/SUBSCRIBE.
type Redis struct {
	client *redis.Client
	queue  string
	logger zerolog.Logger
}

var _ Broker = (*Redis)(nil)

// NewRedis connects to the Redis server named by cfg.RedisURL and
// verifies the connection with a ping before returning.
func NewRedis(ctx context.Context, cfg config.BrokerConfig, logger zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, ec.ErrQueueUnavailable.Clone().
			WithDetails("REDIS_URL is not a valid redis url").
			Warp(err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, ec.ErrQueueUnavailable.Clone().Warp(err)
	}

	logger.Info().
		Str("url", config.MaskURL(cfg.RedisURL)).
		Str("queue", cfg.Queue).
		Msg("Connected to Redis")

	return &Redis{
		client: client,
		queue:  cfg.Queue,
		logger: logger,
	}, nil
}

// Pop claims the oldest job on the queue, blocking for at most timeout.
// An elapsed interval returns ErrNoJob. The read is destructive: once a
// job is returned it is gone from the queue.
func (b *Redis) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := b.client.BLPop(ctx, timeout, b.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoJob
		}
		return nil, ec.ErrQueueUnavailable.Clone().Warp(err)
	}

	// BLPOP replies with the key name followed by the value.
	if len(res) != 2 {
		return nil, ErrNoJob
	}
	return []byte(res[1]), nil
}

// Push appends a job payload to the tail of the queue.
func (b *Redis) Push(ctx context.Context, payload []byte) error {
	if err := b.client.RPush(ctx, b.queue, payload).Err(); err != nil {
		return ec.ErrQueueUnavailable.Clone().Warp(err)
	}
	return nil
}

// Publish sends payload to every current subscriber of topic. Nobody
// listening means the message is simply lost.
func (b *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return ec.ErrPubSubUnavailable.Clone().Warp(err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription on topic. The first server
// reply is consumed before returning, so a Publish issued after
// Subscribe returns is guaranteed to reach this subscription.
func (b *Redis) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, ec.ErrPubSubUnavailable.Clone().Warp(err)
	}

	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan []byte, subscriptionBuffer),
		done: make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

func (b *Redis) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return ec.ErrQueueUnavailable.Clone().Warp(err)
	}
	return nil
}

func (b *Redis) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
