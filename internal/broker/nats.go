package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/jamzercise/lidify-fork/internal/config"
	ec "github.com/jamzercise/lidify-fork/pkgs/errors"
)

// durableName identifies the shared pull consumer for the job queue.
// Every analyzer process binds to the same durable, so the stream hands
// each job to exactly one of them.
const durableName = "clap-analyzer"

// NATS implements Broker on a NATS connection. The queue rides on a
// JetStream work queue stream consumed through a durable pull
// subscription; the bus uses core NATS publish/subscribe, which has the
// same no-persistence, no-replay behavior as Redis pub/sub.
type NATS struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	sub    *nats.Subscription
	queue  string
	logger zerolog.Logger
}

var _ Broker = (*NATS)(nil)

// NewNATS connects to the NATS server named by cfg.NatsURL, creates the
// work queue stream when it does not exist yet, and binds the durable
// pull consumer used by Pop.
func NewNATS(cfg config.BrokerConfig, logger zerolog.Logger) (*NATS, error) {
	nc, err := nats.Connect(cfg.NatsURL, nats.Name(durableName))
	if err != nil {
		return nil, ec.ErrQueueUnavailable.Clone().
			WithDetails("NATS_URL is unreachable").
			Warp(err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, ec.ErrQueueUnavailable.Clone().Warp(err)
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return nil, ec.ErrQueueUnavailable.Clone().Warp(err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{cfg.Queue},
			Retention: nats.WorkQueuePolicy,
		})
		if err != nil {
			nc.Close()
			return nil, ec.ErrQueueUnavailable.Clone().Warp(err)
		}
		logger.Info().Str("stream", cfg.Stream).Msg("Created job stream")
	}

	sub, err := js.PullSubscribe(cfg.Queue, durableName,
		nats.BindStream(cfg.Stream), nats.AckExplicit())
	if err != nil {
		nc.Close()
		return nil, ec.ErrQueueUnavailable.Clone().Warp(err)
	}

	logger.Info().
		Str("url", config.MaskURL(cfg.NatsURL)).
		Str("stream", cfg.Stream).
		Str("queue", cfg.Queue).
		Msg("Connected to NATS")

	return &NATS{
		nc:     nc,
		js:     js,
		sub:    sub,
		queue:  cfg.Queue,
		logger: logger,
	}, nil
}

// Pop fetches one job from the durable consumer, waiting at most
// timeout. The message is acknowledged before it is returned, so a job
// handed to a worker is never redelivered.
func (b *NATS) Pop(_ context.Context, timeout time.Duration) ([]byte, error) {
	msgs, err := b.sub.Fetch(1, nats.MaxWait(timeout))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, ErrNoJob
		}
		return nil, ec.ErrQueueUnavailable.Clone().Warp(err)
	}
	if len(msgs) == 0 {
		return nil, ErrNoJob
	}

	msg := msgs[0]
	if err := msg.Ack(); err != nil {
		b.logger.Warn().Err(err).Msg("failed to ack job message")
	}
	return msg.Data, nil
}

// Push publishes a job payload onto the work queue stream.
func (b *NATS) Push(_ context.Context, payload []byte) error {
	if _, err := b.js.Publish(b.queue, payload); err != nil {
		return ec.ErrQueueUnavailable.Clone().Warp(err)
	}
	return nil
}

// Publish sends payload on topic over core NATS. Subscribers that are
// not connected at this moment never see the message.
func (b *NATS) Publish(_ context.Context, topic string, payload []byte) error {
	if err := b.nc.Publish(topic, payload); err != nil {
		return ec.ErrPubSubUnavailable.Clone().Warp(err)
	}
	return nil
}

// Subscribe opens a core NATS subscription on topic. The subscription
// interest is registered with the server before this returns.
func (b *NATS) Subscribe(_ context.Context, topic string) (Subscription, error) {
	ch := make(chan *nats.Msg, 64)
	sub, err := b.nc.ChanSubscribe(topic, ch)
	if err != nil {
		return nil, ec.ErrPubSubUnavailable.Clone().Warp(err)
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, ec.ErrPubSubUnavailable.Clone().Warp(err)
	}

	s := &natsSubscription{
		sub:  sub,
		ch:   ch,
		out:  make(chan []byte, subscriptionBuffer),
		done: make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

func (b *NATS) Ping(_ context.Context) error {
	if !b.nc.IsConnected() {
		return ec.ErrPubSubUnavailable.Clone().
			WithDetails("NATS connection is down")
	}
	return nil
}

// Close shuts the connection down. The durable consumer is deliberately
// left in place so a restarted process resumes the same queue cursor.
func (b *NATS) Close() error {
	b.nc.Close()
	return nil
}

type natsSubscription struct {
	sub  *nats.Subscription
	ch   chan *nats.Msg
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *natsSubscription) pump() {
	defer close(s.out)
	for msg := range s.ch {
		select {
		case s.out <- msg.Data:
		case <-s.done:
			return
		}
	}
}

func (s *natsSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *natsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.sub.Unsubscribe()
		close(s.ch)
		close(s.done)
	})
	return err
}
