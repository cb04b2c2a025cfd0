package broker

import (
	"context"
	"strings"
	"sync"
	"time"

	ec "github.com/jamzercise/lidify-fork/pkgs/errors"
)

// Memory is an in-process Broker for tests. The queue is a buffered
// channel and the bus delivers only to subscriptions live at publish
// time, dropping everything else, which mirrors the real transports
// closely enough to drive the worker and responder loops.
type Memory struct {
	jobs chan []byte

	mu     sync.Mutex
	topics map[string][]*memorySubscription

	popErr        error
	pushErr       error
	publishErr    error
	publishPrefix string
	subscribeErr  error
	pingErr       error
}

var _ Broker = (*Memory)(nil)

func NewMemory(capacity int) *Memory {
	return &Memory{
		jobs:   make(chan []byte, capacity),
		topics: make(map[string][]*memorySubscription),
	}
}

// FailPops makes every subsequent Pop return err. A nil err restores
// normal behavior. The other Fail helpers work the same way.
func (b *Memory) FailPops(err error) {
	b.mu.Lock()
	b.popErr = err
	b.mu.Unlock()
}

func (b *Memory) FailPushes(err error) {
	b.mu.Lock()
	b.pushErr = err
	b.mu.Unlock()
}

// FailPublishes makes publishes to topics starting with prefix return
// err. An empty prefix hits every topic; a nil err restores normal
// behavior.
func (b *Memory) FailPublishes(prefix string, err error) {
	b.mu.Lock()
	b.publishPrefix, b.publishErr = prefix, err
	b.mu.Unlock()
}

func (b *Memory) FailSubscribes(err error) {
	b.mu.Lock()
	b.subscribeErr = err
	b.mu.Unlock()
}

func (b *Memory) FailPings(err error) {
	b.mu.Lock()
	b.pingErr = err
	b.mu.Unlock()
}

func (b *Memory) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	b.mu.Lock()
	err := b.popErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case payload := <-b.jobs:
		return payload, nil
	case <-timer.C:
		return nil, ErrNoJob
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Memory) Push(_ context.Context, payload []byte) error {
	b.mu.Lock()
	err := b.pushErr
	b.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case b.jobs <- payload:
		return nil
	default:
		return ec.ErrQueueUnavailable.Clone().WithDetails("queue is full")
	}
}

func (b *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil && strings.HasPrefix(topic, b.publishPrefix) {
		return b.publishErr
	}
	for _, s := range b.topics[topic] {
		select {
		case s.out <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

func (b *Memory) Subscribe(_ context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}

	sub := &memorySubscription{
		broker: b,
		topic:  topic,
		out:    make(chan []byte, subscriptionBuffer),
	}
	b.topics[topic] = append(b.topics[topic], sub)
	return sub, nil
}

func (b *Memory) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pingErr
}

func (b *Memory) Close() error {
	return nil
}

// Pending reports how many jobs are waiting on the queue.
func (b *Memory) Pending() int {
	return len(b.jobs)
}

// Subscribers reports how many subscriptions are live on topic.
func (b *Memory) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// DropSubscriptions closes every live subscription on topic without the
// subscribers asking for it, the way a transport-side disconnect would.
func (b *Memory) DropSubscriptions(topic string) {
	b.mu.Lock()
	dropped := b.topics[topic]
	delete(b.topics, topic)
	b.mu.Unlock()

	for _, s := range dropped {
		s.closeOut()
	}
}

type memorySubscription struct {
	broker *Memory
	topic  string
	out    chan []byte
	once   sync.Once
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.out
}

func (s *memorySubscription) Close() error {
	b := s.broker
	b.mu.Lock()
	subs := b.topics[s.topic]
	for i := range subs {
		if subs[i] == s {
			b.topics[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	s.closeOut()
	return nil
}

func (s *memorySubscription) closeOut() {
	s.once.Do(func() { close(s.out) })
}
