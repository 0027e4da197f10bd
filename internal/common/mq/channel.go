package mq

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueFull is returned by Publish when a topic buffer is at capacity.
var ErrQueueFull = errors.New("queue is full")

// ErrQueueClosed is returned when operating on a closed queue.
var ErrQueueClosed = errors.New("queue is closed")

// ChannelQueue is an in-process MessageQueue backed by buffered channels.
// Each topic holds messages in FIFO order. Publish never blocks: when a
// topic buffer is full it returns ErrQueueFull so callers can reject
// instead of stalling the producer.
type ChannelQueue struct {
	capacity int

	mu            sync.Mutex
	topics        map[string]chan *Message
	subscriptions []*channelSubscription
	started       bool
	closed        bool
}

type channelSubscription struct {
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	baseCtx context.Context

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChannelQueue creates an in-process queue with the given per-topic capacity.
func NewChannelQueue(capacity int) *ChannelQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ChannelQueue{
		capacity: capacity,
		topics:   make(map[string]chan *Message),
	}
}

func (q *ChannelQueue) topicChan(topic string) chan *Message {
	ch, ok := q.topics[topic]
	if !ok {
		ch = make(chan *Message, q.capacity)
		q.topics[topic] = ch
	}
	return ch
}

// Publish enqueues a message without blocking.
func (q *ChannelQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	ch := q.topicChan(topic)
	q.mu.Unlock()

	select {
	case ch <- message:
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe subscribes to a topic with default options.
func (q *ChannelQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc) error {
	return q.SubscribeWithOptions(ctx, topic, handler, nil)
}

// SubscribeWithOptions subscribes to a topic with custom options.
func (q *ChannelQueue) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()

	sub := &channelSubscription{
		topic:   topic,
		handler: handler,
		opts:    options,
		baseCtx: ctx,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.subscriptions = append(q.subscriptions, sub)
	if q.started {
		q.startSubscription(sub)
	}
	return nil
}

// Start starts workers for all subscriptions.
func (q *ChannelQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return nil
	}
	for _, sub := range q.subscriptions {
		q.startSubscription(sub)
	}
	q.started = true
	return nil
}

// startSubscription launches the workers for one subscription.
// Caller must hold q.mu.
func (q *ChannelQueue) startSubscription(sub *channelSubscription) {
	ch := q.topicChan(sub.topic)
	if sub.baseCtx == nil {
		sub.baseCtx = context.Background()
	}
	sub.ctx, sub.cancel = context.WithCancel(sub.baseCtx)

	for i := 0; i < sub.opts.Concurrency; i++ {
		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			for {
				select {
				case <-sub.ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					_ = sub.handler(sub.ctx, msg)
				}
			}
		}()
	}
}

// Stop cancels all subscriptions and waits for in-flight handlers.
func (q *ChannelQueue) Stop() error {
	q.mu.Lock()
	subs := make([]*channelSubscription, len(q.subscriptions))
	copy(subs, q.subscriptions)
	q.started = false
	q.mu.Unlock()

	for _, sub := range subs {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range subs {
		sub.wg.Wait()
	}
	return nil
}

// Depth reports how many messages are buffered for a topic.
func (q *ChannelQueue) Depth(topic string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.topics[topic]
	if !ok {
		return 0
	}
	return len(ch)
}

// Ping is a no-op for the in-process queue.
func (q *ChannelQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// Close stops workers and rejects further publishes.
func (q *ChannelQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	return q.Stop()
}
