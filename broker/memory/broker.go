// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memory provides an in-process Broker. Queues live in memory and
// are lost when the process exits; it backs tests and single-process runs.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/grimoire/broker"
)

// DeadLetter is a rejected message.
type DeadLetter struct {
	Queue      string
	RoutingKey string
	Body       []byte
	Attempt    int
	Reason     string
}

type message struct {
	key     string
	body    []byte
	attempt int
}

type queue struct {
	name     string
	patterns []string
	pending  []message
	unacked  int
	prefetch int
	notify   chan struct{}
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Broker is an in-memory topic broker.
type Broker struct {
	mu        sync.Mutex
	queues    map[string]*queue
	dead      []DeadLetter
	scheduled int
	closed    bool
	done      chan struct{}
	logger    *slog.Logger
}

var _ broker.Broker = (*Broker)(nil)

// New creates an empty broker.
func New(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		queues: make(map[string]*queue),
		done:   make(chan struct{}),
		logger: logger.With("component", "memory-broker"),
	}
}

// Publish copies body into every queue with a matching binding.
func (b *Broker) Publish(ctx context.Context, routingKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return broker.ErrClosed
	}
	routed := false
	for _, q := range b.queues {
		if !q.matches(routingKey) {
			continue
		}
		q.pending = append(q.pending, message{key: routingKey, body: append([]byte(nil), body...), attempt: 1})
		q.signal()
		routed = true
	}
	if !routed {
		b.logger.Debug("unroutable message", "routing_key", routingKey)
	}
	return nil
}

func (q *queue) matches(routingKey string) bool {
	for _, p := range q.patterns {
		if MatchTopic(p, routingKey) {
			return true
		}
	}
	return false
}

// Consume declares the queue, adds the binding's routing keys to it and
// dispatches its messages until ctx is cancelled or the broker closes.
func (b *Broker) Consume(ctx context.Context, binding broker.Binding) (<-chan broker.Delivery, error) {
	if binding.Queue == "" {
		return nil, broker.ErrQueueRequired
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, broker.ErrClosed
	}
	q := b.declare(binding)
	b.mu.Unlock()

	out := make(chan broker.Delivery)
	go b.dispatch(ctx, q, out)
	return out, nil
}

func (b *Broker) declare(binding broker.Binding) *queue {
	q, ok := b.queues[binding.Queue]
	if !ok {
		q = &queue{name: binding.Queue, notify: make(chan struct{}, 1)}
		b.queues[binding.Queue] = q
	}
	for _, key := range binding.RoutingKeys {
		found := false
		for _, p := range q.patterns {
			if p == key {
				found = true
				break
			}
		}
		if !found {
			q.patterns = append(q.patterns, key)
		}
	}
	q.prefetch = max(binding.Prefetch, 1)
	return q
}

func (b *Broker) dispatch(ctx context.Context, q *queue, out chan<- broker.Delivery) {
	defer close(out)
	for {
		b.mu.Lock()
		var next *message
		if len(q.pending) > 0 && q.unacked < q.prefetch {
			m := q.pending[0]
			q.pending = q.pending[1:]
			q.unacked++
			next = &m
		}
		b.mu.Unlock()

		if next == nil {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case <-q.notify:
				continue
			}
		}

		select {
		case out <- &delivery{broker: b, queue: q, msg: *next}:
		case <-ctx.Done():
			b.requeue(q, *next)
			return
		case <-b.done:
			return
		}
	}
}

func (b *Broker) requeue(q *queue, m message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q.unacked--
	q.pending = append([]message{m}, q.pending...)
	q.signal()
}

// settle releases a delivery's prefetch slot.
func (b *Broker) settle(q *queue) {
	q.unacked--
	q.signal()
}

// Close stops every dispatcher. Pending messages are discarded.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

// DeadLetters returns every rejected message in rejection order.
func (b *Broker) DeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DeadLetter(nil), b.dead...)
}

// Pending returns the number of messages queued, in flight or scheduled
// for redelivery across all queues.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.scheduled
	for _, q := range b.queues {
		n += len(q.pending) + q.unacked
	}
	return n
}

type delivery struct {
	broker *Broker
	queue  *queue
	msg    message
	once   sync.Once
}

func (d *delivery) Body() []byte       { return d.msg.body }
func (d *delivery) RoutingKey() string { return d.msg.key }
func (d *delivery) Attempt() int       { return d.msg.attempt }

// claim reports whether this call is the first to settle the delivery.
func (d *delivery) claim() bool {
	first := false
	d.once.Do(func() { first = true })
	return first
}

func (d *delivery) Ack(ctx context.Context) error {
	if !d.claim() {
		return nil
	}
	b := d.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settle(d.queue)
	return nil
}

func (d *delivery) Retry(ctx context.Context, delay time.Duration) error {
	if !d.claim() {
		return nil
	}
	b := d.broker
	b.mu.Lock()
	b.settle(d.queue)
	b.scheduled++
	b.mu.Unlock()

	next := d.msg
	next.attempt++
	time.AfterFunc(delay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.scheduled--
		if b.closed {
			return
		}
		d.queue.pending = append(d.queue.pending, next)
		d.queue.signal()
	})
	return nil
}

func (d *delivery) Reject(ctx context.Context, reason string) error {
	if !d.claim() {
		return nil
	}
	b := d.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settle(d.queue)
	b.dead = append(b.dead, DeadLetter{
		Queue:      d.queue.name,
		RoutingKey: d.msg.key,
		Body:       d.msg.body,
		Attempt:    d.msg.attempt,
		Reason:     reason,
	})
	b.logger.Warn("dead-lettered message", "queue", d.queue.name, "routing_key", d.msg.key, "reason", reason)
	return nil
}

// Requeue puts the message back at the head of its queue with its attempt
// unchanged.
func (d *delivery) Requeue(ctx context.Context) error {
	if !d.claim() {
		return nil
	}
	d.broker.requeue(d.queue, d.msg)
	return nil
}
