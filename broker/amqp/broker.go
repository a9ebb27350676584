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

// Package amqp provides a RabbitMQ Broker.
//
// Messages are published to a durable topic exchange. Every consumer queue
// dead-letters into a direct exchange that routes to "<queue>.dead". Retries
// go through "<queue>.retry", a consumer-less queue whose per-message TTL
// expires the message back into the original queue, so a delayed retry
// never blocks the consumer.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/poiesic/grimoire/broker"
	"github.com/poiesic/grimoire/core"
)

const (
	headerAttempt    = "x-grimoire-attempt"
	headerRoutingKey = "x-grimoire-routing-key"
	headerReason     = "x-grimoire-reason"
)

// Config configures the broker.
type Config struct {
	URL      string
	Exchange string
	Logger   *slog.Logger
}

// Broker is a RabbitMQ-backed broker.Broker.
type Broker struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	publish *amqp.Channel
	tags    atomic.Uint64
}

var (
	_ broker.Broker = (*Broker)(nil)
	_ publisher     = (*Broker)(nil)
)

// Dial connects to RabbitMQ and declares the exchanges.
func Dial(cfg Config) (*Broker, error) {
	if cfg.URL == "" || cfg.Exchange == "" {
		return nil, fmt.Errorf("amqp url and exchange are required: %w", core.ErrConfiguration)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, unavailable("dial", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, unavailable("open channel", err)
	}
	b := &Broker{
		conn:     conn,
		exchange: cfg.Exchange,
		logger:   logger.With("component", "amqp-broker", "exchange", cfg.Exchange),
		publish:  ch,
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, unavailable("declare exchange", err)
	}
	if err := ch.ExchangeDeclare(b.deadExchange(), amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, unavailable("declare dead-letter exchange", err)
	}
	return b, nil
}

func (b *Broker) deadExchange() string {
	return b.exchange + ".dlx"
}

func unavailable(op string, err error) error {
	return fmt.Errorf("amqp %s: %w: %w", op, core.ErrTransient, err)
}

// Publish sends a persistent message to the topic exchange.
func (b *Broker) Publish(ctx context.Context, routingKey string, body []byte) error {
	return b.send(ctx, b.exchange, routingKey, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{headerAttempt: int32(1)},
		Body:         body,
	})
}

func (b *Broker) send(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn.IsClosed() {
		return broker.ErrClosed
	}
	if err := b.publish.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return unavailable("publish", err)
	}
	return nil
}

// Consume declares the queue with its retry and dead-letter queues, binds
// its routing keys and starts a consumer on a dedicated channel. Cancelling
// ctx stops receiving; the channel closes once every delivery handed out
// has been settled.
func (b *Broker) Consume(ctx context.Context, binding broker.Binding) (<-chan broker.Delivery, error) {
	if binding.Queue == "" {
		return nil, broker.ErrQueueRequired
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, unavailable("open channel", err)
	}
	if err := b.declare(ch, binding); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Qos(max(binding.Prefetch, 1), 0, false); err != nil {
		ch.Close()
		return nil, unavailable("qos", err)
	}
	tag := fmt.Sprintf("grimoire-%s-%d", binding.Queue, b.tags.Add(1))
	deliveries, err := ch.Consume(binding.Queue, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, unavailable("consume", err)
	}

	out := make(chan broker.Delivery)
	go func() {
		var inflight sync.WaitGroup
		b.forward(ctx, binding.Queue, deliveries, out, &inflight)
		close(out)
		// Stop the server pushing more. Messages it already pushed but that
		// were never handed out return to the queue when the channel closes.
		if err := ch.Cancel(tag, false); err != nil {
			b.logger.Debug("cancelling consumer", "queue", binding.Queue, "err", err)
		}
		// Handed-out deliveries settle on this channel, so it outlives them.
		inflight.Wait()
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			b.logger.Debug("closing consumer channel", "queue", binding.Queue, "err", err)
		}
	}()
	return out, nil
}

// forward hands deliveries to out until ctx is cancelled or the server
// closes the stream. Every delivery handed out is counted in inflight until
// it is settled.
func (b *Broker) forward(ctx context.Context, queue string, in <-chan amqp.Delivery, out chan<- broker.Delivery, inflight *sync.WaitGroup) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-in:
			if !ok {
				return
			}
			inflight.Add(1)
			del := &delivery{pub: b, logger: b.logger, queue: queue, d: d, release: inflight.Done}
			select {
			case out <- del:
			case <-ctx.Done():
				if err := del.Requeue(context.Background()); err != nil {
					b.logger.Debug("requeueing undelivered message", "queue", queue, "err", err)
				}
				return
			}
		}
	}
}

func (b *Broker) declare(ch *amqp.Channel, binding broker.Binding) error {
	queue := binding.Queue
	dead := queue + ".dead"
	retry := queue + ".retry"

	if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
		return unavailable("declare "+dead, err)
	}
	if err := ch.QueueBind(dead, queue, b.deadExchange(), false, nil); err != nil {
		return unavailable("bind "+dead, err)
	}
	if _, err := ch.QueueDeclare(retry, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		return unavailable("declare "+retry, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    b.deadExchange(),
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		return unavailable("declare "+queue, err)
	}
	for _, key := range binding.RoutingKeys {
		if err := ch.QueueBind(queue, key, b.exchange, false, nil); err != nil {
			return unavailable("bind "+queue, err)
		}
	}
	return nil
}

// Close closes the connection. Unacked deliveries return to their queues.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}

// publisher is the part of Broker a delivery needs to retry itself.
type publisher interface {
	send(ctx context.Context, exchange, key string, msg amqp.Publishing) error
}

type delivery struct {
	pub     publisher
	logger  *slog.Logger
	queue   string
	d       amqp.Delivery
	once    sync.Once
	release func()
}

// claim reports whether this call is the first to settle the delivery.
func (d *delivery) claim() bool {
	first := false
	d.once.Do(func() { first = true })
	return first
}

func (d *delivery) done() {
	if d.release != nil {
		d.release()
	}
}

func (d *delivery) Body() []byte { return d.d.Body }

// RoutingKey returns the key the message was first published with; retried
// messages arrive through the retry queue under the queue's name.
func (d *delivery) RoutingKey() string {
	if key, ok := d.d.Headers[headerRoutingKey].(string); ok && key != "" {
		return key
	}
	return d.d.RoutingKey
}

func (d *delivery) Attempt() int {
	return attemptOf(d.d.Headers)
}

func attemptOf(headers amqp.Table) int {
	switch v := headers[headerAttempt].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 1
}

func (d *delivery) Ack(ctx context.Context) error {
	if !d.claim() {
		return nil
	}
	defer d.done()
	if err := d.d.Ack(false); err != nil {
		return unavailable("ack", err)
	}
	return nil
}

// Retry republishes the message to the retry queue with an expiration of
// delay and a bumped attempt header, then acks the original. If the
// republish fails the original is requeued as is.
func (d *delivery) Retry(ctx context.Context, delay time.Duration) error {
	if !d.claim() {
		return nil
	}
	defer d.done()
	headers := amqp.Table{
		headerAttempt:    int32(d.Attempt() + 1),
		headerRoutingKey: d.RoutingKey(),
	}
	err := d.pub.send(ctx, "", d.queue+".retry", amqp.Publishing{
		ContentType:  d.d.ContentType,
		DeliveryMode: amqp.Persistent,
		Expiration:   strconv.FormatInt(max(delay.Milliseconds(), 1), 10),
		Headers:      headers,
		Body:         d.d.Body,
	})
	if err != nil {
		if nackErr := d.d.Nack(false, true); nackErr != nil {
			return errors.Join(err, unavailable("nack", nackErr))
		}
		return err
	}
	if err := d.d.Ack(false); err != nil {
		return unavailable("ack", err)
	}
	return nil
}

// Reject dead-letters the message. The reason is logged; RabbitMQ records
// the rejection itself in the x-death header.
func (d *delivery) Reject(ctx context.Context, reason string) error {
	if !d.claim() {
		return nil
	}
	defer d.done()
	d.logger.Warn("dead-lettering message", "queue", d.queue, "routing_key", d.RoutingKey(), headerReason, reason)
	if err := d.d.Nack(false, false); err != nil {
		return unavailable("nack", err)
	}
	return nil
}

// Requeue returns the message to the head of its queue without touching
// the attempt header.
func (d *delivery) Requeue(ctx context.Context) error {
	if !d.claim() {
		return nil
	}
	defer d.done()
	if err := d.d.Nack(false, true); err != nil {
		return unavailable("requeue", err)
	}
	return nil
}
