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

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Message is implemented by every type a Consumer decodes.
type Message interface {
	Validate() error
}

// Handler processes one decoded message.
type Handler[T Message] func(ctx context.Context, msg T) error

type logAttrser interface {
	LogAttrs() []any
}

// Options configures a Consumer.
type Options struct {
	// PoolSize bounds concurrently handled messages.
	PoolSize int
	// MaxAttempts is the number of deliveries before a retried message is
	// dead-lettered.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Grace bounds how long in-flight handlers may run after shutdown starts.
	Grace  time.Duration
	Logger *slog.Logger
}

// DefaultOptions returns the options used for unset fields.
func DefaultOptions() Options {
	return Options{
		PoolSize:    max(runtime.NumCPU()/2, 1),
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Grace:       10 * time.Second,
		Logger:      slog.Default(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PoolSize < 1 {
		o.PoolSize = d.PoolSize
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	if o.Grace <= 0 {
		o.Grace = d.Grace
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}

// Consumer binds a queue and runs handler for every valid message on it.
type Consumer[T Message] struct {
	broker  Broker
	binding Binding
	handler Handler[T]
	opts    Options
	logger  *slog.Logger

	deliveries <-chan Delivery
	stop       context.CancelCauseFunc
	runCtx     context.Context
}

// NewConsumer creates a consumer for binding. Nothing is declared until
// Bind or Run.
func NewConsumer[T Message](b Broker, binding Binding, handler Handler[T], opts Options) (*Consumer[T], error) {
	if binding.Queue == "" {
		return nil, ErrQueueRequired
	}
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	opts = opts.withDefaults()
	if binding.Prefetch < 1 {
		binding.Prefetch = opts.PoolSize
	}
	return &Consumer[T]{
		broker:  b,
		binding: binding,
		handler: handler,
		opts:    opts,
		logger:  opts.Logger.With("component", "consumer", "queue", binding.Queue),
	}, nil
}

// Bind declares the queue and starts receiving. Messages published after
// Bind returns are kept for this consumer even before Serve runs.
func (c *Consumer[T]) Bind(ctx context.Context) error {
	c.runCtx, c.stop = context.WithCancelCause(ctx)
	deliveries, err := c.broker.Consume(c.runCtx, c.binding)
	if err != nil {
		c.stop(err)
		return fmt.Errorf("binding queue %s: %w", c.binding.Queue, err)
	}
	c.deliveries = deliveries
	return nil
}

// Run binds the queue and serves it until ctx is cancelled or a handler
// fails fatally.
func (c *Consumer[T]) Run(ctx context.Context) error {
	if err := c.Bind(ctx); err != nil {
		return err
	}
	return c.Serve()
}

// Serve dispatches deliveries to the worker pool. It returns nil on
// cancellation, the handler error when a message fails fatally and
// ErrDeliveriesClosed when the broker drops the stream underneath it.
func (c *Consumer[T]) Serve() error {
	if c.deliveries == nil {
		return ErrNotBound
	}
	// Submit blocks while every worker is busy.
	pool, err := ants.NewPool(c.opts.PoolSize)
	if err != nil {
		return err
	}
	defer pool.Release()

	// Handlers outlive receive cancellation by at most the grace period.
	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(c.runCtx))
	defer cancelHandlers()

	c.logger.Info("consuming", "routing_keys", c.binding.RoutingKeys, "workers", c.opts.PoolSize)

	var (
		wg   sync.WaitGroup
		lost bool
	)
loop:
	for {
		select {
		case <-c.runCtx.Done():
			break loop
		case d, ok := <-c.deliveries:
			if !ok {
				lost = c.runCtx.Err() == nil
				break loop
			}
			wg.Add(1)
			err := pool.Submit(func() {
				defer wg.Done()
				c.process(handlerCtx, d)
			})
			if err != nil {
				wg.Done()
				c.logger.Error("submitting delivery", "err", err)
				c.settle(c.logger, d.Requeue(handlerCtx))
			}
		}
	}
	if lost {
		c.logger.Error("broker closed the delivery stream")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.opts.Grace):
		c.logger.Warn("grace period expired, cancelling in-flight handlers")
		cancelHandlers()
		<-done
	}

	cause := context.Cause(c.runCtx)
	c.stop(nil)
	var fatal *fatalError
	if errors.As(cause, &fatal) {
		return fatal.err
	}
	if lost {
		return fmt.Errorf("queue %s: %w", c.binding.Queue, ErrDeliveriesClosed)
	}
	c.logger.Info("stopped consuming")
	return nil
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (c *Consumer[T]) process(ctx context.Context, d Delivery) {
	logger := c.logger.With("routing_key", d.RoutingKey(), "attempt", d.Attempt())

	var msg T
	if err := json.Unmarshal(d.Body(), &msg); err != nil {
		logger.Warn("dropping undecodable message", "err", err)
		c.settle(logger, d.Ack(ctx))
		return
	}
	if a, ok := any(msg).(logAttrser); ok {
		logger = logger.With(a.LogAttrs()...)
	}
	if err := msg.Validate(); err != nil {
		logger.Warn("dropping invalid message", "err", err)
		c.settle(logger, d.Ack(ctx))
		return
	}

	err := c.invoke(ctx, logger, msg)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// Shutdown cut the handler short; hand the message back untouched.
		logger.Warn("handler cancelled during shutdown", "err", err)
		c.settle(logger, d.Requeue(context.WithoutCancel(ctx)))
		return
	}

	switch outcome := Classify(err); outcome {
	case Ack:
		c.settle(logger, d.Ack(ctx))
	case Drop:
		logger.Warn("dropping message", "err", err)
		c.settle(logger, d.Ack(ctx))
	case Retry:
		if d.Attempt() >= c.opts.MaxAttempts {
			logger.Error("retries exhausted, dead-lettering", "err", err)
			c.settle(logger, d.Reject(ctx, err.Error()))
			return
		}
		delay := Backoff(d.Attempt(), c.opts.BaseDelay, c.opts.MaxDelay)
		logger.Warn("handler failed, retrying", "err", err, "delay", delay)
		c.settle(logger, d.Retry(ctx, delay))
	case Fatal:
		logger.Error("fatal handler error, dead-lettering and stopping", "err", err)
		c.settle(logger, d.Reject(ctx, err.Error()))
		c.stop(&fatalError{err: err})
	}
}

// invoke runs the handler, turning a panic into an error so the delivery
// is still settled.
func (c *Consumer[T]) invoke(ctx context.Context, logger *slog.Logger, msg T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return c.handler(ctx, msg)
}

func (c *Consumer[T]) settle(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("settling delivery", "err", err)
	}
}
