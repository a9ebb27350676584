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

// Package broker connects pipeline stages through a message broker and runs
// the consumer harness every stage shares.
//
// Delivery is at least once. A Consumer decodes each delivery into its
// message type, validates it, runs the stage handler on a worker pool and
// settles the delivery according to the Outcome the handler's error maps to.
package broker

import (
	"context"
	"time"
)

// Broker publishes messages by routing key and delivers them to bound queues.
type Broker interface {
	// Publish sends body to every queue bound to routingKey.
	Publish(ctx context.Context, routingKey string, body []byte) error

	// Consume declares the queue and its bindings, then streams deliveries
	// until ctx is cancelled. The channel is closed when consumption stops;
	// a close while ctx is still live means the broker lost the stream.
	// Deliveries already received stay settleable after ctx is cancelled.
	Consume(ctx context.Context, binding Binding) (<-chan Delivery, error)

	Close() error
}

// Binding names a queue and the routing keys it receives.
type Binding struct {
	Queue       string
	RoutingKeys []string
	// Prefetch bounds unacknowledged deliveries to this consumer.
	Prefetch int
}

// Delivery is one received message. Exactly one of Ack, Retry, Reject and
// Requeue must be called.
type Delivery interface {
	Body() []byte
	RoutingKey() string
	// Attempt is 1 on first delivery and grows with every Retry.
	Attempt() int
	Ack(ctx context.Context) error
	// Retry redelivers the message to the same queue after delay.
	Retry(ctx context.Context, delay time.Duration) error
	// Reject moves the message to the queue's dead-letter destination.
	Reject(ctx context.Context, reason string) error
	// Requeue hands the message back unchanged, attempt included, for
	// another consumer to pick up.
	Requeue(ctx context.Context) error
}
