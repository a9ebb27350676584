package broker

import (
	"errors"
	"fmt"

	"github.com/poiesic/grimoire/core"
)

var (
	// ErrClosed is returned by a broker after Close.
	ErrClosed = fmt.Errorf("broker closed: %w", core.ErrTransient)

	// ErrQueueRequired is returned when a binding names no queue.
	ErrQueueRequired = fmt.Errorf("queue name required: %w", core.ErrConfiguration)

	// ErrHandlerRequired is returned when a consumer has no handler.
	ErrHandlerRequired = errors.New("handler required")

	// ErrNotBound is returned by Serve before Bind.
	ErrNotBound = errors.New("consumer not bound")

	// ErrDeliveriesClosed is returned by Serve when the broker ends the
	// delivery stream before the consumer was stopped.
	ErrDeliveriesClosed = fmt.Errorf("delivery stream closed by broker: %w", core.ErrTransient)

	// ErrHandlerPanic wraps a recovered handler panic. It is retried like
	// any unclassified failure.
	ErrHandlerPanic = errors.New("handler panicked")
)
