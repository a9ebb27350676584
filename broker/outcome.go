package broker

import (
	"errors"
	"time"

	"github.com/poiesic/grimoire/core"
)

// Outcome is how a handled delivery is settled.
type Outcome int

const (
	// Ack: processed.
	Ack Outcome = iota
	// Drop: acknowledged without effect. Retrying cannot help.
	Drop
	// Retry: redelivered after a backoff until attempts run out, then
	// dead-lettered.
	Retry
	// Fatal: dead-lettered, and the consumer stops.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Drop:
		return "drop"
	case Retry:
		return "retry"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Classify maps a handler error onto an Outcome using the core error
// taxonomy. Unclassified errors are retried.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, core.ErrConfiguration):
		return Fatal
	case errors.Is(err, core.ErrMalformed), errors.Is(err, core.ErrNotFound):
		return Drop
	default:
		return Retry
	}
}

// Backoff returns base doubled once per previous attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
