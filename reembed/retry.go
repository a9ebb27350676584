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

package reembed

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/grimoire/broker"
)

// maxRetryDelay caps the doubling delay between attempts.
const maxRetryDelay = 30 * time.Second

// Retry runs op up to attempts times, sleeping base, 2*base, 4*base and so
// on between failures. Errors the pipeline would drop or treat as fatal are
// returned without another attempt. The last failure is returned once
// attempts run out.
func Retry(ctx context.Context, attempts int, base time.Duration, logger *slog.Logger, op func(context.Context) error) error {
	if attempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = op(ctx); err == nil {
			return nil
		}
		if broker.Classify(err) != broker.Retry || attempt == attempts {
			return err
		}

		delay := broker.Backoff(attempt, base, maxRetryDelay)
		logger.Debug("retrying", "attempt", attempt, "of", attempts, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
