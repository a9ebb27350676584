package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/poiesic/grimoire/core"
)

// Publish validates msg, encodes it as JSON and publishes it under the
// routing key the message resolves for itself.
func Publish(ctx context.Context, b Broker, msg core.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %T: %w: %w", msg, core.ErrMalformed, err)
	}
	if err := b.Publish(ctx, msg.RoutingKey(), body); err != nil {
		return fmt.Errorf("publishing %s: %w", msg.RoutingKey(), err)
	}
	return nil
}
