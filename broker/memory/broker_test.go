package memory

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/grimoire/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan broker.Delivery) broker.Delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
		return nil
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern, key string
		want         bool
	}{
		{"document.crack", "document.crack", true},
		{"document.crack", "document.chunk", false},
		{"document.*", "document.crack", true},
		{"document.*", "document.crack.extra", false},
		{"conversation.embed.#", "conversation.embed.user", true},
		{"conversation.embed.#", "conversation.embed", true},
		{"#", "anything.at.all", true},
		{"*.embed", "chunk.embed", true},
		{"conversation.*.user", "conversation.embed.assistant", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopic(tt.pattern, tt.key))
		})
	}
}

func TestBroker_RoutesByKey(t *testing.T) {
	b := New(nil)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	users, err := b.Consume(ctx, broker.Binding{Queue: "users", RoutingKeys: []string{"conversation.embed.user"}})
	require.NoError(t, err)
	all, err := b.Consume(ctx, broker.Binding{Queue: "all", RoutingKeys: []string{"conversation.embed.*"}})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "conversation.embed.assistant", []byte("a")))
	require.NoError(t, b.Publish(ctx, "conversation.embed.user", []byte("u")))

	d := receive(t, users)
	assert.Equal(t, "u", string(d.Body()))
	assert.Equal(t, 1, d.Attempt())
	require.NoError(t, d.Ack(ctx))

	first := receive(t, all)
	require.NoError(t, first.Ack(ctx))
	second := receive(t, all)
	require.NoError(t, second.Ack(ctx))
	assert.ElementsMatch(t, []string{"a", "u"}, []string{string(first.Body()), string(second.Body())})
	assert.Zero(t, b.Pending())
}

func TestBroker_RetryRedeliversWithAttempt(t *testing.T) {
	b := New(nil)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Consume(ctx, broker.Binding{Queue: "q", RoutingKeys: []string{"k"}})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "k", []byte("m")))

	d := receive(t, ch)
	require.NoError(t, d.Retry(ctx, 10*time.Millisecond))
	assert.Equal(t, 1, b.Pending(), "scheduled retries count as pending")

	d = receive(t, ch)
	assert.Equal(t, 2, d.Attempt())
	assert.Equal(t, "k", d.RoutingKey())
	require.NoError(t, d.Reject(ctx, "giving up"))

	dead := b.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "giving up", dead[0].Reason)
	assert.Zero(t, b.Pending())
}

func TestBroker_PrefetchBoundsUnacked(t *testing.T) {
	b := New(nil)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Consume(ctx, broker.Binding{Queue: "q", RoutingKeys: []string{"k"}, Prefetch: 1})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "k", []byte("1")))
	require.NoError(t, b.Publish(ctx, "k", []byte("2")))

	first := receive(t, ch)
	select {
	case <-ch:
		t.Fatal("second delivery before first was settled")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, first.Ack(ctx))
	second := receive(t, ch)
	assert.Equal(t, "2", string(second.Body()))

	// Settling twice is a no-op.
	require.NoError(t, second.Ack(ctx))
	require.NoError(t, second.Ack(ctx))
	assert.Zero(t, b.Pending())
}

func TestBroker_QueueKeepsMessagesUntilConsumed(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := b.Consume(ctx, broker.Binding{Queue: "q", RoutingKeys: []string{"k"}})
	require.NoError(t, err)
	cancel()

	require.NoError(t, b.Publish(context.Background(), "k", []byte("kept")))
	assert.Equal(t, 1, b.Pending())

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	ch, err := b.Consume(ctx2, broker.Binding{Queue: "q"})
	require.NoError(t, err)
	d := receive(t, ch)
	assert.Equal(t, "kept", string(d.Body()))
}

func TestBroker_Closed(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), "k", nil), broker.ErrClosed)
	_, err := b.Consume(context.Background(), broker.Binding{Queue: "q"})
	assert.ErrorIs(t, err, broker.ErrClosed)
}
