package broker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/grimoire/broker"
	"github.com/poiesic/grimoire/broker/memory"
	"github.com/poiesic/grimoire/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() broker.Options {
	return broker.Options{
		PoolSize:    4,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Grace:       time.Second,
	}
}

func crackRequest(path string) core.CrackDocument {
	return core.CrackDocument{DocumentRef: core.DocumentRef{
		DocumentID:   core.IDFromContent(path),
		RulesetID:    "rules",
		Kind:         core.DocumentKindRulebook,
		RelativePath: path,
		Revision:     1,
	}}
}

type harness struct {
	broker *memory.Broker
	cancel context.CancelFunc
	errc   chan error
}

func startConsumer(t *testing.T, binding broker.Binding, handler broker.Handler[core.CrackDocument]) *harness {
	t.Helper()
	b := memory.New(nil)
	c, err := broker.NewConsumer(b, binding, handler, fastOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Bind(ctx))
	h := &harness{broker: b, cancel: cancel, errc: make(chan error, 1)}
	go func() { h.errc <- c.Serve() }()
	t.Cleanup(func() {
		cancel()
		b.Close()
	})
	return h
}

var crackBinding = broker.Binding{Queue: "crack", RoutingKeys: []string{core.RouteCrackDocument}}

func TestConsumer_AcksHandledMessages(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	h := startConsumer(t, crackBinding, func(ctx context.Context, msg core.CrackDocument) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg.RelativePath)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, broker.Publish(ctx, h.broker, crackRequest("rules/a.pdf")))
	require.NoError(t, broker.Publish(ctx, h.broker, crackRequest("rules/b.pdf")))

	require.Eventually(t, func() bool { return h.broker.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"rules/a.pdf", "rules/b.pdf"}, seen)
	assert.Empty(t, h.broker.DeadLetters())
}

func TestConsumer_InvalidMessageIsDroppedWithoutHandler(t *testing.T) {
	var calls atomic.Int32
	h := startConsumer(t, crackBinding, func(ctx context.Context, msg core.CrackDocument) error {
		calls.Add(1)
		return nil
	})

	invalid, err := json.Marshal(core.CrackDocument{DocumentRef: core.DocumentRef{RelativePath: "x.pdf"}})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, h.broker.Publish(ctx, core.RouteCrackDocument, invalid))
	require.NoError(t, h.broker.Publish(ctx, core.RouteCrackDocument, []byte("{not json")))

	require.Eventually(t, func() bool { return h.broker.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, calls.Load())
	assert.Empty(t, h.broker.DeadLetters())
}

func TestConsumer_DropsMalformedAndNotFound(t *testing.T) {
	var calls atomic.Int32
	h := startConsumer(t, crackBinding, func(ctx context.Context, msg core.CrackDocument) error {
		calls.Add(1)
		if msg.RelativePath == "rules/missing.pdf" {
			return fmt.Errorf("open: %w", core.ErrNotFound)
		}
		return fmt.Errorf("corrupt: %w", core.ErrMalformed)
	})

	ctx := context.Background()
	require.NoError(t, broker.Publish(ctx, h.broker, crackRequest("rules/missing.pdf")))
	require.NoError(t, broker.Publish(ctx, h.broker, crackRequest("rules/corrupt.pdf")))

	require.Eventually(t, func() bool { return h.broker.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load(), "dropped messages are not retried")
	assert.Empty(t, h.broker.DeadLetters())
}

func TestConsumer_RetriesTransientThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	h := startConsumer(t, crackBinding, func(ctx context.Context, msg core.CrackDocument) error {
		if attempts.Add(1) < 3 {
			return fmt.Errorf("embedder: %w", core.ErrTransient)
		}
		return nil
	})

	require.NoError(t, broker.Publish(context.Background(), h.broker, crackRequest("rules/a.pdf")))

	require.Eventually(t, func() bool {
		return attempts.Load() == 3 && h.broker.Pending() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.broker.DeadLetters())
}

func TestConsumer_DeadLettersAfterMaxAttempts(t *testing.T) {
	var attempts atomic.Int32
	h := startConsumer(t, crackBinding, func(ctx context.Context, msg core.CrackDocument) error {
		attempts.Add(1)
		return errors.New("store unavailable")
	})

	require.NoError(t, broker.Publish(context.Background(), h.broker, crackRequest("rules/a.pdf")))

	require.Eventually(t, func() bool { return len(h.broker.DeadLetters()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())
	dead := h.broker.DeadLetters()[0]
	assert.Equal(t, "crack", dead.Queue)
	assert.Equal(t, 3, dead.Attempt)
	assert.Contains(t, dead.Reason, "store unavailable")
}

func TestConsumer_FatalStopsConsumer(t *testing.T) {
	h := startConsumer(t, crackBinding, func(ctx context.Context, msg core.CrackDocument) error {
		return fmt.Errorf("index schema: %w", core.ErrConfiguration)
	})

	require.NoError(t, broker.Publish(context.Background(), h.broker, crackRequest("rules/a.pdf")))

	select {
	case err := <-h.errc:
		assert.ErrorIs(t, err, core.ErrConfiguration)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on configuration error")
	}
	assert.Len(t, h.broker.DeadLetters(), 1)
}

func TestConsumer_CancellationStopsCleanly(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var finished atomic.Bool
	h := startConsumer(t, crackBinding, func(ctx context.Context, msg core.CrackDocument) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	})

	require.NoError(t, broker.Publish(context.Background(), h.broker, crackRequest("rules/a.pdf")))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	h.cancel()
	close(release)

	select {
	case err := <-h.errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.True(t, finished.Load(), "in-flight handler finishes within the grace period")
	assert.Zero(t, h.broker.Pending())
}

func TestConsumer_RolePartitionedRouting(t *testing.T) {
	b := memory.New(nil)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var userSeen, assistantSeen atomic.Int32
	for role, counter := range map[core.Role]*atomic.Int32{core.RoleUser: &userSeen, core.RoleAssistant: &assistantSeen} {
		binding := broker.Binding{
			Queue:       "conversation-" + string(role),
			RoutingKeys: []string{core.ConversationRoutingKey(role)},
		}
		c, err := broker.NewConsumer(b, binding, func(ctx context.Context, msg core.ConversationMessageReadyForEmbedding) error {
			if msg.Role != role {
				return fmt.Errorf("misrouted %s: %w", msg.Role, core.ErrConfiguration)
			}
			counter.Add(1)
			return nil
		}, fastOptions())
		require.NoError(t, err)
		require.NoError(t, c.Bind(ctx))
		go c.Serve()
	}

	for i, role := range []core.Role{core.RoleUser, core.RoleAssistant, core.RoleUser} {
		require.NoError(t, broker.Publish(ctx, b, core.ConversationMessageReadyForEmbedding{
			MessageID: int64(i + 1), GameID: 1, Role: role, Content: "turn",
		}))
	}

	require.Eventually(t, func() bool { return b.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), userSeen.Load())
	assert.Equal(t, int32(1), assistantSeen.Load())
	assert.Empty(t, b.DeadLetters())
}

func TestNewConsumer_Validation(t *testing.T) {
	b := memory.New(nil)
	defer b.Close()
	noop := func(context.Context, core.CrackDocument) error { return nil }

	_, err := broker.NewConsumer(b, broker.Binding{}, noop, broker.Options{})
	assert.ErrorIs(t, err, broker.ErrQueueRequired)

	_, err = broker.NewConsumer[core.CrackDocument](b, crackBinding, nil, broker.Options{})
	assert.ErrorIs(t, err, broker.ErrHandlerRequired)
}

func TestPublish_RejectsInvalidMessage(t *testing.T) {
	b := memory.New(nil)
	defer b.Close()
	err := broker.Publish(context.Background(), b, core.CrackDocument{})
	assert.ErrorIs(t, err, core.ErrMalformed)
}

func TestConsumer_BrokerClosingStreamIsAnError(t *testing.T) {
	h := startConsumer(t, crackBinding, func(ctx context.Context, msg core.CrackDocument) error {
		return nil
	})

	require.NoError(t, h.broker.Close())

	select {
	case err := <-h.errc:
		assert.ErrorIs(t, err, broker.ErrDeliveriesClosed)
		assert.ErrorIs(t, err, core.ErrTransient)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer kept serving a closed stream")
	}
}

func TestConsumer_HandlerPanicIsRetriedThenDeadLettered(t *testing.T) {
	var calls atomic.Int32
	h := startConsumer(t, crackBinding, func(ctx context.Context, msg core.CrackDocument) error {
		calls.Add(1)
		var tags map[string]string
		tags["ruleset"] = msg.RulesetID
		return nil
	})

	require.NoError(t, broker.Publish(context.Background(), h.broker, crackRequest("rules/a.pdf")))

	require.Eventually(t, func() bool { return len(h.broker.DeadLetters()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, h.broker.Pending(), "every attempt released its prefetch slot")
	assert.Contains(t, h.broker.DeadLetters()[0].Reason, "handler panicked")

	// The pool survived the panics and still serves the queue.
	require.NoError(t, broker.Publish(context.Background(), h.broker, crackRequest("rules/b.pdf")))
	require.Eventually(t, func() bool { return calls.Load() == 6 }, 2*time.Second, 5*time.Millisecond)
}

func TestConsumer_PanicDoesNotStallPrefetch(t *testing.T) {
	binding := crackBinding
	binding.Prefetch = 1
	var healthy atomic.Int32
	h := startConsumer(t, binding, func(ctx context.Context, msg core.CrackDocument) error {
		if msg.RelativePath == "rules/bad.pdf" {
			panic("corrupt state")
		}
		healthy.Add(1)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, broker.Publish(ctx, h.broker, crackRequest("rules/bad.pdf")))
	for _, path := range []string{"rules/a.pdf", "rules/b.pdf"} {
		require.NoError(t, broker.Publish(ctx, h.broker, crackRequest(path)))
	}

	require.Eventually(t, func() bool {
		return healthy.Load() == 2 && h.broker.Pending() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, h.broker.DeadLetters(), 1)
}
