package cache_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/featuregate/internal/cache"
	"github.com/rafaeljc/featuregate/internal/testsupport"
)

const testChannel = "featuregate:test:changes"

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// collector records delivered notifications.
type collector struct {
	mu    sync.Mutex
	notes []cache.Notification
}

func (c *collector) handle(_ context.Context, n cache.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, n)
}

func (c *collector) snapshot() []cache.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cache.Notification(nil), c.notes...)
}

func TestRedisNotifier_PublishSubscribe(t *testing.T) {
	_, client := newMiniredisClient(t)
	notifier := cache.NewRedisNotifier(client, testChannel)
	assert.Equal(t, testChannel, notifier.Channel())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	sub, err := notifier.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	var got collector
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx, got.handle) }()

	note := cache.Notification{
		Origin:  "instance-a",
		FlagID:  "f1",
		Kind:    "updated",
		Version: 7,
		At:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	testsupport.AssertMetricDelta(t, "featuregate_propagation_published_total", map[string]string{"status": "success"}, 1, func() {
		require.NoError(t, notifier.Publish(ctx, note))
	})

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, note, got.snapshot()[0])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean stop")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRedisNotifier_DropsMalformedPayloads(t *testing.T) {
	mr, client := newMiniredisClient(t)
	notifier := cache.NewRedisNotifier(client, testChannel)

	sub, err := notifier.Subscribe(t.Context())
	require.NoError(t, err)
	defer sub.Close()

	var got collector
	go func() { _ = sub.Run(t.Context(), got.handle) }()

	testsupport.AssertMetricDeltaAsync(t, "featuregate_propagation_received_total", map[string]string{"status": "malformed"}, 2, func() {
		mr.Publish(testChannel, "not json")
		mr.Publish(testChannel, `{"flag_id":"f1"}`)
	})

	valid, err := json.Marshal(cache.Notification{Origin: "instance-b", FlagID: "f2"})
	require.NoError(t, err)
	mr.Publish(testChannel, string(valid))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "f2", got.snapshot()[0].FlagID)
}

func TestRedisNotifier_PublishFailure(t *testing.T) {
	mr, client := newMiniredisClient(t)
	notifier := cache.NewRedisNotifier(client, testChannel)
	mr.Close()

	testsupport.AssertMetricDelta(t, "featuregate_propagation_published_total", map[string]string{"status": "failure"}, 1, func() {
		err := notifier.Publish(t.Context(), cache.Notification{Origin: "a", FlagID: "f1"})
		assert.Error(t, err)
	})
}

func TestRedisNotifier_SubscribeFailure(t *testing.T) {
	mr, client := newMiniredisClient(t)
	notifier := cache.NewRedisNotifier(client, testChannel)
	mr.Close()

	_, err := notifier.Subscribe(t.Context())
	assert.Error(t, err)
}

func TestNewRedisNotifier_Guards(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { cache.NewRedisNotifier(nil, testChannel) })
	assert.Panics(t, func() { cache.NewRedisNotifier(redis.NewClient(&redis.Options{}), "") })
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "valid", payload: `{"origin":"a","flag_id":"f1","kind":"deleted","version":3}`},
		{name: "not json", payload: "garbage", wantErr: true},
		{name: "missing origin", payload: `{"flag_id":"f1"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			note, err := cache.Decode(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a", note.Origin)
			assert.Equal(t, "deleted", note.Kind)
			assert.Equal(t, int64(3), note.Version)
		})
	}
}
