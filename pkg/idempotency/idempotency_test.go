package idempotency_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapcredits/zapcredits-backend/pkg/idempotency"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
	"github.com/zapcredits/zapcredits-backend/pkg/redis"
)

type memoryStore struct {
	values  map[string]string
	getErr  error
	setErr  error
	setHits int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	val, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return val, nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if m.setErr != nil {
		return false, m.setErr
	}
	m.setHits++
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "zc:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

type outcome struct {
	Result string `json:"result"`
}

func newTestGuard(t *testing.T, store redis.IdempotencyStore) *idempotency.Guard {
	t.Helper()
	guard, err := idempotency.NewGuard(store, "webhook:test", time.Hour, logger.New(logger.Options{ServiceName: "test"}))
	require.NoError(t, err)
	return guard
}

func TestRunOnceExecutesThenReplays(t *testing.T) {
	store := newMemoryStore()
	guard := newTestGuard(t, store)

	calls := 0
	handler := func(context.Context) (outcome, error) {
		calls++
		return outcome{Result: "credited"}, nil
	}

	first, replayed, err := idempotency.RunOnce(context.Background(), guard, "evt-1", handler)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "credited", first.Result)

	second, replayed, err := idempotency.RunOnce(context.Background(), guard, "evt-1", handler)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, "credited", second.Result)
	assert.Equal(t, 1, calls)
}

func TestRunOnceDistinctKeysRunIndependently(t *testing.T) {
	store := newMemoryStore()
	guard := newTestGuard(t, store)

	calls := 0
	handler := func(context.Context) (outcome, error) {
		calls++
		return outcome{Result: fmt.Sprintf("run-%d", calls)}, nil
	}

	_, _, err := idempotency.RunOnce(context.Background(), guard, "evt-1", handler)
	require.NoError(t, err)
	_, _, err = idempotency.RunOnce(context.Background(), guard, "evt-2", handler)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRunOnceHandlerFailureNotRecorded(t *testing.T) {
	store := newMemoryStore()
	guard := newTestGuard(t, store)

	calls := 0
	handler := func(context.Context) (outcome, error) {
		calls++
		if calls == 1 {
			return outcome{}, errors.New("db unavailable")
		}
		return outcome{Result: "credited"}, nil
	}

	_, _, err := idempotency.RunOnce(context.Background(), guard, "evt-1", handler)
	require.Error(t, err)

	result, replayed, err := idempotency.RunOnce(context.Background(), guard, "evt-1", handler)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "credited", result.Result)
	assert.Equal(t, 2, calls)
}

func TestRunOnceStoreFailureStillReturnsResult(t *testing.T) {
	store := newMemoryStore()
	store.getErr = errors.New("connection refused")
	store.setErr = errors.New("connection refused")
	guard := newTestGuard(t, store)

	result, replayed, err := idempotency.RunOnce(context.Background(), guard, "evt-1", func(context.Context) (outcome, error) {
		return outcome{Result: "credited"}, nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "credited", result.Result)
}

func TestRunOnceRequiresKey(t *testing.T) {
	guard := newTestGuard(t, newMemoryStore())

	_, _, err := idempotency.RunOnce(context.Background(), guard, "", func(context.Context) (outcome, error) {
		return outcome{}, nil
	})
	require.Error(t, err)
}

// blindStore never reports a stored record on lookup, simulating two
// deliveries racing through Get before either persists.
type blindStore struct{ *memoryStore }

func (b *blindStore) Get(context.Context, string) (string, error) {
	return "", redis.Nil
}

func TestRunOnceRacingDuplicatesBothRun(t *testing.T) {
	store := &blindStore{memoryStore: newMemoryStore()}
	guard := newTestGuard(t, store)

	calls := 0
	handler := func(context.Context) (outcome, error) {
		calls++
		return outcome{Result: fmt.Sprintf("run-%d", calls)}, nil
	}

	_, _, err := idempotency.RunOnce(context.Background(), guard, "evt-1", handler)
	require.NoError(t, err)
	_, _, err = idempotency.RunOnce(context.Background(), guard, "evt-1", handler)
	require.NoError(t, err)

	// Both raced deliveries run the handler; SetNX keeps the first record.
	assert.Equal(t, 2, calls)
	assert.Contains(t, store.values[store.IdempotencyKey("webhook:test", "evt-1")], "run-1")
}

func TestKeyFromPayloadIsStable(t *testing.T) {
	a := idempotency.KeyFromPayload([]byte(`{"id":"ch_1"}`))
	b := idempotency.KeyFromPayload([]byte(`{"id":"ch_1"}`))
	c := idempotency.KeyFromPayload([]byte(`{"id":"ch_2"}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
