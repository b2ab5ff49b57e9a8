package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zapcredits/zapcredits-backend/pkg/logger"
	"github.com/zapcredits/zapcredits-backend/pkg/redis"
)

// Guard deduplicates externally triggered side effects by key. The first call
// for a key inside the TTL window runs the handler and persists its result;
// replays return the stored result without re-invoking the handler, across
// process instances sharing the same store.
type Guard struct {
	store redis.IdempotencyStore
	logg  *logger.Logger
	scope string
	ttl   time.Duration
}

// NewGuard builds a guard scoped to one consumer (e.g. "webhook:pixintegra").
func NewGuard(store redis.IdempotencyStore, scope string, ttl time.Duration, logg *logger.Logger) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, logg: logg, scope: scope, ttl: ttl}, nil
}

// KeyFromPayload derives a stable key from a raw notification body, used when
// the caller supplies no explicit idempotency key.
func KeyFromPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// RunOnce executes handler at most once per key within the guard's TTL window.
// The second return value reports whether the result was replayed from the
// store. Handler failures are not recorded, so a retried delivery gets a fresh
// attempt. Persisting the record is best-effort: on store failure the handler
// result is still returned and a warning is logged, since the order-level
// terminal-state checks remain as the second line of defense.
//
// Deduplication covers sequential duplicates only. Two deliveries of the same
// key racing through the lookup-run-persist sequence can both run the handler
// (SetNX keeps the winner's record); callers must keep their handlers safe to
// run twice, which the order-row terminal check provides here.
func RunOnce[R any](ctx context.Context, g *Guard, key string, handler func(context.Context) (R, error)) (R, bool, error) {
	var zero R
	if g == nil {
		return zero, false, errors.New("guard is required")
	}
	if key == "" {
		return zero, false, errors.New("idempotency key is required")
	}

	storeKey := g.store.IdempotencyKey(g.scope, key)

	stored, err := g.store.Get(ctx, storeKey)
	switch {
	case err == nil && stored != "":
		var replayed R
		if decodeErr := json.Unmarshal([]byte(stored), &replayed); decodeErr != nil {
			return zero, false, fmt.Errorf("decode idempotency record: %w", decodeErr)
		}
		return replayed, true, nil
	case err != nil && !errors.Is(err, redis.Nil):
		g.warn(ctx, "idempotency lookup failed", err)
	}

	result, err := handler(ctx)
	if err != nil {
		return zero, false, err
	}

	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		g.warn(ctx, "marshal idempotency record", marshalErr)
		return result, false, nil
	}
	if _, setErr := g.store.SetNX(ctx, storeKey, string(payload), g.ttl); setErr != nil {
		g.warn(ctx, "persist idempotency record", setErr)
	}
	return result, false, nil
}

func (g *Guard) warn(ctx context.Context, msg string, err error) {
	if g.logg == nil {
		return
	}
	ctx = g.logg.WithField(ctx, "error", err.Error())
	g.logg.Warn(ctx, msg)
}
