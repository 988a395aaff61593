// Package revocation records the moment a user's outstanding access tokens stopped being
// valid. Tokens issued at or before that moment are rejected until they would have expired
// anyway, so entries only live as long as the token TTL.
package revocation

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	id "insureflow/pkg/domain"
	"insureflow/pkg/requestcontext"
)

var revokedLookupDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "insureflow_token_revocation_lookup_duration_ms",
	Help:    "Latency of per-user token revocation lookups in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

// Revoked reports whether a token issued at issuedAt falls under a cutoff. JWT issue times
// carry whole seconds, so the cutoff is compared at the same precision.
func Revoked(issuedAt, cutoff time.Time) bool {
	return !issuedAt.After(cutoff.Truncate(time.Second))
}

// RedisList keeps per-user cutoffs in Redis so every instance sees a suspension.
type RedisList struct {
	client *redis.Client
	prefix string
}

func NewRedisList(client *redis.Client, prefix string) *RedisList {
	return &RedisList{client: client, prefix: prefix}
}

// RevokeUser stores at as the user's cutoff for ttl. A later cutoff replaces an earlier one.
func (l *RedisList) RevokeUser(ctx context.Context, userID id.UserID, at time.Time, ttl time.Duration) error {
	return l.client.Set(ctx, l.prefix+userID.String(), at.UnixNano(), ttl).Err()
}

// RevokedAt returns the user's cutoff. ok is false when none is recorded.
func (l *RedisList) RevokedAt(ctx context.Context, userID id.UserID) (time.Time, bool, error) {
	start := time.Now()
	defer func() {
		revokedLookupDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	raw, err := l.client.Get(ctx, l.prefix+userID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(0, nanos), true, nil
}

type memoryEntry struct {
	at        time.Time
	expiresAt time.Time
}

// MemoryList is the in-process list for tests and single-instance runs.
type MemoryList struct {
	mu      sync.Mutex
	entries map[id.UserID]memoryEntry
}

func NewMemoryList() *MemoryList {
	return &MemoryList{entries: make(map[id.UserID]memoryEntry)}
}

func (l *MemoryList) RevokeUser(ctx context.Context, userID id.UserID, at time.Time, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[userID] = memoryEntry{at: at, expiresAt: requestcontext.Now(ctx).Add(ttl)}
	return nil
}

func (l *MemoryList) RevokedAt(ctx context.Context, userID id.UserID) (time.Time, bool, error) {
	now := requestcontext.Now(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[userID]
	if !ok {
		return time.Time{}, false, nil
	}
	if !now.Before(e.expiresAt) {
		delete(l.entries, userID)
		return time.Time{}, false, nil
	}
	return e.at, true, nil
}
