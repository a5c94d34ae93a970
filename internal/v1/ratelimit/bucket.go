package ratelimit

import (
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Message-level token buckets, keyed by "<kind>_<userId>". Keying by the
// authenticated user rather than the socket prevents reconnection from
// resetting the bucket.

// KindConfig describes one bucket family.
type KindConfig struct {
	RefillPerSecond float64
	Burst           int
}

// DefaultKinds are the preconfigured bucket families.
var DefaultKinds = map[string]KindConfig{
	"ice_candidate": {RefillPerSecond: 50, Burst: 100},
	"game_event":    {RefillPerSecond: 5, Burst: 10},
}

// Buckets manages keyed token buckets with continuous refill.
type Buckets struct {
	mu    sync.Mutex
	kinds map[string]KindConfig
	limbs map[string]*rate.Limiter
}

func NewBuckets() *Buckets {
	return NewBucketsWithKinds(DefaultKinds)
}

// NewBucketsWithKinds builds a bucket set with custom kind configs, used by
// tests to keep rates small.
func NewBucketsWithKinds(kinds map[string]KindConfig) *Buckets {
	return &Buckets{
		kinds: kinds,
		limbs: make(map[string]*rate.Limiter),
	}
}

// Limited reports whether the kind has a bucket family at all. Unlimited
// kinds always pass TryConsume.
func (b *Buckets) Limited(kind string) bool {
	_, ok := b.kinds[kind]
	return ok
}

// TryConsume takes n tokens from the (kind, user) bucket, reporting false
// when insufficient. Unknown kinds are not limited.
func (b *Buckets) TryConsume(kind, userID string, n int) bool {
	cfg, ok := b.kinds[kind]
	if !ok {
		return true
	}

	b.mu.Lock()
	key := kind + "_" + userID
	lim, ok := b.limbs[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Burst)
		b.limbs[key] = lim
	}
	b.mu.Unlock()

	return lim.AllowN(timeNow(), n)
}

// Release drops every bucket belonging to a user, called on disconnect so
// idle buckets don't accumulate.
func (b *Buckets) Release(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	suffix := "_" + userID
	for key := range b.limbs {
		if strings.HasSuffix(key, suffix) {
			delete(b.limbs, key)
		}
	}
}
