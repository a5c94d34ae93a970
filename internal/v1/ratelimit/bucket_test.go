package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fixClock pins the package clock for deterministic refill behavior and
// restores it on cleanup.
func fixClock(t *testing.T, at time.Time) func(d time.Duration) {
	t.Helper()
	current := at
	timeNow = func() time.Time { return current }
	t.Cleanup(func() { timeNow = time.Now })
	return func(d time.Duration) { current = current.Add(d) }
}

func TestTryConsumeBurst(t *testing.T) {
	fixClock(t, time.Unix(1700000000, 0))
	b := NewBucketsWithKinds(map[string]KindConfig{
		"game_event": {RefillPerSecond: 5, Burst: 10},
	})

	for i := 0; i < 10; i++ {
		assert.True(t, b.TryConsume("game_event", "u1", 1), "burst token %d", i)
	}
	assert.False(t, b.TryConsume("game_event", "u1", 1), "burst exhausted")
}

func TestTryConsumeRefill(t *testing.T) {
	advance := fixClock(t, time.Unix(1700000000, 0))
	b := NewBucketsWithKinds(map[string]KindConfig{
		"game_event": {RefillPerSecond: 5, Burst: 10},
	})

	for i := 0; i < 10; i++ {
		b.TryConsume("game_event", "u1", 1)
	}
	assert.False(t, b.TryConsume("game_event", "u1", 1))

	// 5/s refill: one second restores five tokens.
	advance(time.Second)
	for i := 0; i < 5; i++ {
		assert.True(t, b.TryConsume("game_event", "u1", 1), "refilled token %d", i)
	}
	assert.False(t, b.TryConsume("game_event", "u1", 1))
}

func TestBucketsAreKeyedPerUser(t *testing.T) {
	fixClock(t, time.Unix(1700000000, 0))
	b := NewBucketsWithKinds(map[string]KindConfig{
		"game_event": {RefillPerSecond: 1, Burst: 1},
	})

	assert.True(t, b.TryConsume("game_event", "u1", 1))
	assert.False(t, b.TryConsume("game_event", "u1", 1))
	assert.True(t, b.TryConsume("game_event", "u2", 1), "u2 has its own bucket")
}

func TestUnlimitedKindsAlwaysPass(t *testing.T) {
	b := NewBuckets()
	assert.False(t, b.Limited("webrtc_offer"))
	for i := 0; i < 1000; i++ {
		assert.True(t, b.TryConsume("webrtc_offer", "u1", 1))
	}
}

func TestDefaultKindsConfigured(t *testing.T) {
	b := NewBuckets()
	assert.True(t, b.Limited("ice_candidate"))
	assert.True(t, b.Limited("game_event"))
}

func TestRelease(t *testing.T) {
	fixClock(t, time.Unix(1700000000, 0))
	b := NewBucketsWithKinds(map[string]KindConfig{
		"game_event": {RefillPerSecond: 1, Burst: 1},
	})

	assert.True(t, b.TryConsume("game_event", "u1", 1))
	assert.False(t, b.TryConsume("game_event", "u1", 1))

	// Release discards the drained bucket; the next consume starts fresh.
	b.Release("u1")
	assert.True(t, b.TryConsume("game_event", "u1", 1))
}
