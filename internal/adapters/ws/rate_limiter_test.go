package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCommandRateLimiterCapsWindow(t *testing.T) {
	rl := NewCommandRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("alice"), "attempt %d", i)
	}
	assert.False(t, rl.Allow("alice"))
}

func TestCommandRateLimiterTracksUsersIndependently(t *testing.T) {
	rl := NewCommandRateLimiter(1, time.Minute)

	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"))
}

func TestCommandRateLimiterWindowSlides(t *testing.T) {
	rl := NewCommandRateLimiter(1, 10*time.Millisecond)

	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))

	time.Sleep(15 * time.Millisecond)
	assert.True(t, rl.Allow("alice"))
}

func TestCommandRateLimiterDisabledWhenZero(t *testing.T) {
	rl := NewCommandRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("alice"))
	}
}

func TestCommandRateLimiterNilIsPermissive(t *testing.T) {
	var rl *CommandRateLimiter
	assert.True(t, rl.Allow("alice"))
}
