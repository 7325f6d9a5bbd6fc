package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientLimiterExhaustsBudget(t *testing.T) {
	l := NewClientLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d should pass", i+1)
	}
	assert.False(t, l.Allow("10.0.0.1"), "sixth request must be rejected")
}

func TestClientLimiterIsolatesClients(t *testing.T) {
	l := NewClientLimiter(1, time.Minute)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "a second client has its own budget")
	assert.Equal(t, 2, l.Clients())
}

func TestClientLimiterRefillsOverTime(t *testing.T) {
	l := NewClientLimiter(2, time.Second)

	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("c"))
	assert.True(t, l.Allow("c"))
	assert.False(t, l.Allow("c"))

	// One full window later both tokens are back.
	now = now.Add(time.Second)
	assert.True(t, l.Allow("c"))
	assert.True(t, l.Allow("c"))
	assert.False(t, l.Allow("c"))
}

func TestClientLimiterDegenerateConfig(t *testing.T) {
	l := NewClientLimiter(0, 0)

	assert.Equal(t, time.Minute, l.Window())
	assert.True(t, l.Allow("c"))
	assert.False(t, l.Allow("c"), "floor of one request per window")
}
