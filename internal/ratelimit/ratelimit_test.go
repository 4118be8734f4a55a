package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New(60, time.Minute)
	for i := 0; i < 60; i++ {
		assert.True(t, l.Allow("agent-1"), "call %d should be allowed", i)
	}
	assert.False(t, l.Allow("agent-1"), "61st call in the same window should be rejected")
}

func TestAllowIsPerKey(t *testing.T) {
	l := New(1, time.Minute)
	assert.True(t, l.Allow("agent-1"))
	assert.True(t, l.Allow("agent-2"))
	assert.False(t, l.Allow("agent-1"))
}
