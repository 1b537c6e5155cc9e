package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetAndGet(t *testing.T) {
	c := New[string](time.Minute, 0)

	c.Set("company-1", "payload")

	value, ok := c.Get("company-1")
	assert.True(t, ok)
	assert.Equal(t, "payload", value)

	_, ok = c.Get("company-2")
	assert.False(t, ok)
}

func TestExpiredEntryIsDroppedOnRead(t *testing.T) {
	c := New[int](10*time.Millisecond, 0)

	c.Set("key", 42)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("key")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestSetRefreshesExpiry(t *testing.T) {
	c := New[int](50*time.Millisecond, 0)

	c.Set("key", 1)
	time.Sleep(30 * time.Millisecond)
	c.Set("key", 2)
	time.Sleep(30 * time.Millisecond)

	value, ok := c.Get("key")
	assert.True(t, ok)
	assert.Equal(t, 2, value)
}

func TestInvalidate(t *testing.T) {
	c := New[string](time.Minute, 0)

	c.Set("key", "value")
	c.Invalidate("key")

	_, ok := c.Get("key")
	assert.False(t, ok)
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	c := New[string](10*time.Millisecond, 5*time.Millisecond)

	c.Set("a", "1")
	c.Set("b", "2")

	assert.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 10*time.Millisecond)
}
