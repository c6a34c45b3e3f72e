package fakeclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdvance(t *testing.T) {
	c := New()
	var fired []string

	c.AfterFunc(20*time.Millisecond, func() { fired = append(fired, "b") })
	c.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "a") })
	stop := c.AfterFunc(15*time.Millisecond, func() { fired = append(fired, "stopped") })

	assert.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond, 20 * time.Millisecond}, c.Pending())
	assert.True(t, stop())
	assert.False(t, stop())

	c.Advance(9 * time.Millisecond)
	assert.Empty(t, fired)

	c.Advance(11 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 20*time.Millisecond, c.Now())
	assert.Empty(t, c.Pending())
}

func TestAdvanceFiresRescheduledTimers(t *testing.T) {
	c := New()
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3500 * time.Millisecond)
	assert.Equal(t, 3, ticks)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, c.Pending())
}

func TestStopAfterFire(t *testing.T) {
	c := New()
	stop := c.AfterFunc(time.Millisecond, func() {})
	c.Advance(time.Millisecond)
	assert.False(t, stop())
}
