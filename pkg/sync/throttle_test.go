package sync

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestUploadThrottle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	throttle := NewUploadThrottle(clock)
	interval := 10 * time.Second

	assert.Zero(t, throttle.Remaining(interval))

	throttle.Record()
	assert.Equal(t, interval, throttle.Remaining(interval))

	clock.Advance(3 * time.Second)
	assert.Equal(t, 7*time.Second, throttle.Remaining(interval))

	// A shorter interval from a new settings snapshot applies immediately.
	assert.Zero(t, throttle.Remaining(2*time.Second))

	clock.Advance(7 * time.Second)
	assert.Zero(t, throttle.Remaining(interval))
}

func TestThrottledErrorMessage(t *testing.T) {
	err := ThrottledError{Wait: 6500 * time.Millisecond}
	assert.Equal(t, "uploaded too recently, retry after 7 seconds", err.Error())
	assert.Equal(t, "A backup was uploaded moments ago. Please retry after 7 seconds.",
		err.FriendlyMessage())
}
