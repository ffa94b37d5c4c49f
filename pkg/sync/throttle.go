package sync

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// UploadThrottle tracks when the last upload succeeded.
type UploadThrottle struct {
	clock clockwork.Clock

	lock         sync.Mutex
	lastUploadAt time.Time
	uploaded     bool
}

// NewUploadThrottle creates a throttle that hasn't seen any uploads yet.
func NewUploadThrottle(clock clockwork.Clock) *UploadThrottle {
	return &UploadThrottle{clock: clock}
}

// Remaining returns how long to wait before the next upload may start, given
// the minimum interval between uploads. It returns zero if an upload may
// start now.
func (t *UploadThrottle) Remaining(minInterval time.Duration) time.Duration {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.uploaded {
		return 0
	}

	elapsed := t.clock.Since(t.lastUploadAt)
	if elapsed >= minInterval {
		return 0
	}
	return minInterval - elapsed
}

// Record marks that an upload just succeeded.
func (t *UploadThrottle) Record() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.lastUploadAt = t.clock.Now()
	t.uploaded = true
}
