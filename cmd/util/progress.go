package util

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ProgressPrinter prints a message followed by a dot every interval until
// it's stopped. It's used for operations that wait on the network.
type ProgressPrinter struct {
	out      io.Writer
	msg      string
	interval time.Duration
	clock    clockwork.Clock

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a ProgressPrinter. The printer starts when Run
// is called.
func NewProgressPrinter(out io.Writer, msg string) *ProgressPrinter {
	return &ProgressPrinter{
		out:      out,
		msg:      msg,
		interval: time.Second,
		clock:    clockwork.NewRealClock(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run prints until Stop is called.
func (pp *ProgressPrinter) Run() {
	defer close(pp.done)

	fmt.Fprint(pp.out, pp.msg)
	ticker := pp.clock.NewTicker(pp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			fmt.Fprint(pp.out, ".")
		case <-pp.stop:
			fmt.Fprintln(pp.out)
			return
		}
	}
}

// Stop stops printing, and waits for Run to return.
func (pp *ProgressPrinter) Stop() {
	pp.stopOnce.Do(func() { close(pp.stop) })
	<-pp.done
}
