package watch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/cloudsave/pkg/errors"
	"github.com/sidkik/cloudsave/pkg/notify"
	"github.com/sidkik/cloudsave/pkg/remote"
	"github.com/sidkik/cloudsave/pkg/sync"
)

const helpText = `Commands:
  push           Upload a backup now
  pull [backup]  Restore a backup, or the latest one if none is given
  list           List the stored backups, newest first
  delete BACKUP  Delete a stored backup
  status         Show what the watcher is doing
  quit           Stop watching`

// controller is the subset of sync.Controller used by the console.
type controller interface {
	TriggerUpload(ctx context.Context, automatic bool) error
	Restore(ctx context.Context, id remote.BackupID) error
	RestoreLatest(ctx context.Context) (remote.BackupID, error)
	List(ctx context.Context) ([]remote.BackupID, error)
	Delete(ctx context.Context, id remote.BackupID) error
	State() sync.State
	Paused() bool
	RemainingCooldown() time.Duration
}

// console reads commands from the terminal while the save directory is
// being watched.
type console struct {
	controller controller
	in         io.Reader
	out        io.Writer
	sink       *consoleSink
}

func newConsole(controller controller, in io.Reader, out io.Writer, sink *consoleSink) console {
	return console{controller: controller, in: in, out: out, sink: sink}
}

// Run handles commands until `quit`, the end of the input, or ctx is done.
func (c console) Run(ctx context.Context) {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if quit := c.handle(ctx, scanner.Text()); quit {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		log.WithError(err).Warn("Failed to read commands")
	}
}

// handle runs a single command line, and returns whether the console should
// exit.
func (c console) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	cmd, args := strings.ToLower(fields[0]), fields[1:]
	reported := c.sink.errorCount()

	var err error
	switch {
	case cmd == "quit" || cmd == "exit":
		return true
	case cmd == "help":
		fmt.Fprintln(c.out, helpText)
	case cmd == "push" && len(args) == 0:
		err = c.controller.TriggerUpload(ctx, false)
	case cmd == "pull" && len(args) == 0:
		_, err = c.controller.RestoreLatest(ctx)
	case cmd == "pull" && len(args) == 1:
		err = c.controller.Restore(ctx, remote.BackupID(args[0]))
	case cmd == "list" && len(args) == 0:
		err = c.list(ctx)
	case cmd == "delete" && len(args) == 1:
		id := remote.BackupID(args[0])
		if err = c.controller.Delete(ctx, id); err == nil {
			fmt.Fprintf(c.out, "Deleted %s.\n", id)
		}
	case cmd == "status" && len(args) == 0:
		c.status()
	case cmd == "push" || cmd == "pull" || cmd == "list" ||
		cmd == "delete" || cmd == "status":
		fmt.Fprintf(c.out, "Wrong arguments for `%s`.\n%s\n", cmd, helpText)
	default:
		fmt.Fprintf(c.out, "Unknown command %q. Type `help` to see the available commands.\n", cmd)
	}

	// Failed uploads and restores have already been shown by the sink.
	if err != nil && c.sink.errorCount() == reported {
		fmt.Fprintf(c.out, "Error: %s\n", errors.GetPrintableMessage(err))
	}
	return false
}

func (c console) list(ctx context.Context) error {
	ids, err := c.controller.List(ctx)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		fmt.Fprintln(c.out, "No backups.")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(c.out, id)
	}
	return nil
}

func (c console) status() {
	fmt.Fprintf(c.out, "State: %s\n", c.controller.State())
	fmt.Fprintf(c.out, "Paused: %t\n", c.controller.Paused())

	next := "now"
	if cooldown := c.controller.RemainingCooldown(); cooldown > 0 {
		next = fmt.Sprintf("in %s", cooldown.Round(time.Second))
	}
	fmt.Fprintf(c.out, "Next upload allowed: %s\n", next)
}

// consoleSink prints notifications to the terminal, since the logs go to a
// file while watching.
type consoleSink struct {
	out        io.Writer
	errorsSent atomic.Int64
}

// Notify implements notify.Sink.
func (s *consoleSink) Notify(n notify.Notification) {
	if n.Kind == notify.Error {
		s.errorsSent.Add(1)
		fmt.Fprintf(s.out, "Error: %s\n", n.Message)
		return
	}
	fmt.Fprintln(s.out, n.Message)
}

func (s *consoleSink) errorCount() int64 {
	return s.errorsSent.Load()
}
