package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/cloudsave/pkg/errors"
)

// Mocked out for unit testing.
var (
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// HandleFatalError handles errors that are severe enough to terminate the
// program.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(stderr, errors.GetPrintableMessage(err))
	exit(1)
}

// HandlePanic logs the stack trace of a panic before exiting. It must be
// deferred directly.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithFields(log.Fields{
			"panic": r,
			"stack": string(debug.Stack()),
		}).Error("Unexpected panic")
		fmt.Fprintf(stderr, "cloudsave crashed unexpectedly: %v\n", r)
		exit(1)
	}
}
