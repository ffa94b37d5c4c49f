package sync

import (
	"fmt"
	"math"
	"time"

	"github.com/sidkik/cloudsave/pkg/errors"
	"github.com/sidkik/cloudsave/pkg/remote"
)

// ErrNotConfigured is returned when an operation needs the remote store,
// but the settings don't identify one.
var ErrNotConfigured = errors.NewFriendlyError("The remote store isn't configured. " +
	"Please run `cloudsave config` to set it up.")

// ThrottledError is returned when an upload is attempted before the upload
// interval has passed since the last successful upload.
type ThrottledError struct {
	Wait time.Duration
}

func (err ThrottledError) Error() string {
	return fmt.Sprintf("uploaded too recently, retry after %d seconds", err.seconds())
}

// FriendlyMessage returns the message shown to users that trigger an upload
// manually.
func (err ThrottledError) FriendlyMessage() string {
	return fmt.Sprintf("A backup was uploaded moments ago. Please retry after %d seconds.",
		err.seconds())
}

func (err ThrottledError) seconds() int {
	return int(math.Ceil(err.Wait.Seconds()))
}

// RemoteFailedError is returned when the remote store rejects an operation.
type RemoteFailedError struct {
	Op  string
	Err error
}

func (err RemoteFailedError) Error() string {
	return fmt.Sprintf("remote %s failed: %s", err.Op, err.Err)
}

func (err RemoteFailedError) Unwrap() error {
	return err.Err
}

// DownloadFailedError is returned when a backup can't be fetched for a
// restore.
type DownloadFailedError struct {
	ID  remote.BackupID
	Err error
}

func (err DownloadFailedError) Error() string {
	return fmt.Sprintf("download backup %s: %s", err.ID, err.Err)
}

func (err DownloadFailedError) Unwrap() error {
	return err.Err
}
