// Package notify tells the user about the outcome of backups and restores.
// Sinks are best effort: failures to deliver a notification are logged and
// never returned.
package notify

import (
	"github.com/gen2brain/beeep"
	log "github.com/sirupsen/logrus"
)

// Kind is the category of a notification.
type Kind string

const (
	// BackupSuccess is sent after an archive is uploaded.
	BackupSuccess Kind = "backup-success"

	// RestoreSuccess is sent after a backup is extracted into the save
	// directory.
	RestoreSuccess Kind = "restore-success"

	// Error is sent when an operation fails.
	Error Kind = "error"
)

// Notification is a single message for the user.
type Notification struct {
	Kind    Kind
	Message string
}

// Sink delivers notifications.
type Sink interface {
	Notify(Notification)
}

// Log writes notifications to the logger.
type Log struct{}

// Notify implements Sink.
func (Log) Notify(n Notification) {
	entry := log.WithField("kind", n.Kind)
	if n.Kind == Error {
		entry.Error(n.Message)
		return
	}
	entry.Info(n.Message)
}

// Mocked out for unit testing.
var desktopNotify = func(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Desktop shows notifications with the operating system's notification
// center.
type Desktop struct{}

// Notify implements Sink.
func (Desktop) Notify(n Notification) {
	if err := desktopNotify(title(n.Kind), n.Message); err != nil {
		log.WithError(err).Debug("Failed to show desktop notification")
	}
}

func title(kind Kind) string {
	switch kind {
	case BackupSuccess:
		return "Save backed up"
	case RestoreSuccess:
		return "Save restored"
	default:
		return "Cloud save error"
	}
}

// Multi sends each notification to every sink.
type Multi []Sink

// Notify implements Sink.
func (sinks Multi) Notify(n Notification) {
	for _, sink := range sinks {
		sink.Notify(n)
	}
}

// Discard drops every notification.
type Discard struct{}

// Notify implements Sink.
func (Discard) Notify(Notification) {}
