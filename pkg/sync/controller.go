package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/cloudsave/pkg/archive"
	"github.com/sidkik/cloudsave/pkg/config"
	"github.com/sidkik/cloudsave/pkg/errors"
	"github.com/sidkik/cloudsave/pkg/notify"
	"github.com/sidkik/cloudsave/pkg/remote"
)

// fs is used for the temporary files that archives are staged in.
var fs = afero.NewOsFs()

// State is what the Controller is currently doing.
type State string

const (
	// Idle means no upload or restore is running.
	Idle State = "idle"

	// Uploading means an archive is being built or uploaded.
	Uploading State = "uploading"

	// Restoring means a backup is being downloaded or extracted.
	Restoring State = "restoring"
)

// Watcher is the file watcher that the Controller drives.
type Watcher interface {
	SetListener(func())
	Start(root string) error
	Stop()
	Pause()
	Resume() error
}

// StoreFactory creates the store described by the settings.
type StoreFactory func(config.Settings) (remote.Store, error)

// Controller coordinates the watcher with uploads and restores.
type Controller struct {
	settings config.Provider
	newStore StoreFactory
	watcher  Watcher
	sink     notify.Sink
	clock    clockwork.Clock
	throttle *UploadThrottle

	// signals holds at most one pending change. Changes that arrive while
	// one is already pending are merged into it.
	signals chan struct{}

	// opLock is held for the duration of every upload and restore.
	opLock sync.Mutex

	lock     sync.Mutex
	state    State
	paused   bool
	watching bool

	// restores counts the restores that have run.
	restores uint64
}

// New creates an idle Controller. A nil watcher disables change detection,
// which is used by one-shot commands.
func New(settings config.Provider, newStore StoreFactory, watcher Watcher,
	sink notify.Sink, clock clockwork.Clock) *Controller {
	if watcher == nil {
		watcher = nopWatcher{}
	}
	if sink == nil {
		sink = notify.Discard{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Controller{
		settings: settings,
		newStore: newStore,
		watcher:  watcher,
		sink:     sink,
		clock:    clock,
		throttle: NewUploadThrottle(clock),
		signals:  make(chan struct{}, 1),
		state:    Idle,
	}
}

// Run watches the save directory and uploads a backup for each change
// signal until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	settings, err := c.settings.Settings()
	if err != nil {
		return errors.WithContext(err, "read settings")
	}

	c.watcher.SetListener(c.OnChange)
	if err := c.watcher.Start(settings.SaveDir); err != nil {
		return errors.WithContext(err, "start watcher")
	}
	c.setWatching(true)
	defer func() {
		c.setWatching(false)
		c.watcher.Stop()
	}()
	log.WithField("dir", settings.SaveDir).Info("Watching save directory")

	if settings.Schedule != "" {
		scheduler, err := StartScheduler(settings.Schedule, c.post)
		if err != nil {
			return errors.WithContext(err, "start scheduler")
		}
		defer scheduler.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.signals:
			c.handleSignal(ctx)
		}
	}
}

// OnChange is the watcher's listener. It never blocks.
func (c *Controller) OnChange() {
	if c.isPaused() {
		log.Debug("Ignoring change while paused")
		return
	}
	c.post()
}

func (c *Controller) post() {
	select {
	case c.signals <- struct{}{}:
	default:
	}
}

func (c *Controller) handleSignal(ctx context.Context) {
	settings, err := c.settings.Settings()
	if err != nil {
		log.WithError(err).Error("Failed to read settings")
		return
	}

	// A restore that runs after the signal was dequeued replaces the
	// contents that the signal refers to.
	restores := c.restoreCount()

	// Give the game a moment to finish writing before archiving.
	if delay := settings.SettleDelay(); delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(delay):
		}
	}

	err = c.upload(ctx, true, restores)
	if _, ok := err.(ThrottledError); ok {
		log.WithError(err).Debug("Skipped automatic upload")
		return
	}

	switch err {
	case nil:
	case ErrNotConfigured:
		log.Debug("Skipped automatic upload because the remote isn't configured")
	default:
		// The user has already been notified.
		log.WithError(err).Debug("Automatic upload failed")
	}
}

// TriggerUpload archives the save directory and uploads it. Automatic
// uploads come from change signals, and manual uploads come from the user.
func (c *Controller) TriggerUpload(ctx context.Context, automatic bool) error {
	return c.upload(ctx, automatic, c.restoreCount())
}

// upload runs an upload unless it's automatic and a restore has finished
// since restores was read.
func (c *Controller) upload(ctx context.Context, automatic bool, restores uint64) error {
	c.opLock.Lock()
	defer c.opLock.Unlock()

	if automatic && c.restoreCount() != restores {
		log.Debug("Skipping upload for a change that happened before a restore")
		return nil
	}

	settings, err := c.settings.Settings()
	if err != nil {
		return errors.WithContext(err, "read settings")
	}

	if wait := c.throttle.Remaining(settings.UploadInterval()); wait > 0 {
		return ThrottledError{Wait: wait}
	}

	if !settings.Remote.Configured() {
		return ErrNotConfigured
	}

	store, err := c.newStore(settings)
	if err != nil {
		return c.fail("Backup failed", RemoteFailedError{Op: "connect", Err: err})
	}

	c.setState(Uploading)
	defer c.setState(Idle)

	staging, err := afero.TempDir(fs, "", "cloudsave-upload")
	if err != nil {
		return c.fail("Backup failed", errors.WithContext(err, "create staging directory"))
	}
	defer removeAll(staging)

	archivePath, err := archive.Build(settings.SaveDir, staging)
	if err != nil {
		return c.fail("Backup failed", err)
	}

	contents, err := afero.ReadFile(fs, archivePath)
	if err != nil {
		return c.fail("Backup failed", errors.WithContext(err, "read archive"))
	}

	id := remote.BackupID(archive.FolderName(archivePath))
	if err := store.Upload(ctx, id, contents); err != nil {
		return c.fail("Backup failed", RemoteFailedError{Op: "upload", Err: err})
	}

	c.throttle.Record()
	log.WithFields(log.Fields{
		"id":        id,
		"bytes":     len(contents),
		"automatic": automatic,
	}).Info("Uploaded backup")
	c.sink.Notify(notify.Notification{
		Kind:    notify.BackupSuccess,
		Message: fmt.Sprintf("Backed up your save as %s.", id),
	})
	return nil
}

// Restore replaces the save directory with the contents of the given
// backup. The watcher is paused while the directory is replaced.
func (c *Controller) Restore(ctx context.Context, id remote.BackupID) error {
	if err := remote.CheckID(id); err != nil {
		return err
	}

	c.opLock.Lock()
	defer c.opLock.Unlock()

	settings, store, err := c.connect()
	if err != nil {
		return err
	}

	c.setState(Restoring)
	defer c.setState(Idle)

	err = func() error {
		watching := c.pause()
		defer c.resume(watching)
		defer c.recordRestore()
		return c.restore(ctx, settings, store, id)
	}()
	if err != nil {
		return c.fail("Restore failed", err)
	}

	log.WithField("id", id).Info("Restored backup")
	c.sink.Notify(notify.Notification{
		Kind:    notify.RestoreSuccess,
		Message: fmt.Sprintf("Restored your save from %s.", id),
	})
	return nil
}

func (c *Controller) restore(ctx context.Context, settings config.Settings,
	store remote.Store, id remote.BackupID) error {
	contents, err := store.Download(ctx, id)
	if err != nil {
		return DownloadFailedError{ID: id, Err: err}
	}

	staging, err := afero.TempDir(fs, "", "cloudsave-restore")
	if err != nil {
		return errors.WithContext(err, "create staging directory")
	}
	defer removeAll(staging)

	archivePath := filepath.Join(staging, remote.ArchiveName(id))
	if err := afero.WriteFile(fs, archivePath, contents, 0644); err != nil {
		return errors.WithContext(err, "write archive")
	}

	// Don't delete the current saves for an archive that can't be extracted.
	if err := archive.Check(archivePath); err != nil {
		return err
	}

	if err := archive.DeleteDirectory(settings.SaveDir); err != nil {
		return errors.WithContext(err, "clear save directory")
	}
	return archive.Restore(archivePath, settings.SaveDir)
}

// RestoreLatest restores the most recent backup.
func (c *Controller) RestoreLatest(ctx context.Context) (remote.BackupID, error) {
	_, store, err := c.connect()
	if err != nil {
		return "", err
	}

	id, err := remote.Latest(ctx, store)
	if err != nil {
		if err == remote.ErrNoBackups {
			return "", err
		}
		return "", RemoteFailedError{Op: "list", Err: err}
	}
	return id, c.Restore(ctx, id)
}

// List returns the stored backups, newest first.
func (c *Controller) List(ctx context.Context) ([]remote.BackupID, error) {
	_, store, err := c.connect()
	if err != nil {
		return nil, err
	}

	ids, err := store.List(ctx)
	if err != nil {
		return nil, RemoteFailedError{Op: "list", Err: err}
	}
	remote.SortNewestFirst(ids)
	return ids, nil
}

// Delete removes a stored backup. The save directory isn't affected.
func (c *Controller) Delete(ctx context.Context, id remote.BackupID) error {
	if err := remote.CheckID(id); err != nil {
		return err
	}

	_, store, err := c.connect()
	if err != nil {
		return err
	}

	if err := store.Delete(ctx, id); err != nil {
		return RemoteFailedError{Op: "delete", Err: err}
	}
	log.WithField("id", id).Info("Deleted backup")
	return nil
}

// DeleteAll removes every stored backup, and returns the ones that were
// deleted.
func (c *Controller) DeleteAll(ctx context.Context) ([]remote.BackupID, error) {
	_, store, err := c.connect()
	if err != nil {
		return nil, err
	}

	deleted, err := remote.DeleteAll(ctx, store)
	if err != nil {
		return deleted, RemoteFailedError{Op: "delete", Err: err}
	}
	return deleted, nil
}

// RunStartupAction runs the action configured for when watching starts.
func (c *Controller) RunStartupAction(ctx context.Context) error {
	settings, err := c.settings.Settings()
	if err != nil {
		return errors.WithContext(err, "read settings")
	}

	switch settings.AutoAction {
	case config.AutoActionPull:
		id, err := c.RestoreLatest(ctx)
		if err == remote.ErrNoBackups {
			log.Info("No backups to restore on startup")
			return nil
		}
		if err != nil {
			return errors.WithContext(err, "restore latest backup")
		}
		log.WithField("id", id).Info("Restored latest backup on startup")
	case config.AutoActionPush:
		if err := c.TriggerUpload(ctx, false); err != nil {
			return errors.WithContext(err, "upload backup")
		}
	}
	return nil
}

// State returns what the Controller is currently doing.
func (c *Controller) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// Paused returns whether change signals are currently being ignored.
func (c *Controller) Paused() bool {
	return c.isPaused()
}

// RemainingCooldown returns how long until the next upload may start.
func (c *Controller) RemainingCooldown() time.Duration {
	settings, err := c.settings.Settings()
	if err != nil {
		return 0
	}
	return c.throttle.Remaining(settings.UploadInterval())
}

func (c *Controller) connect() (config.Settings, remote.Store, error) {
	settings, err := c.settings.Settings()
	if err != nil {
		return config.Settings{}, nil, errors.WithContext(err, "read settings")
	}

	if !settings.Remote.Configured() {
		return config.Settings{}, nil, ErrNotConfigured
	}

	store, err := c.newStore(settings)
	if err != nil {
		return config.Settings{}, nil, RemoteFailedError{Op: "connect", Err: err}
	}
	return settings, store, nil
}

// fail notifies the user about err, and returns it.
func (c *Controller) fail(prefix string, err error) error {
	log.WithError(err).Error(prefix)
	c.sink.Notify(notify.Notification{
		Kind:    notify.Error,
		Message: fmt.Sprintf("%s: %s", prefix, errors.GetPrintableMessage(err)),
	})
	return err
}

// pause stops delivering change signals. It returns whether the watcher was
// running, and so needs to be resumed.
func (c *Controller) pause() bool {
	c.lock.Lock()
	c.paused = true
	watching := c.watching
	c.lock.Unlock()

	if watching {
		c.watcher.Pause()
	}
	return watching
}

// resume undoes pause. The watcher is only resumed if Run is still using
// it, since Run stops the watcher when it returns.
func (c *Controller) resume(wasWatching bool) {
	c.lock.Lock()
	watching := wasWatching && c.watching
	c.lock.Unlock()

	if watching {
		if err := c.watcher.Resume(); err != nil {
			log.WithError(err).Error("Failed to resume watcher")
		}
	}

	// Drop any signal that was queued before the pause. It refers to the
	// directory contents that were just replaced.
	select {
	case <-c.signals:
	default:
	}

	c.lock.Lock()
	c.paused = false
	c.lock.Unlock()
}

func (c *Controller) recordRestore() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.restores++
}

func (c *Controller) restoreCount() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.restores
}

func (c *Controller) isPaused() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.paused
}

func (c *Controller) setWatching(watching bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.watching = watching
}

func (c *Controller) setState(state State) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.state = state
}

func removeAll(path string) {
	if err := fs.RemoveAll(path); err != nil {
		log.WithError(err).WithField("path", path).Warn("Failed to remove temporary directory")
	}
}

// nopWatcher is used when the Controller only runs one-shot operations.
type nopWatcher struct{}

func (nopWatcher) SetListener(func()) {}
func (nopWatcher) Start(string) error { return nil }
func (nopWatcher) Stop()              {}
func (nopWatcher) Pause()             {}
func (nopWatcher) Resume() error      { return nil }
