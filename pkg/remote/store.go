// Package remote defines the contract for stores that hold backups, and the
// helpers that the sync controller builds on top of it.
package remote

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/cloudsave/pkg/archive"
	"github.com/sidkik/cloudsave/pkg/errors"
)

// BackupID names a backup. It's the timestamp of the archive's folder, so
// lexicographic order matches chronological order.
type BackupID string

// ErrNoBackups is returned when an operation needs at least one backup but
// the store is empty.
var ErrNoBackups = errors.NewFriendlyError("No backups were found in the remote store.")

// Store holds backups. Implementations retry transient network failures
// themselves, so callers don't retry errors returned by a Store.
type Store interface {
	// Upload stores the archive contents under the given id, replacing any
	// archive already stored under it.
	Upload(ctx context.Context, id BackupID, contents []byte) error

	// List returns the ids of every stored backup, newest first.
	List(ctx context.Context) ([]BackupID, error)

	// Download returns the contents of the archive stored under id.
	Download(ctx context.Context, id BackupID) ([]byte, error)

	// Delete removes the backup stored under id.
	Delete(ctx context.Context, id BackupID) error
}

// ParseID returns the BackupID for the folder called name, or false if name
// isn't a backup folder.
func ParseID(name string) (BackupID, bool) {
	if _, err := time.Parse(archive.TimestampLayout, name); err != nil {
		return "", false
	}
	return BackupID(name), true
}

// CheckID returns an error unless id names a backup folder. Stores call it
// before touching any path derived from an id, so an empty or malformed id
// can never address the root of the store.
func CheckID(id BackupID) error {
	if _, ok := ParseID(string(id)); !ok {
		return errors.NewFriendlyError("%q isn't a backup id. "+
			"Run `cloudsave list` to see the stored backups.", id)
	}
	return nil
}

// ArchiveName returns the name of the archive file inside the backup's
// folder.
func ArchiveName(id BackupID) string {
	return fmt.Sprintf("backup_%s.zip", id)
}

// ArchivePath returns the slash-separated path of the backup's archive
// relative to the root of the store.
func ArchivePath(id BackupID) string {
	return fmt.Sprintf("%s/%s", id, ArchiveName(id))
}

// SortNewestFirst sorts ids in place so that the most recent backup comes
// first.
func SortNewestFirst(ids []BackupID) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] > ids[j]
	})
}

// Latest returns the most recent backup in the store.
func Latest(ctx context.Context, store Store) (BackupID, error) {
	ids, err := store.List(ctx)
	if err != nil {
		return "", errors.WithContext(err, "list backups")
	}
	if len(ids) == 0 {
		return "", ErrNoBackups
	}

	// Don't trust the store to return a sorted list.
	SortNewestFirst(ids)
	return ids[0], nil
}

// DeleteAll removes every backup in the store. It stops at the first
// failure, and returns the ids that were deleted before it.
func DeleteAll(ctx context.Context, store Store) (deleted []BackupID, err error) {
	ids, err := store.List(ctx)
	if err != nil {
		return nil, errors.WithContext(err, "list backups")
	}

	for _, id := range ids {
		if err := store.Delete(ctx, id); err != nil {
			return deleted, errors.WithContext(err, fmt.Sprintf("delete %s", id))
		}
		log.WithField("id", id).Info("Deleted backup")
		deleted = append(deleted, id)
	}
	return deleted, nil
}
