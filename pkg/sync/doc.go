/*
The sync package keeps the save directory backed up to a remote store.

The Controller owns the file watcher. Each debounced change signal from the
watcher is posted onto a single-slot channel, which the Controller drains in
Run. Draining a signal uploads a fresh archive of the save directory, unless
the previous upload finished less than the upload interval ago.

Uploads and restores are serialized by a single lock, so that a restore
never deletes files that an upload is still archiving. While a restore
replaces the save directory, the watcher is paused so that the restore's own
writes don't trigger an upload. The watcher is always resumed afterwards,
even if the restore fails.

Archives only contain files. Empty directories aren't backed up.
*/
package sync
