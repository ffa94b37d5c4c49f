package fswatch

import (
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/cloudsave/pkg/errors"
)

type fakeDirWatcher struct {
	added []string
}

func (w *fakeDirWatcher) Add(path string) error {
	w.added = append(w.added, path)
	return nil
}

func TestGetDirsToWatch(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	for _, dir := range []string{"/saves/slot1", "/saves/slot2/extra"} {
		require.NoError(t, fs.MkdirAll(dir, 0755))
	}
	for _, file := range []string{"/saves/settings.dat", "/saves/slot1/save.dat"} {
		require.NoError(t, afero.WriteFile(fs, file, []byte("save"), 0644))
	}

	dirs, err := getDirsToWatch("/saves")
	assert.NoError(t, err)

	sort.Strings(dirs)
	assert.Equal(t, []string{"/saves", "/saves/slot1", "/saves/slot2", "/saves/slot2/extra"}, dirs)
}

func TestHandleEvent(t *testing.T) {
	tests := []struct {
		name     string
		event    fsnotify.Event
		expFired bool
		expAdded []string
	}{
		{
			name:     "File created",
			event:    fsnotify.Event{Name: "/saves/save.dat", Op: fsnotify.Create},
			expFired: true,
		},
		{
			name:     "File written",
			event:    fsnotify.Event{Name: "/saves/slot1/save.dat", Op: fsnotify.Write},
			expFired: true,
		},
		{
			name:     "File removed",
			event:    fsnotify.Event{Name: "/saves/old.dat", Op: fsnotify.Remove},
			expFired: true,
		},
		{
			name:     "File renamed",
			event:    fsnotify.Event{Name: "/saves/old.dat", Op: fsnotify.Rename},
			expFired: true,
		},
		{
			name:  "Chmod is ignored",
			event: fsnotify.Event{Name: "/saves/save.dat", Op: fsnotify.Chmod},
		},
		{
			name:     "Directory created",
			event:    fsnotify.Event{Name: "/saves/slot2", Op: fsnotify.Create},
			expAdded: []string{"/saves/slot2", "/saves/slot2/nested"},
		},
		{
			name:  "Watched directory removed",
			event: fsnotify.Event{Name: "/saves/slot1", Op: fsnotify.Remove},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			fs = afero.NewMemMapFs()
			defer func() { fs = afero.NewOsFs() }()
			require.NoError(t, fs.MkdirAll("/saves/slot1", 0755))
			require.NoError(t, fs.MkdirAll("/saves/slot2/nested", 0755))
			require.NoError(t, afero.WriteFile(fs, "/saves/save.dat", []byte("save"), 0644))

			w := New(NewDebounceGate(0, clockwork.NewFakeClock()))
			w.dirs = map[string]struct{}{"/saves": {}, "/saves/slot1": {}}

			var fired bool
			w.SetListener(func() { fired = true })

			dirWatcher := &fakeDirWatcher{}
			w.handleEvent(dirWatcher, test.event)
			assert.Equal(t, test.expFired, fired)

			sort.Strings(dirWatcher.added)
			assert.Equal(t, test.expAdded, dirWatcher.added)
		})
	}
}

func TestHandleEventForgetsRemovedSubtree(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	w := New(NewDebounceGate(0, clockwork.NewFakeClock()))
	w.dirs = map[string]struct{}{
		"/saves":             {},
		"/saves/slot1":       {},
		"/saves/slot1/inner": {},
		"/saves/slot10":      {},
	}

	w.handleEvent(&fakeDirWatcher{}, fsnotify.Event{Name: "/saves/slot1", Op: fsnotify.Remove})
	assert.Equal(t, map[string]struct{}{"/saves": {}, "/saves/slot10": {}}, w.dirs)
}

func TestHandleEventDebounces(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	clock := clockwork.NewFakeClock()
	w := New(NewDebounceGate(2*time.Second, clock))

	var signals int
	w.SetListener(func() { signals++ })

	write := fsnotify.Event{Name: "/saves/save.dat", Op: fsnotify.Write}
	for i := 0; i < 5; i++ {
		w.handleEvent(&fakeDirWatcher{}, write)
		clock.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, 1, signals)

	clock.Advance(2 * time.Second)
	w.handleEvent(&fakeDirWatcher{}, write)
	assert.Equal(t, 2, signals)
}

func TestStartMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	err := New(nil).Start(root)
	assert.Equal(t, errors.FileNotFound{Path: root}, err)
}

func TestStopWhenNotRunning(t *testing.T) {
	w := New(nil)
	w.Stop()
	w.Pause()
	assert.False(t, w.IsRunning())
	assert.Error(t, w.Resume())
}

func TestWatch(t *testing.T) {
	root := t.TempDir()
	w := New(NewDebounceGate(0, nil))

	var signals int32
	w.SetListener(func() { atomic.AddInt32(&signals, 1) })

	require.NoError(t, w.Start(root))
	defer w.Stop()
	assert.True(t, w.IsRunning())

	// Restarting replaces the subscription.
	require.NoError(t, w.Start(root))
	assert.True(t, w.IsRunning())

	require.NoError(t, afero.WriteFile(afero.NewOsFs(), filepath.Join(root, "save.dat"), []byte("1"), 0644))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&signals) > 0 },
		5*time.Second, 10*time.Millisecond)

	// No signals are delivered while paused.
	w.Pause()
	assert.False(t, w.IsRunning())
	atomic.StoreInt32(&signals, 0)
	require.NoError(t, afero.WriteFile(afero.NewOsFs(), filepath.Join(root, "paused.dat"), []byte("2"), 0644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&signals))

	require.NoError(t, w.Resume())
	assert.True(t, w.IsRunning())
	require.NoError(t, w.Resume())

	require.NoError(t, afero.WriteFile(afero.NewOsFs(), filepath.Join(root, "resumed.dat"), []byte("3"), 0644))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&signals) > 0 },
		5*time.Second, 10*time.Millisecond)
}

func TestWatchNewSubdirectory(t *testing.T) {
	root := t.TempDir()
	w := New(NewDebounceGate(0, nil))

	var signals int32
	w.SetListener(func() { atomic.AddInt32(&signals, 1) })
	require.NoError(t, w.Start(root))
	defer w.Stop()

	osFs := afero.NewOsFs()
	slot := filepath.Join(root, "slot1")
	require.NoError(t, osFs.Mkdir(slot, 0755))
	assert.Eventually(t, func() bool { return w.isWatchedDir(slot) },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&signals))

	require.NoError(t, afero.WriteFile(osFs, filepath.Join(slot, "save.dat"), []byte("1"), 0644))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&signals) > 0 },
		5*time.Second, 10*time.Millisecond)
}
