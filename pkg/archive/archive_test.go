package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/cloudsave/pkg/errors"
)

var buildTime = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T, files map[string]string) {
	fs = afero.NewMemMapFs()
	now = func() time.Time { return buildTime }
	copyFile = copyFileImpl
	t.Cleanup(func() {
		fs = afero.NewOsFs()
		now = time.Now
		copyFile = copyFileImpl
	})

	for path, contents := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, afero.WriteFile(fs, path, []byte(contents), 0644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	tree := map[string]string{}
	err := afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		require.NoError(t, err)
		if fi.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(root, path)
		require.NoError(t, err)
		contents, err := afero.ReadFile(fs, path)
		require.NoError(t, err)
		tree[filepath.ToSlash(relPath)] = string(contents)
		return nil
	})
	require.NoError(t, err)
	return tree
}

func zipEntries(t *testing.T, archivePath string) []string {
	contents, err := afero.ReadFile(fs, archivePath)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(contents), int64(len(contents)))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		assert.Equal(t, zip.Deflate, f.Method)
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestBuildLayout(t *testing.T) {
	setup(t, map[string]string{
		"/saves/settings.dat":     "settings",
		"/saves/slot1/save.dat":   "slot one",
		"/saves/slot1/thumb.png":  "png",
		"/saves/slot2/deep/x.dat": "x",
	})

	archivePath, err := Build("/saves", "/out")
	require.NoError(t, err)
	assert.Equal(t, "/out/2024-01-02_10-00-00/backup_2024-01-02_10-00-00.zip", archivePath)
	assert.Equal(t, "2024-01-02_10-00-00", FolderName(archivePath))

	assert.Equal(t, []string{"settings.dat", "slot1/save.dat", "slot1/thumb.png", "slot2/deep/x.dat"},
		zipEntries(t, archivePath))

	// The staging directory is cleaned up.
	tmpEntries, err := afero.ReadDir(fs, os.TempDir())
	if err == nil {
		assert.Empty(t, tmpEntries)
	}
}

func TestRoundTrip(t *testing.T) {
	files := map[string]string{
		"/saves/settings.dat":     "settings",
		"/saves/slot1/save.dat":   "slot one",
		"/saves/slot2/deep/x.dat": string([]byte{0, 1, 2, 3, 255}),
		"/saves/empty.dat":        "",
	}
	setup(t, files)

	archivePath, err := Build("/saves", "/out")
	require.NoError(t, err)

	require.NoError(t, Restore(archivePath, "/restored"))
	assert.Equal(t, readTree(t, "/saves"), readTree(t, "/restored"))
}

func TestBuildSkipsLockedFiles(t *testing.T) {
	setup(t, map[string]string{
		"/saves/slot1/save.dat": "slot one",
		"/saves/locked.dat":     "in use",
		"/saves/settings.dat":   "settings",
	})

	copyFile = func(src, dst string) error {
		if src == "/saves/locked.dat" {
			return errors.New("The process cannot access the file because it is being used by another process")
		}
		return copyFileImpl(src, dst)
	}

	hook := logrusTest.NewGlobal()
	defer hook.Reset()

	archivePath, err := Build("/saves", "/out")
	require.NoError(t, err)
	assert.Equal(t, []string{"settings.dat", "slot1/save.dat"}, zipEntries(t, archivePath))

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["path"] == "/saves/locked.dat" {
			warned = true
		}
	}
	assert.True(t, warned, "locked file should be logged")
}

func TestBuildErrors(t *testing.T) {
	t.Run("Missing source", func(t *testing.T) {
		setup(t, nil)
		_, err := Build("/saves", "/out")
		assert.IsType(t, SourceUnreadableError{}, err)
	})

	t.Run("Source is a file", func(t *testing.T) {
		setup(t, map[string]string{"/saves": "not a dir"})
		_, err := Build("/saves", "/out")
		assert.IsType(t, SourceUnreadableError{}, err)
	})

	t.Run("Destination not writable", func(t *testing.T) {
		setup(t, map[string]string{"/saves/save.dat": "save"})
		fs = readOnlyDirFs{Fs: fs, dir: "/out"}

		_, err := Build("/saves", "/out")
		assert.IsType(t, ArchiveWriteFailedError{}, err)
	})
}

func TestBuildEmptyDirectory(t *testing.T) {
	setup(t, nil)
	require.NoError(t, fs.MkdirAll("/saves", 0755))

	archivePath, err := Build("/saves", "/out")
	require.NoError(t, err)
	assert.Empty(t, zipEntries(t, archivePath))
}

// readOnlyDirFs refuses to create files below dir.
type readOnlyDirFs struct {
	afero.Fs
	dir string
}

func (fs readOnlyDirFs) Create(name string) (afero.File, error) {
	if strings.HasPrefix(name, fs.dir+"/") {
		return nil, os.ErrPermission
	}
	return fs.Fs.Create(name)
}

func writeRawZip(t *testing.T, path string, entries map[string]string) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, contents := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0644))
}

func TestRestore(t *testing.T) {
	tests := []struct {
		name       string
		entries    map[string]string
		raw        []byte
		expErr     bool
		expRestore map[string]string
	}{
		{
			name:       "Nested entries",
			entries:    map[string]string{"a.dat": "a", "slot/b.dat": "b", "slot/empty/": ""},
			expRestore: map[string]string{"a.dat": "a", "slot/b.dat": "b"},
		},
		{
			name:    "Parent traversal",
			entries: map[string]string{"../evil.dat": "evil"},
			expErr:  true,
		},
		{
			name:    "Absolute entry",
			entries: map[string]string{"/etc/evil.dat": "evil"},
			expErr:  true,
		},
		{
			name:   "Not a zip",
			raw:    []byte("definitely not a zip file"),
			expErr: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			setup(t, nil)
			if test.raw != nil {
				require.NoError(t, afero.WriteFile(fs, "/backup.zip", test.raw, 0644))
			} else {
				writeRawZip(t, "/backup.zip", test.entries)
			}

			err := Restore("/backup.zip", "/target")
			if test.expErr {
				assert.IsType(t, CorruptArchiveError{}, err)
				exists, _ := afero.Exists(fs, "/evil.dat")
				assert.False(t, exists)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.expRestore, readTree(t, "/target"))
		})
	}
}

func TestRestoreMissingArchive(t *testing.T) {
	setup(t, nil)
	err := Restore("/missing.zip", "/target")
	assert.IsType(t, CorruptArchiveError{}, err)
}

func TestDeleteDirectory(t *testing.T) {
	setup(t, map[string]string{"/saves/slot1/save.dat": "save"})

	// Missing paths are a no-op.
	assert.NoError(t, DeleteDirectory("/missing"))

	assert.NoError(t, DeleteDirectory("/saves"))
	exists, err := afero.Exists(fs, "/saves")
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestDeleteDirectoryPermissionDenied(t *testing.T) {
	setup(t, map[string]string{"/saves/save.dat": "save"})
	fs = afero.NewReadOnlyFs(fs)

	assert.Error(t, DeleteDirectory("/saves"))
}

func TestCheck(t *testing.T) {
	setup(t, map[string]string{"/saves/save.dat": "save"})

	archivePath, err := Build("/saves", "/out")
	require.NoError(t, err)
	assert.NoError(t, Check(archivePath))

	writeRawZip(t, "/evil.zip", map[string]string{"ok.dat": "ok", "../../evil.dat": "evil"})
	assert.IsType(t, CorruptArchiveError{}, Check("/evil.zip"))

	require.NoError(t, afero.WriteFile(fs, "/garbage.zip", []byte("garbage"), 0644))
	assert.IsType(t, CorruptArchiveError{}, Check("/garbage.zip"))
}
