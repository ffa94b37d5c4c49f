package bugtool

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"io"
	"io/ioutil"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/cloudsave/pkg/config"
)

type file struct {
	path, contents string
}

func TestSetupCLILogs(t *testing.T) {
	tests := []struct {
		name         string
		root         string
		settingsPath string
		mockFiles    []file
		expFiles     []file
		expError     error
	}{
		{
			name:         "Log exists",
			root:         "root",
			settingsPath: "home/.cloudsave.yaml",
			mockFiles:    []file{{"home/.cloudsave.log", "log contents"}},
			expFiles:     []file{{"root/cli.log", "log contents"}},
		},
		{
			name:         "Log doesn't exist",
			settingsPath: "home/.cloudsave.yaml",
			expError:     errors.New("open log: open home/.cloudsave.log: file does not exist"),
		},
	}

	for _, test := range tests {
		fs = afero.NewMemMapFs()
		assert.NoError(t, setupFiles(test.mockFiles))
		err := setupCLILogs(test.root, test.settingsPath)
		if test.expError == nil {
			assert.NoError(t, err, test.name)
		} else {
			assert.EqualError(t, err, test.expError.Error(), test.name)
		}
		assertFiles(t, test.expFiles, test.name)
	}
}

func TestSetupSettings(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		expToken string
	}{
		{name: "Token is redacted", token: "ghp_secret", expToken: "token: <redacted>"},
		{name: "No token", token: ""},
	}

	for _, test := range tests {
		fs = afero.NewMemMapFs()
		settings := config.Default()
		settings.Remote = config.Remote{
			Kind:  config.RemoteGitHub,
			Owner: "me",
			Repo:  "saves",
			Token: test.token,
		}

		require.NoError(t, setupSettings("root", settings), test.name)
		contents, err := afero.ReadFile(fs, "root/settings.yaml")
		require.NoError(t, err, test.name)
		assert.NotContains(t, string(contents), "ghp_secret", test.name)
		assert.Contains(t, string(contents), "owner: me", test.name)
		if test.expToken != "" {
			assert.Contains(t, string(contents), test.expToken, test.name)
		} else {
			assert.NotContains(t, string(contents), "token:", test.name)
		}
	}
}

func TestSetupSaveListing(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, setupFiles([]file{
		{"saves/slot1.dat", "12345"},
		{"saves/sub/slot2.dat", "ab"},
	}))

	modTime := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	for _, path := range []string{"saves/slot1.dat", "saves/sub/slot2.dat"} {
		require.NoError(t, fs.Chtimes(path, modTime, modTime))
	}

	require.NoError(t, setupSaveListing("root", "saves"))
	assertFiles(t, []file{{
		"root/saves.txt",
		"./\n" +
			"slot1.dat 5 2024-01-02T10:00:00Z\n" +
			"sub/\n" +
			"sub/slot2.dat 2 2024-01-02T10:00:00Z\n",
	}}, "setupSaveListing should list every file")
}

func TestSetupSaveListingMissingDir(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, setupSaveListing("root", "missing"))

	contents, err := afero.ReadFile(fs, "root/saves.txt")
	require.NoError(t, err)
	assert.Contains(t, string(contents), "missing: ")
}

func TestTarDirectory(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, setupFiles([]file{
		{"root/cli.log", "log contents"},
		{"root/version", "local version: dev\n"},
	}))

	require.NoError(t, tarDirectory("root", "out.tar.gz"))

	f, err := fs.Open("out.tar.gz")
	require.NoError(t, err)
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gzr)

	contents := map[string]string{}
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		body, err := ioutil.ReadAll(tr)
		require.NoError(t, err)
		contents[header.Name] = string(body)
	}

	assert.Equal(t, map[string]string{
		"cloudsave-bug-info":         "",
		"cloudsave-bug-info/cli.log": "log contents",
		"cloudsave-bug-info/version": "local version: dev\n",
	}, contents)
}

func TestSetupInfo(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, setupFiles([]file{
		{"/home/.cloudsave.log", "log contents"},
		{"/saves/slot1.dat", "12345"},
	}))

	getSettingsPath = func() (string, error) { return "/home/.cloudsave.yaml", nil }
	parseSettings = func(path string) (config.Settings, error) {
		assert.Equal(t, "/home/.cloudsave.yaml", path)
		settings := config.Default()
		settings.SaveDir = "/saves"
		return settings, nil
	}
	defer func() {
		getSettingsPath = config.GetSettingsPath
		parseSettings = config.ParseSettings
	}()

	setupInfo("/root")

	for _, path := range []string{"/root/version", "/root/cli.log", "/root/settings.yaml", "/root/saves.txt"} {
		exists, err := afero.Exists(fs, path)
		assert.NoError(t, err)
		assert.True(t, exists, path)
	}
}

func setupFiles(files []file) error {
	for _, f := range files {
		if err := afero.WriteFile(fs, f.path, []byte(f.contents), 0644); err != nil {
			return err
		}
	}
	return nil
}

func assertFiles(t *testing.T, files []file, msg string) {
	for _, f := range files {
		contents, err := afero.ReadFile(fs, f.path)
		assert.NoError(t, err, msg)
		assert.Equal(t, f.contents, string(contents), msg)
	}
}
