package util

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sidkik/cloudsave/pkg/config"
	"github.com/sidkik/cloudsave/pkg/errors"
	"github.com/sidkik/cloudsave/pkg/notify"
	"github.com/sidkik/cloudsave/pkg/remote"
	"github.com/sidkik/cloudsave/pkg/remote/github"
	"github.com/sidkik/cloudsave/pkg/remote/gitrepo"
	"github.com/sidkik/cloudsave/pkg/sync"
)

// LogFileName is the name of the log file written by `cloudsave watch`. It
// lives next to the settings file.
const LogFileName = ".cloudsave.log"

// Mocked out for unit testing.
var getSettingsPath = config.GetSettingsPath

// LogPath returns the path of the log file for the given settings file.
func LogPath(settingsPath string) string {
	return filepath.Join(filepath.Dir(settingsPath), LogFileName)
}

// LoadSettings returns a provider for the settings file, along with a
// snapshot of its current contents.
func LoadSettings() (config.FileProvider, config.Settings, error) {
	path, err := getSettingsPath()
	if err != nil {
		return config.FileProvider{}, config.Settings{}, errors.WithContext(err, "get settings path")
	}

	provider := config.FileProvider{Path: path}
	settings, err := provider.Settings()
	if err != nil {
		return config.FileProvider{}, config.Settings{}, errors.WithContext(err, "read settings")
	}
	return provider, settings, nil
}

// NewStore creates the remote store described by the settings.
func NewStore(settings config.Settings) (remote.Store, error) {
	r := settings.Remote
	switch r.Kind {
	case config.RemoteGitHub:
		store, err := github.New(github.Config{
			Owner:  r.Owner,
			Repo:   r.Repo,
			Branch: r.Branch,
			Token:  r.Token,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.RemoteGit:
		return gitrepo.New(gitrepo.Config{
			URL:    r.URL,
			Branch: r.Branch,
			Token:  r.Token,
			Dir:    filepath.Join(settings.CacheDir, repoDirName(r.URL)),
		}), nil
	default:
		return nil, errors.NewFriendlyError("Unknown remote kind %q.", r.Kind)
	}
}

var unsafeDirChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// repoDirName returns the name of the directory that the repository at url
// is cloned into.
func repoDirName(url string) string {
	if url == "" {
		return "local"
	}

	url = strings.TrimSuffix(url, ".git")
	if i := strings.Index(url, "://"); i >= 0 {
		url = url[i+3:]
	}
	return strings.Trim(unsafeDirChars.ReplaceAllString(url, "_"), "_")
}

// NewSink creates the notification sink for the settings.
func NewSink(settings config.Settings) notify.Sink {
	if settings.Notifications {
		return notify.Multi{notify.Log{}, notify.Desktop{}}
	}
	return notify.Log{}
}

// NewController creates a controller that reads settings from the settings
// file. The watcher may be nil for commands that don't watch the save
// directory.
func NewController(watcher sync.Watcher) (*sync.Controller, config.Settings, error) {
	provider, settings, err := LoadSettings()
	if err != nil {
		return nil, config.Settings{}, err
	}
	return sync.New(provider, NewStore, watcher, NewSink(settings), nil), settings, nil
}
