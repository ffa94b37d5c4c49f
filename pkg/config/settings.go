package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/cloudsave/pkg/errors"
)

const (
	// SettingsPath is the default path to the settings file.
	SettingsPath = "~/.cloudsave.yaml"

	// InitialSettingsVersion is the first version of the settings file.
	// Files that do not specify a version default to this version.
	InitialSettingsVersion = "v1alpha1"

	// SupportedSettingsVersion is the version of the settings file
	// understood by this binary.
	SupportedSettingsVersion = "v1alpha1"

	// DefaultSaveDir is where the game keeps its saves.
	DefaultSaveDir = "~/AppData/LocalLow/Re,AER/manosaba/Saves_v1"

	// DefaultCacheDir is where the git backend keeps its working copy.
	DefaultCacheDir = "~/.cloudsave/repos"
)

// AutoAction is run when `cloudsave watch` starts.
type AutoAction string

const (
	// AutoActionNone does nothing on startup.
	AutoActionNone AutoAction = "none"

	// AutoActionPull restores the latest backup on startup.
	AutoActionPull AutoAction = "pull"

	// AutoActionPush uploads a backup on startup.
	AutoActionPush AutoAction = "push"
)

// RemoteKind selects the backend that stores backups.
type RemoteKind string

const (
	// RemoteGitHub stores backups through the GitHub contents API.
	RemoteGitHub RemoteKind = "github"

	// RemoteGit stores backups by pushing commits to a git remote.
	RemoteGit RemoteKind = "git"
)

// Remote identifies where backups are stored.
type Remote struct {
	Kind   RemoteKind `json:"kind,omitempty"`
	Owner  string     `json:"owner,omitempty"`
	Repo   string     `json:"repo,omitempty"`
	Branch string     `json:"branch,omitempty"`
	URL    string     `json:"url,omitempty"`

	// Token is kept in plain text in memory, and encrypted on disk.
	Token string `json:"token,omitempty"`
}

// Configured returns whether enough of the remote is set to upload to it.
func (r Remote) Configured() bool {
	switch r.Kind {
	case RemoteGitHub:
		return r.Owner != "" && r.Repo != "" && r.Token != ""
	case RemoteGit:
		return true
	default:
		return false
	}
}

// String returns a short description of the remote for display.
func (r Remote) String() string {
	switch r.Kind {
	case RemoteGitHub:
		return fmt.Sprintf("github.com/%s/%s", r.Owner, r.Repo)
	case RemoteGit:
		if r.URL == "" {
			return "local git repository"
		}
		return r.URL
	default:
		return "not configured"
	}
}

// Settings is the contents of the settings file.
type Settings struct {
	Version               string     `json:"version,omitempty"`
	SaveDir               string     `json:"saveDir"`
	Remote                Remote     `json:"remote"`
	AutoAction            AutoAction `json:"autoAction,omitempty"`
	DebounceSeconds       int        `json:"debounceSeconds"`
	UploadIntervalSeconds int        `json:"uploadIntervalSeconds"`
	SettleMillis          int        `json:"settleMillis"`
	Notifications         bool       `json:"notifications"`
	Schedule              string     `json:"schedule,omitempty"`
	CacheDir              string     `json:"cacheDir,omitempty"`
}

func (s Settings) getVersion() string {
	return s.Version
}

// Default returns the settings used for fields missing from the file.
func Default() Settings {
	return Settings{
		Version:               InitialSettingsVersion,
		SaveDir:               DefaultSaveDir,
		AutoAction:            AutoActionNone,
		DebounceSeconds:       2,
		UploadIntervalSeconds: 10,
		SettleMillis:          1000,
		Notifications:         true,
		CacheDir:              DefaultCacheDir,
	}
}

// DebounceWindow is the minimum time between two change signals.
func (s Settings) DebounceWindow() time.Duration {
	return time.Duration(s.DebounceSeconds) * time.Second
}

// UploadInterval is the minimum time between two uploads.
func (s Settings) UploadInterval() time.Duration {
	return time.Duration(s.UploadIntervalSeconds) * time.Second
}

// SettleDelay is how long to wait after a change before archiving, so that
// the game can finish writing.
func (s Settings) SettleDelay() time.Duration {
	return time.Duration(s.SettleMillis) * time.Millisecond
}

// Validate checks for values that can't be used.
func (s Settings) Validate() error {
	if s.SaveDir == "" {
		return errors.NewFriendlyError("The save directory is not set. " +
			"Please run `cloudsave config --save-dir <path>`.")
	}

	switch s.AutoAction {
	case "", AutoActionNone, AutoActionPull, AutoActionPush:
	default:
		return errors.NewFriendlyError("Unknown autoAction %q. "+
			"Expected one of none, pull, or push.", s.AutoAction)
	}

	switch s.Remote.Kind {
	case "", RemoteGitHub, RemoteGit:
	default:
		return errors.NewFriendlyError("Unknown remote kind %q. "+
			"Expected github or git.", s.Remote.Kind)
	}

	if s.DebounceSeconds < 0 || s.UploadIntervalSeconds < 0 || s.SettleMillis < 0 {
		return errors.NewFriendlyError("debounceSeconds, uploadIntervalSeconds, " +
			"and settleMillis must not be negative.")
	}
	return nil
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// GetSettingsPath returns the path to the settings file. This path is
// expanded, so it can be directly passed to file operations.
func GetSettingsPath() (string, error) {
	return homedirExpand(SettingsPath)
}

// ParseSettings reads the settings file at path. Fields missing from the
// file take their default values.
func ParseSettings(path string) (Settings, error) {
	settings := Default()
	if err := parseConfig(path, &settings, SupportedSettingsVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Settings{}, errors.NewFriendlyError("The cloudsave settings "+
				"file doesn't exist at %q. Please run `cloudsave config` "+
				"to create it.", path)
		}
		return Settings{}, errors.WithContext(err, "parse")
	}

	var err error
	settings.Remote.Token, err = openToken(settings.Remote.Token)
	if err != nil {
		return Settings{}, errors.WithContext(err, "decrypt token")
	}

	for _, dir := range []*string{&settings.SaveDir, &settings.CacheDir} {
		*dir, err = expandPath(*dir, path)
		if err != nil {
			return Settings{}, errors.WithContext(err, "expand path")
		}
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// WriteSettings writes the settings to path, encrypting the token.
func WriteSettings(path string, settings Settings) error {
	settings.Version = SupportedSettingsVersion

	var err error
	settings.Remote.Token, err = sealToken(settings.Remote.Token)
	if err != nil {
		return errors.WithContext(err, "encrypt token")
	}

	yamlBytes, err := yaml.Marshal(settings)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithContext(err, "make parent")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0600); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// expandPath expands `~`, and evaluates relative paths relative to the
// settings file.
func expandPath(path, settingsPath string) (string, error) {
	if path == "" {
		return "", nil
	}

	path, err := homedirExpand(path)
	if err != nil {
		return "", err
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(settingsPath), path)
	}
	return path, nil
}
