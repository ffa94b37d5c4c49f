// Package github stores backups in a GitHub repository using the contents
// API. Each backup is a folder named after its id, holding a single zip
// file.
package github

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v56/github"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/cloudsave/pkg/errors"
	"github.com/sidkik/cloudsave/pkg/remote"
)

const (
	// DefaultBaseURL is the root of the public GitHub API.
	DefaultBaseURL = "https://api.github.com"

	// DefaultBranch is the branch backups are committed to.
	DefaultBranch = "main"

	requestTimeout  = 10 * time.Second
	downloadTimeout = 30 * time.Second

	userAgent = "cloudsave"
)

// Config identifies the repository that backups are stored in.
type Config struct {
	Owner  string
	Repo   string
	Branch string
	Token  string

	// BaseURL overrides DefaultBaseURL, e.g. for GitHub Enterprise.
	BaseURL string

	// Retry overrides remote.DefaultRetryPolicy when Attempts is set.
	Retry remote.RetryPolicy
}

// Store implements remote.Store.
type Store struct {
	cfg            Config
	client         *gh.Client
	downloadClient *gh.Client
	retry          remote.RetryPolicy
}

// New creates a Store for the given repository. It fails if the base URL
// can't be parsed.
func New(cfg Config) (*Store, error) {
	if cfg.Branch == "" {
		cfg.Branch = DefaultBranch
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	retry := cfg.Retry
	if retry.Attempts == 0 {
		retry = remote.DefaultRetryPolicy()
	}

	client, err := newClient(cfg, requestTimeout)
	if err != nil {
		return nil, err
	}

	downloadClient, err := newClient(cfg, downloadTimeout)
	if err != nil {
		return nil, err
	}

	return &Store{
		cfg:            cfg,
		client:         client,
		downloadClient: downloadClient,
		retry:          retry,
	}, nil
}

func newClient(cfg Config, timeout time.Duration) (*gh.Client, error) {
	client := gh.NewClient(&http.Client{Timeout: timeout})
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}

	// The client resolves API paths relative to the base URL, so it needs a
	// trailing slash.
	baseURL, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, errors.WithContext(err, "parse GitHub API URL")
	}
	client.BaseURL = baseURL
	client.UserAgent = userAgent
	return client, nil
}

// Upload commits the archive to `<id>/backup_<id>.zip`. If the file already
// exists, it's replaced.
func (s *Store) Upload(ctx context.Context, id remote.BackupID, contents []byte) error {
	if err := remote.CheckID(id); err != nil {
		return err
	}

	path := remote.ArchivePath(id)
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(fmt.Sprintf("Backup %s", id)),
		Content: contents,
		Branch:  gh.String(s.cfg.Branch),
	}

	// GitHub needs the sha of an existing file to overwrite it.
	existing, _, err := s.getContents(ctx, "upload", path)
	switch {
	case isStatus(err, http.StatusNotFound):
	case err != nil:
		return errors.WithContext(err, "get existing archive")
	case existing != nil:
		opts.SHA = existing.SHA
	}

	return s.do(ctx, "upload", func() error {
		var err error
		if opts.SHA == nil {
			_, _, err = s.client.Repositories.CreateFile(ctx, s.cfg.Owner, s.cfg.Repo, path, opts)
		} else {
			_, _, err = s.client.Repositories.UpdateFile(ctx, s.cfg.Owner, s.cfg.Repo, path, opts)
		}
		return err
	})
}

// List returns the backup folders at the root of the repository, newest
// first. An empty repository has no backups.
func (s *Store) List(ctx context.Context) ([]remote.BackupID, error) {
	_, entries, err := s.getContents(ctx, "list", "")
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var ids []remote.BackupID
	for _, entry := range entries {
		if entry.GetType() != "dir" {
			continue
		}
		id, ok := remote.ParseID(entry.GetName())
		if !ok {
			log.WithField("name", entry.GetName()).Debug("Ignoring folder that isn't a backup")
			continue
		}
		ids = append(ids, id)
	}
	remote.SortNewestFirst(ids)
	return ids, nil
}

// Download returns the first zip file in the backup's folder.
func (s *Store) Download(ctx context.Context, id remote.BackupID) ([]byte, error) {
	entries, err := s.listBackup(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.GetType() != "file" || !strings.HasSuffix(entry.GetName(), ".zip") {
			continue
		}

		var contents []byte
		err := s.do(ctx, "download", func() error {
			var err error
			contents, err = s.fetch(ctx, entry.GetDownloadURL())
			return err
		})
		return contents, err
	}
	return nil, errors.NewFriendlyError("Backup %s doesn't contain an archive.", id)
}

// Delete removes every file in the backup's folder. GitHub has no notion of
// folders, so the folder disappears with its last file.
func (s *Store) Delete(ctx context.Context, id remote.BackupID) error {
	entries, err := s.listBackup(ctx, id)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.GetType() != "file" {
			continue
		}
		opts := &gh.RepositoryContentFileOptions{
			Message: gh.String(fmt.Sprintf("Delete backup %s", id)),
			SHA:     entry.SHA,
			Branch:  gh.String(s.cfg.Branch),
		}
		err := s.do(ctx, "delete", func() error {
			_, _, err := s.client.Repositories.DeleteFile(ctx, s.cfg.Owner, s.cfg.Repo, entry.GetPath(), opts)
			return err
		})
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("delete %s", entry.GetPath()))
		}
	}
	return nil
}

func (s *Store) listBackup(ctx context.Context, id remote.BackupID) ([]*gh.RepositoryContent, error) {
	if err := remote.CheckID(id); err != nil {
		return nil, err
	}

	file, entries, err := s.getContents(ctx, "list", string(id))
	if isStatus(err, http.StatusNotFound) || (err == nil && file != nil) {
		return nil, errors.NewFriendlyError("Backup %s doesn't exist.", id)
	}
	return entries, err
}

// getContents returns the file at path, or the entries of the directory at
// path.
func (s *Store) getContents(ctx context.Context, op, path string) (
	file *gh.RepositoryContent, entries []*gh.RepositoryContent, err error) {
	opts := &gh.RepositoryContentGetOptions{Ref: s.cfg.Branch}
	err = s.do(ctx, op, func() error {
		var err error
		file, entries, _, err = s.client.Repositories.GetContents(ctx, s.cfg.Owner, s.cfg.Repo, path, opts)
		return err
	})
	return file, entries, err
}

func (s *Store) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := s.downloadClient.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.WithContext(err, "create request")
	}

	var buf bytes.Buffer
	if _, err := s.downloadClient.Do(ctx, req, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// do runs fn with retries. Errors from the API are converted to
// remote.StatusError so that the retry policy can tell which are transient.
func (s *Store) do(ctx context.Context, op string, fn func() error) error {
	return s.retry.Do(ctx, op, func() error {
		return statusError(fn())
	})
}

func statusError(err error) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return remote.StatusError{Code: http.StatusTooManyRequests, Body: rateErr.Message}
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return remote.StatusError{Code: http.StatusTooManyRequests, Body: abuseErr.Message}
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return remote.StatusError{Code: respErr.Response.StatusCode, Body: respErr.Message}
	}
	return err
}

func isStatus(err error, code int) bool {
	var statusErr remote.StatusError
	return errors.As(err, &statusErr) && statusErr.Code == code
}
