// Package gitrepo stores backups as commits in a git repository. The
// repository is cloned into a local cache directory, and every change is
// committed and pushed to the origin remote. Without a remote URL, the
// repository is local only.
package gitrepo

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"gopkg.in/src-d/go-git.v4"
	gitConfig "gopkg.in/src-d/go-git.v4/config"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/plumbing/transport"
	gitHTTP "gopkg.in/src-d/go-git.v4/plumbing/transport/http"

	"github.com/sidkik/cloudsave/pkg/errors"
	"github.com/sidkik/cloudsave/pkg/remote"
)

const (
	remoteName    = "origin"
	defaultBranch = "main"
)

// Config describes the repository that backups are committed to.
type Config struct {
	// URL is the origin remote. If empty, commits stay in Dir.
	URL    string
	Branch string
	Token  string

	// Dir is where the working copy is kept.
	Dir string

	Retry remote.RetryPolicy
	Clock clockwork.Clock
}

// Store implements remote.Store.
type Store struct {
	cfg   Config
	retry remote.RetryPolicy
	clock clockwork.Clock

	mu   sync.Mutex
	repo *git.Repository
}

// New creates a Store. The repository is opened or cloned on first use.
func New(cfg Config) *Store {
	if cfg.Branch == "" {
		cfg.Branch = defaultBranch
	}

	retry := cfg.Retry
	if retry.Attempts == 0 {
		retry = remote.DefaultRetryPolicy()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{cfg: cfg, retry: retry, clock: clock}
}

// Upload commits the archive to `<id>/backup_<id>.zip` and pushes it.
func (s *Store) Upload(ctx context.Context, id remote.BackupID, contents []byte) error {
	if err := remote.CheckID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wt, err := s.worktree(ctx)
	if err != nil {
		return err
	}

	archivePath := remote.ArchivePath(id)
	if err := wt.Filesystem.MkdirAll(string(id), 0755); err != nil {
		return errors.WithContext(err, "make backup folder")
	}

	f, err := wt.Filesystem.Create(archivePath)
	if err != nil {
		return errors.WithContext(err, "create archive")
	}
	if _, err := f.Write(contents); err != nil {
		f.Close()
		return errors.WithContext(err, "write archive")
	}
	if err := f.Close(); err != nil {
		return errors.WithContext(err, "close archive")
	}

	if _, err := wt.Add(archivePath); err != nil {
		return errors.WithContext(err, "stage archive")
	}
	return s.commitAndPush(ctx, wt, fmt.Sprintf("Backup %s", id))
}

// List returns the backup folders in the repository, newest first.
func (s *Store) List(ctx context.Context) ([]remote.BackupID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wt, err := s.worktree(ctx)
	if err != nil {
		return nil, err
	}

	infos, err := wt.Filesystem.ReadDir(".")
	if err != nil {
		return nil, errors.WithContext(err, "read repository")
	}

	var ids []remote.BackupID
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		if id, ok := remote.ParseID(info.Name()); ok {
			ids = append(ids, id)
		}
	}
	remote.SortNewestFirst(ids)
	return ids, nil
}

// Download returns the first zip file in the backup's folder.
func (s *Store) Download(ctx context.Context, id remote.BackupID) ([]byte, error) {
	if err := remote.CheckID(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wt, err := s.worktree(ctx)
	if err != nil {
		return nil, err
	}

	files, err := backupFiles(wt, id)
	if err != nil {
		return nil, err
	}

	for _, name := range files {
		if !strings.HasSuffix(name, ".zip") {
			continue
		}

		f, err := wt.Filesystem.Open(name)
		if err != nil {
			return nil, errors.WithContext(err, "open archive")
		}
		defer f.Close()
		return ioutil.ReadAll(f)
	}
	return nil, errors.NewFriendlyError("Backup %s doesn't contain an archive.", id)
}

// Delete removes the backup's folder in a new commit.
func (s *Store) Delete(ctx context.Context, id remote.BackupID) error {
	if err := remote.CheckID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wt, err := s.worktree(ctx)
	if err != nil {
		return err
	}

	files, err := backupFiles(wt, id)
	if err != nil {
		return err
	}

	for _, name := range files {
		if _, err := wt.Remove(name); err != nil {
			return errors.WithContext(err, fmt.Sprintf("remove %s", name))
		}
	}
	if err := wt.Filesystem.Remove(string(id)); err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithField("id", id).Debug("Failed to remove empty backup folder")
	}
	return s.commitAndPush(ctx, wt, fmt.Sprintf("Delete backup %s", id))
}

// backupFiles returns the slash-separated paths of the files in the
// backup's folder.
func backupFiles(wt *git.Worktree, id remote.BackupID) ([]string, error) {
	infos, err := wt.Filesystem.ReadDir(string(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFriendlyError("Backup %s doesn't exist.", id)
		}
		return nil, errors.WithContext(err, "read backup folder")
	}

	var files []string
	for _, info := range infos {
		if !info.IsDir() {
			files = append(files, path.Join(string(id), info.Name()))
		}
	}
	return files, nil
}

// worktree opens the repository, and brings it up to date with the remote.
func (s *Store) worktree(ctx context.Context) (*git.Worktree, error) {
	if s.repo == nil {
		repo, err := s.open(ctx)
		if err != nil {
			return nil, errors.WithContext(err, "open repository")
		}
		s.repo = repo
	}

	wt, err := s.repo.Worktree()
	if err != nil {
		return nil, errors.WithContext(err, "get worktree")
	}

	if !s.hasRemote() {
		return wt, nil
	}

	err = s.retry.Do(ctx, "pull", func() error {
		err := wt.PullContext(ctx, &git.PullOptions{
			RemoteName:    remoteName,
			ReferenceName: s.branchRef(),
			SingleBranch:  true,
			Auth:          s.auth(),
		})
		switch err {
		case git.NoErrAlreadyUpToDate, transport.ErrEmptyRemoteRepository, plumbing.ErrReferenceNotFound:
			return nil
		}
		return err
	})
	if err != nil {
		return nil, errors.WithContext(err, "pull")
	}
	return wt, nil
}

func (s *Store) open(ctx context.Context) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.cfg.Dir)
	if err == nil {
		return repo, nil
	}
	if err != git.ErrRepositoryNotExists {
		return nil, err
	}

	if s.cfg.URL != "" {
		var repo *git.Repository
		err := s.retry.Do(ctx, "clone", func() error {
			var err error
			repo, err = git.PlainCloneContext(ctx, s.cfg.Dir, false, &git.CloneOptions{
				URL:           s.cfg.URL,
				Auth:          s.auth(),
				ReferenceName: s.branchRef(),
				SingleBranch:  true,
			})
			if err != nil {
				// Don't leave a half-written clone behind for PlainOpen to
				// find next time.
				os.RemoveAll(s.cfg.Dir)
			}
			return err
		})
		switch err {
		case nil:
			log.WithField("url", s.cfg.URL).Info("Cloned backup repository")
			return repo, nil
		case transport.ErrEmptyRemoteRepository, plumbing.ErrReferenceNotFound:
			// Fall through and create the branch locally.
		default:
			return nil, errors.WithContext(err, "clone")
		}
	}

	repo, err = git.PlainInit(s.cfg.Dir, false)
	if err != nil {
		return nil, errors.WithContext(err, "init")
	}

	head := plumbing.NewSymbolicReference(plumbing.HEAD, s.branchRef())
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, errors.WithContext(err, "set HEAD")
	}

	if s.cfg.URL != "" {
		_, err := repo.CreateRemote(&gitConfig.RemoteConfig{
			Name: remoteName,
			URLs: []string{s.cfg.URL},
		})
		if err != nil {
			return nil, errors.WithContext(err, "add remote")
		}
	}
	return repo, nil
}

func (s *Store) commitAndPush(ctx context.Context, wt *git.Worktree, msg string) error {
	signature := &object.Signature{
		Name:  "cloudsave",
		Email: "cloudsave@localhost",
		When:  s.clock.Now(),
	}
	if _, err := wt.Commit(msg, &git.CommitOptions{Author: signature, Committer: signature}); err != nil {
		return errors.WithContext(err, "commit")
	}

	if !s.hasRemote() {
		return nil
	}

	refSpec := gitConfig.RefSpec(fmt.Sprintf("%s:%s", s.branchRef(), s.branchRef()))
	err := s.retry.Do(ctx, "push", func() error {
		err := s.repo.PushContext(ctx, &git.PushOptions{
			RemoteName: remoteName,
			RefSpecs:   []gitConfig.RefSpec{refSpec},
			Auth:       s.auth(),
		})
		if err == git.NoErrAlreadyUpToDate {
			return nil
		}
		return err
	})
	if err != nil {
		return errors.WithContext(err, "push")
	}
	return nil
}

func (s *Store) hasRemote() bool {
	_, err := s.repo.Remote(remoteName)
	return err == nil
}

func (s *Store) branchRef() plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(s.cfg.Branch)
}

func (s *Store) auth() transport.AuthMethod {
	if s.cfg.Token == "" {
		return nil
	}
	return &gitHTTP.BasicAuth{Username: "cloudsave", Password: s.cfg.Token}
}
