// Package archive snapshots a directory tree into a zip file and extracts
// such snapshots back onto disk.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/cloudsave/pkg/errors"
)

// TimestampLayout is the format of the folder that each archive is written
// into. Names in this format sort chronologically.
const TimestampLayout = "2006-01-02_15-04-05"

// Mocked out for unit testing.
var (
	fs       = afero.NewOsFs()
	now      = time.Now
	copyFile = copyFileImpl
)

// Build copies every readable file under sourceDir into a staging directory,
// and then compresses the staged files into
// `<destinationDir>/<timestamp>/backup_<timestamp>.zip`. Files that can't be
// copied, for example because the game holds them open, are logged and left
// out of the archive.
func Build(sourceDir, destinationDir string) (string, error) {
	fi, err := fs.Stat(sourceDir)
	if err != nil {
		return "", SourceUnreadableError{Path: sourceDir, Err: err}
	}
	if !fi.IsDir() {
		return "", SourceUnreadableError{Path: sourceDir, Err: errors.New("not a directory")}
	}

	staging, err := afero.TempDir(fs, "", "cloudsave-staging")
	if err != nil {
		return "", ArchiveWriteFailedError{Path: destinationDir,
			Err: errors.WithContext(err, "create staging directory")}
	}
	defer func() {
		if err := fs.RemoveAll(staging); err != nil {
			log.WithError(err).WithField("path", staging).Warn("Failed to remove staging directory")
		}
	}()

	staged, err := stage(sourceDir, staging)
	if err != nil {
		return "", SourceUnreadableError{Path: sourceDir, Err: err}
	}

	name := now().Format(TimestampLayout)
	archivePath := filepath.Join(destinationDir, name, fmt.Sprintf("backup_%s.zip", name))
	if err := writeZip(staging, staged, archivePath); err != nil {
		return "", ArchiveWriteFailedError{Path: archivePath, Err: err}
	}

	log.WithFields(log.Fields{
		"path":  archivePath,
		"files": len(staged),
	}).Debug("Built archive")
	return archivePath, nil
}

// FolderName returns the name of the timestamped folder that contains the
// archive at archivePath.
func FolderName(archivePath string) string {
	return filepath.Base(filepath.Dir(archivePath))
}

// stage copies the regular files under sourceDir into staging, and returns
// their paths relative to sourceDir.
func stage(sourceDir, staging string) (staged []string, err error) {
	err = afero.Walk(fs, sourceDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if path == sourceDir {
				return err
			}
			log.WithError(err).WithField("path", path).Warn("Skipping unreadable path")
			if fi != nil && fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !fi.Mode().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return errors.WithContext(err, "get relative path")
		}

		if err := copyFile(path, filepath.Join(staging, relPath)); err != nil {
			log.WithError(err).WithField("path", path).Warn("Skipping file that couldn't be copied")
			return nil
		}
		staged = append(staged, relPath)
		return nil
	})
	return staged, err
}

func writeZip(staging string, files []string, archivePath string) error {
	if err := fs.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return errors.WithContext(err, "make archive folder")
	}

	f, err := fs.Create(archivePath)
	if err != nil {
		return errors.WithContext(err, "create")
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, relPath := range files {
		if err := addToZip(zw, filepath.Join(staging, relPath), relPath); err != nil {
			return errors.WithContext(err, fmt.Sprintf("add %q", relPath))
		}
	}

	if err := zw.Close(); err != nil {
		return errors.WithContext(err, "finish")
	}
	return f.Close()
}

func addToZip(zw *zip.Writer, path, relPath string) error {
	src, err := fs.Open(path)
	if err != nil {
		return errors.WithContext(err, "open")
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return errors.WithContext(err, "stat")
	}

	header, err := zip.FileInfoHeader(fi)
	if err != nil {
		return errors.WithContext(err, "make header")
	}
	header.Name = filepath.ToSlash(relPath)
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return errors.WithContext(err, "create entry")
	}

	if _, err := io.Copy(dst, src); err != nil {
		return errors.WithContext(err, "copy")
	}
	return nil
}

// Check opens the archive and verifies that every entry can be extracted
// safely, without writing anything.
func Check(archivePath string) error {
	f, zr, err := openZip(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, entry := range zr.File {
		if !isSafeEntryName(strings.ReplaceAll(entry.Name, `\`, "/")) {
			return CorruptArchiveError{Path: archivePath,
				Err: fmt.Errorf("entry %q escapes the target directory", entry.Name)}
		}
	}
	return nil
}

func openZip(archivePath string) (afero.File, *zip.Reader, error) {
	f, err := fs.Open(archivePath)
	if err != nil {
		return nil, nil, CorruptArchiveError{Path: archivePath, Err: errors.WithContext(err, "open")}
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, CorruptArchiveError{Path: archivePath, Err: errors.WithContext(err, "stat")}
	}

	zr, err := zip.NewReader(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, nil, CorruptArchiveError{Path: archivePath, Err: err}
	}
	return f, zr, nil
}

// Restore extracts every entry of the archive at archivePath into
// targetDir, creating targetDir if it doesn't exist.
func Restore(archivePath, targetDir string) error {
	f, zr, err := openZip(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := fs.MkdirAll(targetDir, 0755); err != nil {
		return CorruptArchiveError{Path: archivePath, Err: errors.WithContext(err, "make target directory")}
	}

	for _, entry := range zr.File {
		if err := extract(entry, targetDir); err != nil {
			return CorruptArchiveError{Path: archivePath,
				Err: errors.WithContext(err, fmt.Sprintf("extract %q", entry.Name))}
		}
	}

	log.WithFields(log.Fields{
		"archive": archivePath,
		"target":  targetDir,
		"entries": len(zr.File),
	}).Debug("Restored archive")
	return nil
}

func extract(entry *zip.File, targetDir string) error {
	name := strings.ReplaceAll(entry.Name, `\`, "/")
	if !isSafeEntryName(name) {
		return errors.New("entry escapes the target directory")
	}

	dst := filepath.Join(targetDir, filepath.FromSlash(name))
	if strings.HasSuffix(name, "/") || entry.FileInfo().IsDir() {
		return fs.MkdirAll(dst, 0755)
	}

	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.WithContext(err, "make parent")
	}

	src, err := entry.Open()
	if err != nil {
		return errors.WithContext(err, "open entry")
	}
	defer src.Close()

	mode := entry.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return errors.WithContext(err, "create file")
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return errors.WithContext(err, "write file")
	}
	if err := out.Close(); err != nil {
		return errors.WithContext(err, "close file")
	}

	if err := fs.Chtimes(dst, now(), entry.Modified); err != nil {
		log.WithError(err).WithField("path", dst).Debug("Failed to set modification time")
	}
	return nil
}

// isSafeEntryName returns whether the slash-separated name is a relative
// path that stays inside the directory it's extracted into.
func isSafeEntryName(name string) bool {
	if name == "" || path.IsAbs(name) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// DeleteDirectory removes path and everything below it. It's a no-op if the
// path doesn't exist. Unlike copy errors during Build, failures are returned
// since they leave the directory half deleted.
func DeleteDirectory(path string) error {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return errors.WithContext(err, "check if exists")
	}
	if !exists {
		return nil
	}

	if err := fs.RemoveAll(path); err != nil {
		return errors.WithContext(err, fmt.Sprintf("remove %q", path))
	}
	return nil
}

func copyFileImpl(src, dst string) error {
	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.WithContext(err, "make parent")
	}

	srcFile, err := fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open source")
	}
	defer srcFile.Close()

	fileInfo, err := srcFile.Stat()
	if err != nil {
		return errors.WithContext(err, "stat")
	}

	dstFile, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileInfo.Mode().Perm())
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return errors.WithContext(err, "copy")
	}

	// Keep the original modification time so it ends up in the zip header.
	if err := fs.Chtimes(dst, now(), fileInfo.ModTime()); err != nil {
		return errors.WithContext(err, "set modification time")
	}
	return nil
}
