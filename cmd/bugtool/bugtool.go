package bugtool

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/cloudsave/cmd/util"
	"github.com/sidkik/cloudsave/pkg/config"
	"github.com/sidkik/cloudsave/pkg/errors"
	"github.com/sidkik/cloudsave/pkg/version"
)

const redacted = "<redacted>"

// Mocked out for unit testing.
var (
	fs              = afero.NewOsFs()
	getSettingsPath = config.GetSettingsPath
	parseSettings   = config.ParseSettings
)

// New creates a new `bug-tool` command.
func New() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "bug-tool",
		Short: "Generate an archive for debugging cloudsave",
		Run:   func(_ *cobra.Command, _ []string) { main(out) },
	}
	cmd.Flags().StringVar(&out, "out", "", "path for archive")
	return cmd
}

func main(out string) {
	tmpdir, err := afero.TempDir(fs, "", "cloudsave-bug-tool")
	if err != nil {
		err = errors.NewFriendlyError("Failed to create out directory:\n%s", err)
		util.HandleFatalError(err)
	}

	// Wrap defer in a function to handle errors from fs.RemoveAll().
	defer func() {
		err := fs.RemoveAll(tmpdir)
		if err != nil {
			util.HandleFatalError(err)
		}
	}()

	setupInfo(tmpdir)

	if out == "" {
		out = fmt.Sprintf("cloudsave-bug-info-%s.tar.gz",
			time.Now().Format("Jan_02_2006-15-04-05"))
	}
	if err := tarDirectory(tmpdir, out); err != nil {
		err = errors.NewFriendlyError("Failed to tar:\n%s", err)
		util.HandleFatalError(err)
	}

	msg := `Created bug information archive at '%s'.
The access token is removed, but you may want to check the archive before
sharing it. The archive contains:
 * The logs of ` + "`cloudsave watch`" + `.
 * The settings file.
 * The names and sizes of the files in the save directory.
 * The version of cloudsave.
`
	fmt.Printf(msg, out)
}

func setupInfo(root string) {
	if err := setupVersion(root); err != nil {
		log.WithError(err).Warn("Failed to setup version info")
	}

	settingsPath, err := getSettingsPath()
	if err != nil {
		log.WithError(err).Error("Failed to get settings path")
		return
	}

	if err := setupCLILogs(root, settingsPath); err != nil {
		log.WithError(err).Warn("Failed to setup CLI logs")
	}

	settings, err := parseSettings(settingsPath)
	if err != nil {
		log.WithError(err).Error("Failed to parse settings")
		return
	}

	if err := setupSettings(root, settings); err != nil {
		log.WithError(err).Warn("Failed to setup settings")
	}

	if err := setupSaveListing(root, settings.SaveDir); err != nil {
		log.WithError(err).Warn("Failed to list save directory")
	}
}

func setupCLILogs(root, settingsPath string) error {
	logFile, err := fs.Open(util.LogPath(settingsPath))
	if err != nil {
		return errors.WithContext(err, "open log")
	}
	defer logFile.Close()

	outFile, err := fs.Create(filepath.Join(root, "cli.log"))
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, logFile); err != nil {
		return errors.WithContext(err, "copy")
	}
	return nil
}

func setupSettings(root string, settings config.Settings) error {
	if settings.Remote.Token != "" {
		settings.Remote.Token = redacted
	}

	settingsBytes, err := yaml.Marshal(settings)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, filepath.Join(root, "settings.yaml"), settingsBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// setupSaveListing records the files in the save directory without their
// contents.
func setupSaveListing(root, saveDir string) error {
	var listing strings.Builder
	err := afero.Walk(fs, saveDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			fmt.Fprintf(&listing, "%s: %s\n", path, err)
			return nil
		}

		relPath, err := filepath.Rel(saveDir, path)
		if err != nil {
			return errors.WithContext(err, "get relative path")
		}

		if fi.IsDir() {
			fmt.Fprintf(&listing, "%s/\n", filepath.ToSlash(relPath))
		} else {
			fmt.Fprintf(&listing, "%s %d %s\n", filepath.ToSlash(relPath),
				fi.Size(), fi.ModTime().UTC().Format(time.RFC3339))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := afero.WriteFile(fs, filepath.Join(root, "saves.txt"), []byte(listing.String()), 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

func setupVersion(root string) error {
	out, err := fs.Create(filepath.Join(root, "version"))
	if err != nil {
		return errors.WithContext(err, "create")
	}
	defer out.Close()

	fmt.Fprintf(out, "local version: %s\n", version.Version)
	return nil
}

func tarDirectory(src, outPath string) error {
	out, err := fs.Create(outPath)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer out.Close()

	gzw := gzip.NewWriter(out)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	return afero.Walk(fs, src, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(fi, fi.Name())
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("make header %s", file))
		}

		relPath, err := filepath.Rel(src, file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("get relative path of %s to %s", file, src))
		}

		header.Name = filepath.ToSlash(filepath.Join("cloudsave-bug-info", relPath))
		if err := tw.WriteHeader(header); err != nil {
			return errors.WithContext(err, fmt.Sprintf("write %s header", file))
		}

		// Only write contents if it's a file (i.e. not a directory).
		if !fi.Mode().IsRegular() {
			return nil
		}

		f, err := fs.Open(file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("open %s", file))
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return errors.WithContext(err, fmt.Sprintf("copy %s", file))
		}
		return nil
	})
}
