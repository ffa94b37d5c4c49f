package logs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/cloudsave/cmd/util"
	"github.com/sidkik/cloudsave/pkg/config"
	"github.com/sidkik/cloudsave/pkg/errors"
)

const pollInterval = 500 * time.Millisecond

// Mocked out for unit testing.
var (
	fs                        = afero.NewOsFs()
	stdout          io.Writer = os.Stdout
	clock                     = clockwork.NewRealClock()
	getSettingsPath           = config.GetSettingsPath
)

// New creates a new `logs` command.
func New() *cobra.Command {
	var follow bool
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the logs of `cloudsave watch`",
		Run: func(_ *cobra.Command, _ []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			if err := run(ctx, lines, follow); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new log lines")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to print")
	return cmd
}

func run(ctx context.Context, lines int, follow bool) error {
	settingsPath, err := getSettingsPath()
	if err != nil {
		return errors.WithContext(err, "get settings path")
	}
	path := util.LogPath(settingsPath)

	offset, err := printTail(path, lines)
	if err != nil {
		return err
	}

	if follow {
		return followLogs(ctx, path, offset)
	}
	return nil
}

// printTail prints the last n lines of the log, and returns the size of the
// log that was read.
func printTail(path string, n int) (int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewFriendlyError("No logs found at %s. "+
				"Logs are written while `cloudsave watch` runs.", path)
		}
		return 0, errors.WithContext(err, "open log")
	}
	defer f.Close()

	var tail []string
	var offset int64
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		offset += int64(len(line))
		if line != "" {
			tail = append(tail, line)
			if len(tail) > n {
				tail = tail[1:]
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.WithContext(err, "read log")
		}
	}

	for _, line := range tail {
		fmt.Fprint(stdout, line)
	}
	return offset, nil
}

// followLogs prints everything appended to the log after offset until ctx is
// done. The log is read from the start again after it's rotated.
func followLogs(ctx context.Context, path string, offset int64) error {
	ticker := clock.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}

		fi, err := fs.Stat(path)
		if err != nil {
			// The log is briefly missing while it's rotated.
			continue
		}

		if fi.Size() < offset {
			offset = 0
		}
		if fi.Size() == offset {
			continue
		}

		n, err := copyFrom(path, offset)
		if err != nil {
			return errors.WithContext(err, "read log")
		}
		offset += n
	}
}

func copyFrom(path string, offset int64) (int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	return io.Copy(stdout, f)
}
