package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sidkik/cloudsave/cmd/util"
	"github.com/sidkik/cloudsave/pkg/errors"
	"github.com/sidkik/cloudsave/pkg/fswatch"
	"github.com/sidkik/cloudsave/pkg/notify"
	"github.com/sidkik/cloudsave/pkg/sync"
)

// Mocked out for unit testing.
var (
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
)

// New creates a new `watch` command.
func New() *cobra.Command {
	var noConsole bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Back up the save directory whenever it changes",
		Long: "Watch the save directory, and upload a backup shortly after the\n" +
			"game writes to it. Commands can be typed while watching. Type `help`\n" +
			"to see them.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(noConsole); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&noConsole, "no-console", false,
		"Don't read commands from stdin. Useful when running as a background service.")
	return cmd
}

func run(noConsole bool) error {
	provider, settings, err := util.LoadSettings()
	if err != nil {
		return err
	}

	log.SetFormatter(&log.TextFormatter{
		// Show the full timestamp since the watcher runs for hours.
		FullTimestamp: true,

		// Disable colors since we'll be logging to a file.
		DisableColors: true,
	})

	logFile := &lumberjack.Logger{
		Filename:   util.LogPath(provider.Path),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}
	defer logFile.Close()
	log.SetOutput(logFile)

	watcher := fswatch.New(fswatch.NewDebounceGate(settings.DebounceWindow(), nil))
	terminal := &consoleSink{out: stdout}
	controller := sync.New(provider, util.NewStore, watcher,
		notify.Multi{util.NewSink(settings), terminal}, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := controller.RunStartupAction(ctx); err != nil {
		log.WithError(err).Error("Startup action failed")
		fmt.Fprintf(stdout, "Startup action failed: %s\n", errors.GetPrintableMessage(err))
	}

	fmt.Fprintf(stdout, "Watching %s for changes. Backups go to %s.\n",
		settings.SaveDir, settings.Remote)
	if !noConsole {
		fmt.Fprintln(stdout, "Type `help` to see the available commands.")
		go func() {
			newConsole(controller, stdin, stdout, terminal).Run(ctx)
			stop()
		}()
	}

	if err := controller.Run(ctx); err != nil {
		return errors.WithContext(err, "watch")
	}

	fmt.Fprintln(stdout, "Stopped watching.")
	return nil
}
