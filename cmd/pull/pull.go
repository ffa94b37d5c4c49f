package pull

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/cloudsave/cmd/util"
	"github.com/sidkik/cloudsave/pkg/remote"
)

// New creates a new `pull` command.
func New() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "pull [backup]",
		Short: "Replace the save directory with a backup",
		Long: "Replace the contents of the save directory with a backup.\n" +
			"If no backup is given, the most recent one is restored.\n" +
			"Run `cloudsave list` to see the available backups.",
		Args: cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			var id remote.BackupID
			if len(args) == 1 {
				id = remote.BackupID(args[0])
			}

			if err := run(id, yes); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Don't ask for confirmation")
	return cmd
}

func run(id remote.BackupID, yes bool) error {
	controller, settings, err := util.NewController(nil)
	if err != nil {
		return err
	}

	if !yes {
		question := fmt.Sprintf("This replaces everything in %s. Continue?", settings.SaveDir)
		ok, err := util.Confirm(os.Stdin, os.Stdout, question)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctx := context.Background()
	pp := util.NewProgressPrinter(os.Stdout, "Restoring")
	go pp.Run()
	if id == "" {
		id, err = controller.RestoreLatest(ctx)
	} else {
		err = controller.Restore(ctx, id)
	}
	pp.Stop()
	if err != nil {
		return err
	}

	fmt.Printf("Restored %s into %s.\n", id, settings.SaveDir)
	return nil
}
