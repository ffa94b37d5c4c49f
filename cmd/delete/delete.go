package delete

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/cloudsave/cmd/util"
	"github.com/sidkik/cloudsave/pkg/errors"
	"github.com/sidkik/cloudsave/pkg/remote"
)

// New creates a new `delete` command.
func New() *cobra.Command {
	var all, yes bool
	cmd := &cobra.Command{
		Use:   "delete [backup]",
		Short: "Delete stored backups. The save directory is not touched.",
		Args:  cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			var err error
			switch {
			case all && len(args) == 0:
				err = deleteAll(yes)
			case !all && len(args) == 1:
				err = deleteOne(remote.BackupID(args[0]))
			default:
				err = errors.NewFriendlyError("Specify either a backup to delete, or --all.")
			}

			if err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Delete every backup")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Don't ask for confirmation")
	return cmd
}

func deleteOne(id remote.BackupID) error {
	controller, _, err := util.NewController(nil)
	if err != nil {
		return err
	}

	if err := controller.Delete(context.Background(), id); err != nil {
		return err
	}
	fmt.Printf("Deleted %s.\n", id)
	return nil
}

func deleteAll(yes bool) error {
	controller, settings, err := util.NewController(nil)
	if err != nil {
		return err
	}

	if !yes {
		question := fmt.Sprintf("This deletes every backup in %s. Continue?", settings.Remote)
		ok, err := util.Confirm(os.Stdin, os.Stdout, question)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	pp := util.NewProgressPrinter(os.Stdout, "Deleting backups")
	go pp.Run()
	deleted, err := controller.DeleteAll(context.Background())
	pp.Stop()

	fmt.Printf("Deleted %d backups.\n", len(deleted))
	return err
}
