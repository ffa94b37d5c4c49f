package push

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/cloudsave/cmd/util"
)

// New creates a new `push` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Upload a backup of the save directory now",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run() error {
	controller, settings, err := util.NewController(nil)
	if err != nil {
		return err
	}

	pp := util.NewProgressPrinter(os.Stdout, fmt.Sprintf("Backing up %s", settings.SaveDir))
	go pp.Run()
	err = controller.TriggerUpload(context.Background(), false)
	pp.Stop()
	if err != nil {
		return err
	}

	fmt.Printf("Uploaded backup to %s.\n", settings.Remote)
	return nil
}
