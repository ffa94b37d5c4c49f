package list

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sidkik/cloudsave/cmd/util"
)

// New creates a new `list` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the stored backups, newest first",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run() error {
	controller, _, err := util.NewController(nil)
	if err != nil {
		return err
	}

	ids, err := controller.List(context.Background())
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		fmt.Println("No backups.")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
