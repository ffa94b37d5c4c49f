package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/cloudsave/cmd/util"
	"github.com/sidkik/cloudsave/pkg/version"
)

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of cloudsave and the configured remote.",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("local version: %s\n", version.Version)

			_, settings, err := util.LoadSettings()
			if err != nil {
				log.WithError(err).Debug("Failed to read settings")
				fmt.Println("remote:        not configured")
				return
			}
			fmt.Printf("remote:        %s\n", settings.Remote)
		},
	}
}
