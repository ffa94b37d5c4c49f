package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/cloudsave/cmd/bugtool"
	configCmd "github.com/sidkik/cloudsave/cmd/config"
	deleteCmd "github.com/sidkik/cloudsave/cmd/delete"
	"github.com/sidkik/cloudsave/cmd/list"
	"github.com/sidkik/cloudsave/cmd/logs"
	"github.com/sidkik/cloudsave/cmd/pull"
	"github.com/sidkik/cloudsave/cmd/push"
	"github.com/sidkik/cloudsave/cmd/util"
	"github.com/sidkik/cloudsave/cmd/version"
	"github.com/sidkik/cloudsave/cmd/watch"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "CLOUDSAVE_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:   "cloudsave",
		Short: "Back up game saves to a remote repository",
		Long: "cloudsave keeps a save directory backed up to a GitHub repository\n" +
			"or any git remote. `cloudsave watch` uploads a backup whenever the\n" +
			"save directory changes, and `cloudsave pull` restores one.",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		bugtool.New(),
		configCmd.New(),
		deleteCmd.New(),
		list.New(),
		logs.New(),
		pull.New(),
		push.New(),
		version.New(),
		watch.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
