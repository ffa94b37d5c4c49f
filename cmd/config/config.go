package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/cloudsave/cmd/util"
	"github.com/sidkik/cloudsave/pkg/config"
	"github.com/sidkik/cloudsave/pkg/errors"
)

// keepCurrentToken is offered instead of echoing the saved token.
const keepCurrentToken = "(keep the current token)"

// Mocked for unit testing.
var (
	stdout          io.Writer = os.Stdout
	stdin           io.Reader = os.Stdin
	parseSettings             = parseSettingsImpl
	writeSettings             = config.WriteSettings
	getSettingsPath           = config.GetSettingsPath
)

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts config.Settings
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Setup the cloudsave settings",
		Run: func(_ *cobra.Command, _ []string) {
			if err := SetupConfig(cliOpts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}

	flags := []struct {
		name, usage string
		field       *string
	}{
		{"save-dir", "Set the directory that holds the game saves.", &cliOpts.SaveDir},
		{"remote-kind", "Set where backups are stored (github or git).", (*string)(&cliOpts.Remote.Kind)},
		{"owner", "Set the owner of the GitHub repository.", &cliOpts.Remote.Owner},
		{"repo", "Set the name of the GitHub repository.", &cliOpts.Remote.Repo},
		{"branch", "Set the branch that backups are committed to.", &cliOpts.Remote.Branch},
		{"url", "Set the URL of the git remote.", &cliOpts.Remote.URL},
		{"token", "Set the access token used to push backups.", &cliOpts.Remote.Token},
		{"auto-action", "Set what `cloudsave watch` does on startup (none, pull, or push).",
			(*string)(&cliOpts.AutoAction)},
	}
	for _, flag := range flags {
		cmd.Flags().StringVar(flag.field, flag.name, "", flag.usage+
			" Optional: If not set, `cloudsave config` will interactively prompt.")
	}

	// Setup the commands for querying the contents of the settings.
	type getterSpec struct {
		use, short string
		fn         func(config.Settings) string
	}

	getters := []getterSpec{
		{
			use:   "get-save-dir",
			short: "Get the currently configured save directory",
			fn:    func(cfg config.Settings) string { return cfg.SaveDir },
		},
		{
			use:   "get-remote",
			short: "Get the currently configured backup location",
			fn:    func(cfg config.Settings) string { return cfg.Remote.String() },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(_ *cobra.Command, _ []string) {
				cfg, err := parseSettings()
				if err != nil {
					err = errors.WithContext(err, "read settings")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

// SetupConfig prompts for every setting not passed on the command line, and
// writes the result to the settings file.
func SetupConfig(cliOpts config.Settings) error {
	cfg, err := generateConfig(cliOpts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	path, err := getSettingsPath()
	if err != nil {
		return errors.WithContext(err, "get settings path")
	}

	if err := writeSettings(path, cfg); err != nil {
		return errors.WithContext(err, "write settings")
	}

	fmt.Fprintf(stdout, "Wrote settings to %s\n", path)
	return nil
}

func parseSettingsImpl() (config.Settings, error) {
	path, err := getSettingsPath()
	if err != nil {
		return config.Settings{}, errors.WithContext(err, "get settings path")
	}
	return config.ParseSettings(path)
}

func notEmptyValidationFn(field string) func(string) (string, bool) {
	return func(resp string) (string, bool) {
		if strings.TrimSpace(resp) == "" {
			return fmt.Sprintf("The %s is required.", field), false
		}
		return "", true
	}
}

func repoNameValidationFn(field string) func(string) (string, bool) {
	return func(resp string) (string, bool) {
		if msg, ok := notEmptyValidationFn(field)(resp); !ok {
			return msg, false
		}
		if strings.ContainsAny(resp, "/ ") {
			return fmt.Sprintf("The %s must not contain slashes or spaces.", field), false
		}
		return "", true
	}
}

func remoteKindValidationFn(kind string) (string, bool) {
	switch config.RemoteKind(kind) {
	case config.RemoteGitHub, config.RemoteGit:
		return "", true
	default:
		return "The remote kind must be either `github` or `git`.", false
	}
}

func autoActionValidationFn(action string) (string, bool) {
	switch config.AutoAction(action) {
	case config.AutoActionNone, config.AutoActionPull, config.AutoActionPush:
		return "", true
	default:
		return "The startup action must be one of `none`, `pull`, or `push`.", false
	}
}

type prompt struct {
	helpString, prompt, defaultAnswer, currAnswer string
	field                                         *string
	validationFn                                  func(string) (string, bool)
}

// generateConfig interacts with the user to decide what the user's desired
// settings are. Values passed on the command line are used without prompting.
func generateConfig(cliOpts config.Settings) (config.Settings, error) {
	currConfig, err := parseSettings()
	if err != nil {
		currConfig = config.Default()
		log.WithError(err).Debug("Failed to read current settings")
	}

	cfg := currConfig
	cfg.SaveDir = pick(cliOpts.SaveDir, cfg.SaveDir)
	cfg.Remote.Kind = config.RemoteKind(pick(string(cliOpts.Remote.Kind), string(cfg.Remote.Kind)))
	cfg.Remote.Owner = pick(cliOpts.Remote.Owner, cfg.Remote.Owner)
	cfg.Remote.Repo = pick(cliOpts.Remote.Repo, cfg.Remote.Repo)
	cfg.Remote.Branch = pick(cliOpts.Remote.Branch, cfg.Remote.Branch)
	cfg.Remote.URL = pick(cliOpts.Remote.URL, cfg.Remote.URL)
	cfg.Remote.Token = pick(cliOpts.Remote.Token, cfg.Remote.Token)
	cfg.AutoAction = config.AutoAction(pick(string(cliOpts.AutoAction), string(cfg.AutoAction)))

	var prompts []prompt
	if cliOpts.SaveDir == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the directory that holds the game saves.\n" +
				"Everything in this directory is backed up, and replaced on restore.",
			prompt:        "Save directory",
			defaultAnswer: config.DefaultSaveDir,
			currAnswer:    currConfig.SaveDir,
			field:         &cfg.SaveDir,
			validationFn:  notEmptyValidationFn("save directory"),
		})
	}

	if cliOpts.Remote.Kind == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter where backups are stored.\n" +
				"`github` uploads through the GitHub API, and `git` pushes commits to any git remote.",
			prompt:        "Remote kind",
			defaultAnswer: string(config.RemoteGitHub),
			currAnswer:    string(currConfig.Remote.Kind),
			field:         (*string)(&cfg.Remote.Kind),
			validationFn:  remoteKindValidationFn,
		})
	}

	if err := runPrompts(prompts); err != nil {
		return config.Settings{}, err
	}

	// The remaining questions depend on the kind of remote.
	prompts = nil
	if cfg.Remote.Kind == config.RemoteGitHub {
		if cliOpts.Remote.Owner == "" {
			prompts = append(prompts, prompt{
				helpString:   "Enter the user or organization that owns the backup repository.",
				prompt:       "Repository owner",
				currAnswer:   currConfig.Remote.Owner,
				field:        &cfg.Remote.Owner,
				validationFn: repoNameValidationFn("owner"),
			})
		}

		if cliOpts.Remote.Repo == "" {
			prompts = append(prompts, prompt{
				helpString:   "Enter the name of the backup repository. It must already exist.",
				prompt:       "Repository name",
				currAnswer:   currConfig.Remote.Repo,
				field:        &cfg.Remote.Repo,
				validationFn: repoNameValidationFn("repository name"),
			})
		}
	} else if cliOpts.Remote.URL == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the URL of the git remote.\n" +
				"Leave it empty to keep backups in a local repository only.",
			prompt:     "Remote URL",
			currAnswer: currConfig.Remote.URL,
			field:      &cfg.Remote.URL,
		})
	}

	if cliOpts.Remote.Branch == "" {
		prompts = append(prompts, prompt{
			helpString:    "Enter the branch that backups are committed to.",
			prompt:        "Branch",
			defaultAnswer: "main",
			currAnswer:    currConfig.Remote.Branch,
			field:         &cfg.Remote.Branch,
			validationFn:  repoNameValidationFn("branch"),
		})
	}

	if cliOpts.Remote.Token == "" {
		tokenPrompt := prompt{
			helpString: "Enter an access token with permission to write to the repository.\n" +
				"It is stored encrypted in the settings file.",
			prompt: "Access token",
			field:  &cfg.Remote.Token,
		}
		if currConfig.Remote.Token != "" {
			tokenPrompt.currAnswer = keepCurrentToken
		}
		if cfg.Remote.Kind == config.RemoteGitHub {
			tokenPrompt.validationFn = notEmptyValidationFn("access token")
		}
		prompts = append(prompts, tokenPrompt)
	}

	if cliOpts.AutoAction == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter what `cloudsave watch` does when it starts.\n" +
				"`pull` restores the latest backup, and `push` uploads a new one.",
			prompt:        "Startup action",
			defaultAnswer: string(config.AutoActionNone),
			currAnswer:    string(currConfig.AutoAction),
			field:         (*string)(&cfg.AutoAction),
			validationFn:  autoActionValidationFn,
		})
	}

	if err := runPrompts(prompts); err != nil {
		return config.Settings{}, err
	}

	if cfg.Remote.Token == keepCurrentToken {
		cfg.Remote.Token = currConfig.Remote.Token
	}
	return cfg, nil
}

func runPrompts(prompts []prompt) error {
	for _, prompt := range prompts {
		var resp string
		var err error
		for {
			resp, err = promptUser(prompt.helpString, prompt.prompt,
				prompt.defaultAnswer, prompt.currAnswer)
			if err != nil {
				return errors.WithContext(err, "read response")
			}

			if prompt.validationFn == nil {
				break
			}

			validationErr, ok := prompt.validationFn(resp)
			if ok {
				break
			}

			fmt.Fprintln(stdout, validationErr)
		}

		*prompt.field = resp
	}
	return nil
}

func pick(override, current string) string {
	if override != "" {
		return override
	}
	return current
}

func promptUser(helpString, prompt, defaultAnswer, currAnswer string) (string, error) {
	// Display a new line at the end to separate different fields to make it
	// look clearer.
	defer fmt.Fprintln(stdout)

	options := []string{}
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	stdinReader := bufio.NewReader(stdin)

	if nOptions := len(options); nOptions > 1 {
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option = fmt.Sprintf("%s (recommended)", option)
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", nOptions)
			choiceStr, err := stdinReader.ReadString('\n')
			if err != nil {
				return "", err
			}

			var choice int
			choiceStr = strings.TrimSpace(choiceStr)

			// Default to the first choice if user doesn't enter anything.
			if choiceStr == "" {
				choice = 1
			} else {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > nOptions {
					continue
				}
			}

			if choice == nOptions {
				break
			}

			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	resp, err := stdinReader.ReadString('\n')
	if err != nil && !(err == io.EOF && resp != "") {
		return "", err
	}

	return strings.TrimSpace(resp), nil
}
