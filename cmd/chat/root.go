package main

import (
	"fmt"
	"io"
	"os"

	"actionit/backend/chat"
	"actionit/backend/chat/notify"
	"actionit/backend/pkg/config"
	"actionit/backend/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

type rootOptions struct {
	conversation string
	configFile   string
	backendURL   string
	verbose      bool
	quiet        bool

	// newApp is swapped in tests
	newApp func(cfg *config.Config, log *logger.Logger) (*chat.App, error)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{newApp: chat.New}

	cmd := &cobra.Command{
		Use:           "actionit-chat",
		Short:         "Talk to the Action.it conversation service from the terminal",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.PersistentFlags().StringVarP(&opts.conversation, "conversation", "C", os.Getenv("ACTIONIT_CONVERSATION"), "conversation id")
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML config file layered over the environment")
	cmd.PersistentFlags().StringVar(&opts.backendURL, "backend", "", "conversation service base URL (overrides BACKEND_URL)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print notifications")

	cmd.AddCommand(
		newSendCmd(opts),
		newClearCmd(opts),
		newHistoryCmd(opts),
		newInteractiveCmd(opts),
	)
	return cmd
}

// open builds the pipeline and activates the selected conversation
func (o *rootOptions) open(cmd *cobra.Command) (*chat.App, error) {
	cfg := config.Load()
	if o.configFile != "" {
		if err := cfg.ApplyFile(o.configFile); err != nil {
			return nil, err
		}
	}
	if o.backendURL != "" {
		cfg.Backend.BaseURL = o.backendURL
	}

	logConfig := logger.DefaultConfig()
	logConfig.Level = "warn"
	if o.verbose {
		logConfig.Level = "debug"
	}
	logConfig.JSON = cfg.Logging.Format == "json" && o.verbose
	logConfig.Output = cmd.ErrOrStderr()
	log := logger.New(logConfig).With("service", "chat-cli")

	app, err := o.newApp(cfg, log)
	if err != nil {
		return nil, err
	}
	if !o.quiet {
		app.OnNotification(printNotification(cmd.ErrOrStderr()))
	}
	app.Ops.SetActiveConversation(o.conversation)
	return app, nil
}

func printNotification(w io.Writer) func(notify.Notification) {
	return func(n notify.Notification) {
		if n.Destructive() {
			fmt.Fprintf(w, "! %s: %s\n", n.Title, n.Description)
			return
		}
		fmt.Fprintf(w, "* %s: %s\n", n.Title, n.Description)
	}
}

func requireConversation(o *rootOptions) error {
	if o.conversation == "" {
		return fmt.Errorf("no conversation selected, pass --conversation or set ACTIONIT_CONVERSATION")
	}
	return nil
}
