package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"actionit/backend/chat"
	"actionit/backend/conversation/models"

	"github.com/spf13/cobra"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	var (
		sender string
		reply  bool
	)
	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send one message to the conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireConversation(opts); err != nil {
				return err
			}
			s, err := models.ParseSender(sender)
			if err != nil {
				return err
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			msg, err := app.Ops.Send(cmd.Context(), strings.Join(args, " "), s)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", msg.ID)

			if reply {
				return assistantReply(cmd, app)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sender, "sender", string(models.SenderUser), "message author (user, assistant, system)")
	cmd.Flags().BoolVar(&reply, "reply", false, "ask the assistant to answer")
	return cmd
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every message of the conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireConversation(opts); err != nil {
				return err
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Ops.ClearMessages(cmd.Context())
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the messages of the conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireConversation(opts); err != nil {
				return err
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			msgs, err := app.Ops.History(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range msgs {
				printMessage(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

func newInteractiveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session",
		Long: `Start an interactive session. Lines are sent as user messages.
Commands: /history, /clear, /retry, /debug, /quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireConversation(opts); err != nil {
				return err
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			return runSession(cmd, app, cmd.InOrStdin())
		},
	}
}

func runSession(cmd *cobra.Command, app *chat.App, in io.Reader) error {
	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(in)
	debug := false
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/clear":
			// failures are already reported as notifications
			_ = app.Ops.ClearMessages(cmd.Context())
			continue
		case "/history":
			msgs, err := app.Ops.History(cmd.Context())
			if err == nil {
				for _, m := range msgs {
					printMessage(out, m)
				}
			}
			continue
		case "/retry":
			retryFailed(cmd, app)
			continue
		case "/debug":
			debug = !debug
			level := slog.LevelWarn
			if debug {
				level = slog.LevelDebug
			}
			app.Logger().SetLevel(level)
			fmt.Fprintf(out, "log level %s\n", strings.ToLower(level.String()))
			continue
		}

		if _, err := app.Ops.Send(cmd.Context(), line, models.SenderUser); err != nil {
			fmt.Fprintln(out, "message kept locally, /retry to send it again")
			continue
		}
		if app.Assistant != nil {
			if err := assistantReply(cmd, app); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "! assistant: %v\n", err)
			}
		}
	}
}

func retryFailed(cmd *cobra.Command, app *chat.App) {
	for _, m := range app.Ops.Messages() {
		if m.Status != models.StatusError {
			continue
		}
		if _, err := app.Ops.Resubmit(cmd.Context(), m.ID); err != nil {
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "resent %s (attempt %d)\n", m.ID, m.RetryCount+1)
	}
}

func assistantReply(cmd *cobra.Command, app *chat.App) error {
	if app.Assistant == nil {
		return fmt.Errorf("assistant is not enabled, set ASSISTANT_ENABLED and OPENAI_API_KEY")
	}
	msg, err := app.Assistant.Reply(cmd.Context(), app.Ops)
	if err != nil {
		return err
	}
	printMessage(cmd.OutOrStdout(), *msg)
	return nil
}

func printMessage(w io.Writer, m models.Message) {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = m.CreatedAt
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", ts.Local().Format(time.Kitchen), m.Sender, m.Content)
}
