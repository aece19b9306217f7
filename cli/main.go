// Package main provides csa, the terminal client of the CS assistant.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xiaot623/csassistant/cli/tui"
	"github.com/xiaot623/csassistant/internal/config"
	"github.com/xiaot623/csassistant/internal/domain"
	"github.com/xiaot623/csassistant/internal/export"
	"github.com/xiaot623/csassistant/internal/logging"
	"github.com/xiaot623/csassistant/internal/service"
)

// cliState is shared by every subcommand.
type cliState struct {
	cfg      *config.Config
	logger   *zap.Logger
	logFile  string
	logLevel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	st := &cliState{}

	root := &cobra.Command{
		Use:   "csa",
		Short: "CS Assistant - computer science Q&A in your terminal",
		Long: `csa answers computer science questions from a built-in knowledge base.

Run without arguments to start the interactive chat interface. The
conversation, theme and search history are kept in the local database
configured by STORAGE_DRIVER / DATABASE_URL / PEBBLE_PATH.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			st.cfg = config.Load()
			level := st.logLevel
			if level == "" {
				level = st.cfg.LogLevel
			}
			// Stdout belongs to the UI, so logs always go to a file.
			logger, err := logging.NewFile(level, st.logFile)
			if err != nil {
				return err
			}
			st.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if st.logger != nil {
				_ = st.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, st)
		},
	}

	root.PersistentFlags().StringVar(&st.logFile, "log-file", filepath.Join(os.TempDir(), "csa.log"), "log file path")
	root.PersistentFlags().StringVar(&st.logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to LOG_LEVEL")
	root.Flags().String("export-dir", ".", "directory for ctrl+s transcripts")

	root.AddCommand(
		newTUICmd(st),
		newChatCmd(st),
		newAskCmd(st),
		newExportCmd(st),
		newClearCmd(st),
		newThemeCmd(st),
		newHistoryCmd(st),
	)
	return root
}

// withApp opens the local core for the duration of fn.
func withApp(cmd *cobra.Command, st *cliState, fn func(ctx context.Context, app *localApp) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := openLocalApp(ctx, st.cfg, st.logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func runTUI(cmd *cobra.Command, st *cliState) error {
	exportDir, _ := cmd.Flags().GetString("export-dir")
	return withApp(cmd, st, func(ctx context.Context, app *localApp) error {
		return tui.Run(ctx, app.svc, tui.Options{
			SessionID: service.LocalSession,
			ExportDir: exportDir,
			Output:    os.Stdout,
			Logger:    st.logger,
		})
	})
}

func newTUICmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Start the interactive chat interface (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, st)
		},
	}
	cmd.Flags().String("export-dir", ".", "directory for ctrl+s transcripts")
	return cmd
}

func newChatCmd(st *cliState) *cobra.Command {
	var addr, sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running server over WebSocket",
		Long: `Connects to the server's /ws endpoint and chats line by line.

Commands:
  /edit <id> <text>  edit one of your earlier messages
  /clear             reset the conversation
  /cancel            drop the pending reply
  /quit              exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Connecting to %s...\n", addr)

			client, err := NewClient(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			ack, err := client.SendHello(sessionID)
			if err != nil {
				return err
			}
			st.logger.Info("chat_connected", zap.String("addr", addr), zap.String("session_id", ack.SessionID))

			fmt.Fprintf(out, "Session established: %s\n", ack.SessionID)
			for _, m := range ack.Messages {
				fmt.Fprintln(out, formatMessage(m))
			}
			fmt.Fprintln(out, "\nType a message and press Enter to send. /quit to exit.")

			go client.ReadMessages(out)

			done := make(chan error, 1)
			go func() { done <- runChatLoop(client, cmd.InOrStdin(), out) }()

			select {
			case err := <-done:
				return err
			case <-cmd.Context().Done():
				fmt.Fprintln(out, "\nInterrupted")
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "ws://localhost:8080/ws", "WebSocket server address")
	cmd.Flags().StringVar(&sessionID, "session", "", "session to join (a new one when empty)")
	return cmd
}

func newAskCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Print the answer to a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, st, func(ctx context.Context, app *localApp) error {
				res := app.svc.Select(strings.Join(args, " "))
				fmt.Fprintln(cmd.OutOrStdout(), res.Text)
				return nil
			})
		},
	}
}

func newExportCmd(st *cliState) *cobra.Command {
	var outDir string
	var toClipboard bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Save the conversation transcript to a file or the clipboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, st, func(ctx context.Context, app *localApp) error {
				out := cmd.OutOrStdout()
				messages := app.session(ctx).Snapshot()
				if toClipboard {
					method, err := export.Copy(export.Transcript(messages), out)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Copied %d messages (%s)\n", len(messages), method)
					return nil
				}
				path, err := export.WriteFile(outDir, messages, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "directory to write the transcript to")
	cmd.Flags().BoolVar(&toClipboard, "copy", false, "copy to the clipboard instead of writing a file")
	return cmd
}

func newClearCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Reset the conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, st, func(ctx context.Context, app *localApp) error {
				if err := app.session(ctx).Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Chat cleared")
				return nil
			})
		},
	}
}

func newThemeCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:       "theme [dark|light]",
		Short:     "Show or set the chat theme",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(domain.ThemeDark), string(domain.ThemeLight)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, st, func(ctx context.Context, app *localApp) error {
				if len(args) == 1 {
					theme, err := domain.ParseTheme(args[0])
					if err != nil {
						return err
					}
					if err := app.svc.SetTheme(ctx, service.LocalSession, theme); err != nil {
						return err
					}
				}
				theme, err := app.svc.Theme(ctx, service.LocalSession)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), theme)
				return nil
			})
		},
	}
}

func newHistoryCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List recent questions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, st, func(ctx context.Context, app *localApp) error {
				history, err := app.session(ctx).SearchHistory(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(history) == 0 {
					fmt.Fprintln(out, "No questions yet")
					return nil
				}
				for i, q := range history {
					fmt.Fprintf(out, "%2d. %s\n", i+1, q)
				}
				return nil
			})
		},
	}
}
