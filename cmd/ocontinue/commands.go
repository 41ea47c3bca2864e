package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/config"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/journal"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/state"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/tui"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hook server and follow opencode session events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			if noSub, _ := cmd.Flags().GetBool("no-subscribe"); noSub {
				cfg.OpenCode.SubscribeEvents = false
			}
			quiet, _ := cmd.Flags().GetBool("quiet")

			opts := appOptions{record: true, notify: true}
			if !quiet {
				opts.out = cmd.OutOrStdout()
			}
			a, err := newApp(cfg, logger, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()
			return serve(ctx, a, logger)
		},
	}
	cmd.Flags().String("addr", "", "override server.addr")
	cmd.Flags().Bool("no-subscribe", false, "do not follow the opencode event stream")
	cmd.Flags().BoolP("quiet", "q", false, "do not echo loop events to stdout")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List the active loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("output")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			loops, err := listLoops(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			out, err := formatStatus(loops, format, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", formatTable, "output format: table, json or yaml")
	return cmd
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session>",
		Short: "Stop the loop running in a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reply, err := stopLoop(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past loop runs from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("output")
			limit, _ := cmd.Flags().GetInt("limit")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runs, err := journal.History(cfg.Resolve(cfg.Journal.Dir))
			if err != nil {
				return err
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[len(runs)-limit:]
			}
			out, err := formatHistory(runs, format)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", formatTable, "output format: table, json or yaml")
	cmd.Flags().IntP("limit", "n", 20, "show at most this many recent runs (0 = all)")
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create ocontinue.toml in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("get working directory: %w", err)
			}
			path, err := config.InitFile(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Open the live dashboard of active loops and the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.State.Backend == state.BackendMemory {
				return fmt.Errorf("watch needs a shared state backend; state.backend is %q", cfg.State.Backend)
			}
			// Logging to stderr would tear the alt screen.
			a, err := newApp(cfg, zap.NewNop(), appOptions{record: true})
			if err != nil {
				return err
			}
			defer a.Close()

			model := tui.New(
				tui.StoreSource{Store: a.store, JournalDir: cfg.Resolve(cfg.Journal.Dir)},
				tui.Options{
					AccentColor: cfg.TUI.AccentColor,
					ProjectName: cfg.Project.Name,
					Refresh:     time.Duration(cfg.TUI.RefreshSeconds) * time.Second,
					Entries:     cfg.TUI.JournalEntries,
					Stop: func(ctx context.Context, sessionID string) (string, error) {
						reply, _, stopErr := a.ctrl.Stop(ctx, sessionID)
						return reply, stopErr
					},
				},
			)
			final, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
			if err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			if m, ok := final.(tui.Model); ok && m.Err() != nil {
				return m.Err()
			}
			return nil
		},
	}
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
