// Command contestbot runs the contest reminder bot.
//
// Usage:
//
//	contestbot serve --config ./config.yaml
//	contestbot tick
//	contestbot contests
//	contestbot version
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"contestbot/internal/app"
	"contestbot/internal/config"
	"contestbot/internal/reminder"
	"contestbot/internal/timezone"
	logx "contestbot/pkg/logx"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	var f rootFlags
	root := &cobra.Command{
		Use:           "contestbot",
		Short:         "Telegram bot that reminds subscribers of upcoming programming contests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "./config.yaml", "path to config file (yaml or json, optional)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "override logging.level (debug|info|warn|error)")

	root.AddCommand(serveCmd(&f), tickCmd(&f), contestsCmd(&f), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func (f *rootFlags) manager() *config.Manager {
	getenv := func(k string) string {
		if k == config.EnvLogLevel && f.logLevel != "" {
			return f.logLevel
		}
		return os.Getenv(k)
	}
	return config.NewManager(f.configPath, config.WithEnv(getenv))
}

func (f *rootFlags) load() (*config.Config, logx.Logger, error) {
	cfg, err := f.manager().Load()
	if err != nil {
		return nil, logx.Logger{}, err
	}
	return cfg, logx.NewConsole(cfg.Logging.Level), nil
}

func serveCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: commands, scheduled reminders and HTTP endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgm := f.manager()
			if _, err := cfgm.Load(); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a, err := app.New(ctx, cfgm)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}

			reason := app.StopUnknown
			select {
			case sig := <-sigCh:
				reason = app.StopSIGINT
				if sig == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				reason = app.StopFatalError
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer stopCancel()
			_ = a.Stop(stopCtx, reason)
			return a.Err()
		},
	}
}

func tickCmd(f *rootFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one reminder tick now and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := f.load()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx, cancelT := context.WithTimeout(ctx, timeout)
			defer cancelT()

			rep, err := app.TickOnce(ctx, cfg, log)
			if err != nil {
				return err
			}
			return printJSON(cmd, rep)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "tick timeout")
	return cmd
}

func contestsCmd(f *rootFlags) *cobra.Command {
	var (
		tz    string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "contests",
		Short: "List upcoming contests from the configured source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := f.load()
			if err != nil {
				return err
			}
			if tz == "" {
				tz = cfg.Reminders.DefaultTimezone
			}
			loc, err := timezone.Load(tz)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			list, err := app.Upcoming(ctx, cfg, log)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if limit > 0 && len(list) > limit {
				list = list[:limit]
			}
			for _, c := range list {
				fmt.Fprintf(out, "%-22s %-12s %-16s %s\n",
					reminder.LocalTime(c.Start, loc), c.Platform(), reminder.HumanDuration(c.Duration), c.Title)
			}
			fmt.Fprintf(out, "%d contest(s)\n", len(list))
			return nil
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "", "timezone for displayed times (default reminders.default_timezone)")
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many contests (0 = all)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
