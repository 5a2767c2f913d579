package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/syntharb/internal/app"
	"github.com/alanyoungcy/syntharb/internal/config"
	"github.com/alanyoungcy/syntharb/internal/domain"
)

var configPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "syntharb",
		Short: "Synthetic pricing and arbitrage detection across crypto exchanges",
		Long: `syntharb streams market data from Binance, OKX and Bybit (or a demo
generator), prices spot and perpetual instruments, and detects
cross-exchange, spot-perp and funding-rate opportunities.`,
		SilenceUsage: true,
		RunE:         runApp,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml",
		"path to configuration file")

	root.AddCommand(newRunCommand())
	root.AddCommand(newConfigCommand())
	root.AddCommand(newInstrumentsCommand())
	root.AddCommand(newTailCommand())
	root.AddCommand(newHistoryCommand())
	root.AddCommand(newAuditCommand())
	return root
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the detector in the configured mode",
		RunE:  runApp,
	}
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate the configuration and print it with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(config.RedactedConfig(cfg))
		},
	}
}

func newInstrumentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "instruments",
		Short: "Print the resolved instrument registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)

			ctx, stop := signalContext()
			defer stop()

			deps, cleanup, err := app.Wire(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			specs, err := app.ResolveInstruments(ctx, cfg, deps.InstrumentStore, logger)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEXCHANGE\tSYMBOL\tTYPE\tUNDERLYING")
			for _, s := range specs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID(), s.Exchange, s.Symbol, s.Type, s.Underlying())
			}
			return w.Flush()
		},
	}
}

func newTailCommand() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow a bus channel of a running detector (requires redis)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBus(func(ctx context.Context, bus domain.SignalBus) error {
				msgs, err := bus.Subscribe(ctx, channel)
				if err != nil {
					return fmt.Errorf("subscribe %s: %w", channel, err)
				}
				out := cmd.OutOrStdout()
				for {
					select {
					case <-ctx.Done():
						return nil
					case msg, ok := <-msgs:
						if !ok {
							return nil
						}
						fmt.Fprintln(out, string(msg))
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", domain.ChannelOpportunities,
		"bus channel to follow; a trailing * subscribes to a pattern")
	return cmd
}

func newHistoryCommand() *cobra.Command {
	var (
		count int
		after string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent opportunity cycles from the durable stream (requires redis)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBus(func(ctx context.Context, bus domain.SignalBus) error {
				msgs, err := bus.StreamRead(ctx, domain.ChannelOpportunities, after, count)
				if err != nil {
					return fmt.Errorf("read stream: %w", err)
				}
				out := cmd.OutOrStdout()
				for _, m := range msgs {
					ts := "-"
					if !m.PublishedAt.IsZero() {
						ts = m.PublishedAt.UTC().Format(time.RFC3339Nano)
					}
					fmt.Fprintf(out, "%s %s %s\n", m.ID, ts, m.Payload)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 20, "maximum number of entries")
	cmd.Flags().StringVar(&after, "after", "0", "stream id to read after")
	return cmd
}

func newAuditCommand() *cobra.Command {
	var (
		event    string
		exchange string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent feed and engine audit entries (requires postgres)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Postgres.Enabled {
				return fmt.Errorf("postgres is disabled in %s", configPath)
			}
			opts := domain.ListOpts{Event: event, Limit: limit}
			if exchange != "" {
				ex, err := domain.ParseExchange(exchange)
				if err != nil {
					return err
				}
				opts.Exchange = ex
			}
			setupLogger(cfg.LogLevel)

			ctx, stop := signalContext()
			defer stop()

			deps, cleanup, err := app.Wire(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := deps.AuditStore.List(ctx, opts)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tEVENT\tDETAIL")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%v\n", e.CreatedAt.Format(time.RFC3339), e.Event, e.Detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&event, "event", "", "only entries of this event (feed_status, engine_started, engine_stopped)")
	cmd.Flags().StringVar(&exchange, "exchange", "", "only entries for this exchange")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	return cmd
}

func runApp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.LogLevel)

	logger.Info("syntharb starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("syntharb stopped")
	return nil
}

// withBus wires the dependencies and hands fn the redis signal bus.
func withBus(fn func(ctx context.Context, bus domain.SignalBus) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Redis.Enabled {
		return fmt.Errorf("redis is disabled in %s", configPath)
	}
	setupLogger(cfg.LogLevel)

	ctx, stop := signalContext()
	defer stop()

	deps, cleanup, err := app.Wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, deps.SignalBus)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogger installs a JSON logger at level as the process default.
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
