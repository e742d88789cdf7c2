package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"calagg/internal/aggregate"
	"calagg/internal/cache"
	"calagg/internal/config"
	appLog "calagg/internal/log"
	"calagg/internal/metrics"
	"calagg/internal/present"
	"calagg/internal/scheduler"
	"calagg/internal/source"
	"calagg/internal/web"
	"calagg/internal/window"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "calagg",
		Short:         "Aggregate ICS, CalDAV and Google calendars into one event list",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "/etc/calagg/config.yaml", "Path to config file")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")

	cmd.AddCommand(newRunCommand(opts), newServeCommand(opts))
	return cmd
}

// app is the wiring shared by every command.
type app struct {
	cfg     *config.Config
	agg     *aggregate.Aggregator
	metrics *metrics.Metrics
}

func loadApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.configPath, err)
	}
	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	appLog.Configure(appLog.Level(level), cfg.Log.Format)

	appLog.Info("effective config",
		"config_path", opts.configPath,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"layout", cfg.Layout,
		"refresh", cfg.RefreshCron,
		"include_past_events", cfg.IncludePastEvents,
		"source_count", len(cfg.Sources),
		"cache_backend", cfg.Cache.Backend,
	)

	sources, err := source.NewAll(ctx, cfg.Sources, source.Options{CacheDir: cfg.CacheDir, Timeout: cfg.FetchTimeout})
	if err != nil {
		return nil, err
	}
	settings, err := aggregate.SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	return &app{
		cfg:     cfg,
		agg:     aggregate.New(sources, settings, aggregate.WithMetrics(m)),
		metrics: m,
	}, nil
}

func newRunCommand(root *rootOptions) *cobra.Command {
	var (
		nowFlag string
		layout  string
		pretty  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one aggregation and print the payload as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, root)
			if err != nil {
				return err
			}

			var req aggregate.Request
			if nowFlag != "" {
				req.Now, err = time.Parse(time.RFC3339, nowFlag)
				if err != nil {
					return fmt.Errorf("--now: %w", err)
				}
			}
			if layout != "" {
				if req.Layout, err = window.ParseMode(layout); err != nil {
					return err
				}
			}

			res, err := a.agg.Run(ctx, req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(present.Build(res, present.OptionsFromConfig(a.cfg)))
		},
	}
	cmd.Flags().StringVar(&nowFlag, "now", "", "Evaluate as of this RFC 3339 instant instead of the current time")
	cmd.Flags().StringVar(&layout, "layout", "", "Layout mode; overrides config")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	return cmd
}

func newServeCommand(root *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and refresh on the configured schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Root context with cancellation on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, root)
			if err != nil {
				return err
			}
			// CLI --listen overrides config file listen if provided.
			if listen != "" {
				a.cfg.Listen = listen
			}

			store, err := cache.New(a.cfg.Cache)
			if err != nil {
				return err
			}
			defer store.Close()

			srv := web.NewServer(a.cfg, a.agg, store, a.metrics)
			sched, err := scheduler.New(a.cfg.RefreshCron, a.cfg.Location(), srv.Refresh)
			if err != nil {
				return err
			}

			// Warm the cache before the first tick.
			go sched.RunNow(ctx)
			go func() {
				if err := sched.Start(ctx); err != nil {
					appLog.Error("scheduler exited", err)
				}
			}()

			err = web.StartServer(ctx, srv)
			appLog.Info("calagg exiting")
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}
