package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/convey/internal/app"
	"github.com/conneroisu/convey/internal/config"
	"github.com/conneroisu/convey/internal/livereload"
	"github.com/conneroisu/convey/internal/metrics"
	"github.com/conneroisu/convey/internal/server"
	"github.com/conneroisu/convey/internal/version"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the application server",
	Long: `Start the application server. Controllers, models, libraries and views
are reloaded when they change; a change to the configuration or routes file
reloads the whole application.

Examples:
  convey serve                     # Serve on localhost:3000
  convey serve --port 8080         # Serve on another port
  convey serve --no-reload         # Serve without watching files`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addServerFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if noReload, _ := cmd.Flags().GetBool("no-reload"); noReload {
		viper.Set("development.hot_reload", false)
		viper.Set("development.live_reload", false)
		cfg.Development.HotReload = false
		cfg.Development.LiveReload = false
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.New(metrics.Config{})

	var hub *livereload.Hub
	if cfg.Development.HotReload && cfg.Development.LiveReload {
		hub = livereload.NewHub(cfg.Server.AllowedOrigins, logger)
		hub.SetObserver(collector)
		go hub.Run(ctx)
	}

	application := app.New(app.Options{
		Viper:      viper.GetViper(),
		Logger:     logger,
		Metrics:    collector,
		LiveReload: hub,
	})
	if err := application.Init(ctx); err != nil {
		return err
	}

	if cfg.Development.HotReload {
		fw, err := application.Watch(ctx)
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		defer fw.Stop()
	}

	srv := server.New(server.Options{
		Config:     application.Config(),
		Dispatch:   application,
		LiveReload: hub,
		Metrics:    collector.Handler(),
		Logger:     logger,
	})

	printBanner(cmd, application.Config())

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Server stopped")
	return nil
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	fmt.Fprintf(out, "%s %s\n", bold("convey"), dim(version.Get().Short()))
	fmt.Fprintf(out, "  %s http://%s\n", green("➜"), cfg.Address())
	if cfg.Server.MetricsPath != "" {
		fmt.Fprintf(out, "  %s metrics at %s\n", dim("•"), cfg.Server.MetricsPath)
	}
	if cfg.Development.HotReload {
		fmt.Fprintf(out, "  %s watching %s\n", dim("•"), cfg.Resolve(cfg.Paths.Application))
	}
	if cfg.Development.HotReload && cfg.Development.LiveReload {
		fmt.Fprintf(out, "  %s live reload enabled\n", dim("•"))
	}
}
