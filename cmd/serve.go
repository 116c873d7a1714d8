package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seismic-bv/seismic/internal/config"
	"github.com/seismic-bv/seismic/internal/contact"
	"github.com/seismic-bv/seismic/internal/monitoring"
	"github.com/seismic-bv/seismic/internal/server"
	"github.com/seismic-bv/seismic/internal/site"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the site and accept contact messages",
	Long: `Serve the Seismic BV site. Contact form submissions are encrypted to the
configured recipient and broadcast to the configured relays.

Examples:
  seismic serve                         # Serve on localhost:8080
  seismic serve --host 0.0.0.0 -p 80    # Listen on all interfaces
  seismic serve --content site.yml -w   # Serve edited content, reload on save`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().String("content", "", "Content file replacing the built-in page content")
	serveCmd.Flags().BoolP("watch", "w", false, "Reload the content file when it changes")
	serveCmd.Flags().String("assets", "", "Directory served under /static/ in front of the built-in assets")

	bindFlags(serveCmd.Flags(), map[string]string{
		"port":    "server.port",
		"host":    "server.host",
		"content": "site.content_file",
		"watch":   "site.watch",
		"assets":  "site.assets_dir",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if result := config.ValidateConfigWithDetails(cfg); result.HasWarnings() {
		for _, w := range result.Warnings {
			logger.Warn(ctx, &w, "Configuration warning", "field", w.Field)
		}
	}

	metrics := monitoring.NewMetrics()

	store, err := site.NewStore(cfg.Site.ContentFile,
		site.WithStoreLogger(logger),
		site.WithReloadRecorder(metrics))
	if err != nil {
		return err
	}
	if cfg.Site.Watch {
		if err := store.Watch(ctx, site.DefaultReloadDelay); err != nil {
			return err
		}
	}

	dispatcher, pool, err := newDispatcher(cfg, logger, contact.WithMetrics(metrics))
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, server.Deps{
		Store:      store,
		Dispatcher: dispatcher,
		Relays:     pool.Relays,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "Starting server",
		"url", fmt.Sprintf("http://%s", cfg.Server.Address()),
		"recipient", dispatcher.Recipient().NPub(),
		"relays", len(pool.Relays()),
		"cipher", cfg.Contact.Cipher)

	if err := srv.Start(ctx); err != nil {
		return err
	}

	// Start returns once the listener closed; wait for running dispatches
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
