package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/dropbox_exporter/internal/cleanup"
	"github.com/italolelis/dropbox_exporter/internal/config"
	"github.com/italolelis/dropbox_exporter/internal/downloader"
	"github.com/italolelis/dropbox_exporter/internal/dropbox"
	"github.com/italolelis/dropbox_exporter/internal/http/rest"
	"github.com/italolelis/dropbox_exporter/internal/logctx"
	"github.com/italolelis/dropbox_exporter/internal/notifier"
	"github.com/italolelis/dropbox_exporter/internal/remote"
	"github.com/italolelis/dropbox_exporter/internal/storage/sqlite"
	"github.com/italolelis/dropbox_exporter/internal/telemetry"
)

const clientType = "dropbox"

// version is set at build time.
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logctx.NewJSONLogger(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("dropbox exporter starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	journal := sqlite.NewInstrumentedExportRepository(database, tel)

	if cfg.JournalRetention > 0 {
		go cleanup.Run(ctx, journal, cfg.CleanupInterval, cfg.JournalRetention)
	}

	// =========================================================================
	// Start Dropbox Client
	client := remote.NewInstrumentedClient(dropbox.NewClient(dropbox.Config{
		Identifier:   cfg.Dropbox.Identifier,
		AccessToken:  cfg.Dropbox.AccessToken,
		RefreshToken: cfg.Dropbox.RefreshToken,
		AppKey:       cfg.Dropbox.AppKey,
		AppSecret:    cfg.Dropbox.AppSecret,
		APIURL:       cfg.Dropbox.APIURL,
		ContentURL:   cfg.Dropbox.ContentURL,
		TokenURL:     cfg.Dropbox.TokenURL,
		Timeout:      cfg.Dropbox.RequestTimeout,
	}), tel, clientType)

	if cfg.Dropbox.AccessToken == "" {
		// no initial token, mint one before the first call
		if err := client.RefreshCredential(ctx); err != nil {
			return fmt.Errorf("authentication error: %w", err)
		}
	}

	// =========================================================================
	// Start Exporter
	exporter := downloader.NewExporter(client, tel, journal, downloader.Options{
		Concurrency:   cfg.Dropbox.DownloadThreads,
		PollInterval:  cfg.PollInterval,
		JobTimeout:    cfg.JobTimeout,
		RefreshBudget: &cfg.Dropbox.RefreshBudget,
	})

	supervisor := downloader.NewSupervisor(exporter, downloader.NewRun(cfg.Dropbox.Source, cfg.Dropbox.Destination))

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, supervisor, journal, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// =========================================================================
	// Start Export
	supervisor.Start(ctx)

	logger.Info("exporting...",
		"source", cfg.Dropbox.Source,
		"destination", cfg.Dropbox.Destination,
		"threads", cfg.Dropbox.DownloadThreads,
		"poll_interval", cfg.PollInterval.String(),
	)

	exportDone := supervisor.Done()

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case <-exportDone:
			exportDone = nil

			notifyExportFinished(ctx, supervisor, cfg)

			if cfg.ExitOnFinish {
				return shutdown(ctx, server, cfg, supervisor.Err())
			}

			logger.Info("export finished, serving status until shutdown")
		case <-ctx.Done():
			logger.Info("start shutdown")

			// in-flight downloads observe the cancelled context
			<-supervisor.Done()

			return shutdown(ctx, server, cfg, ctx.Err())
		}
	}
}

func shutdown(ctx context.Context, server *http.Server, cfg *config.Config, result error) error {
	logger := logctx.LoggerFromContext(ctx)

	// Give outstanding requests a deadline for completion.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("failed to gracefully shutdown the server", "err", err)

		if err = server.Close(); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return result
}

func notifyExportFinished(ctx context.Context, supervisor *downloader.Supervisor, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)
	status := supervisor.Status()

	if status.State == downloader.StateFailed {
		logger.Error("export failed", "run_id", status.RunID, "err", status.Error)
	}

	for _, o := range supervisor.Run().Failures() {
		logger.Warn("file was not exported", "file_path", o.Job.Entry.PathLower, "err", o.Err)
	}

	if cfg.DiscordWebhookURL == "" {
		return
	}

	var notif notifier.Notifier = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)

	if err := notif.Notify(context.WithoutCancel(ctx), notifier.FormatStatus(status)); err != nil {
		logger.Error("failed to send notification", "run_id", status.RunID, "err", err)
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	supervisor *downloader.Supervisor,
	journal *sqlite.InstrumentedExportRepository,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	statusHandler := rest.NewStatusHandler(supervisor, journal, cfg.Web.Username, cfg.Web.Password)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", statusHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
