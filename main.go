package main

// @title Linkdrop API
// @version 1.0
// @description Ephemeral links to a personal message and image, delivered by email.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @BasePath /
// @schemes http https

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"

	_ "linkdrop/docs"
	"linkdrop/internal/api"
	"linkdrop/internal/cache"
	"linkdrop/internal/config"
	"linkdrop/internal/notify"
	"linkdrop/internal/pkg/log"
	"linkdrop/internal/repository"
	"linkdrop/internal/service"
	"linkdrop/internal/storage"
)

func main() {
	serveCmd := &cli.Command{
		Name:  "serve",
		Usage: "starts the HTTP server",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "listen port, overrides PORT"},
		},
		Action: serve,
	}
	app := &cli.App{
		Name:  "linkdrop",
		Usage: "ephemeral message links delivered by email",
		Commands: []*cli.Command{
			serveCmd,
			{
				Name:   "migrate",
				Usage:  "creates the messages table and exits",
				Action: migrate,
			},
		},
		Flags:  serveCmd.Flags,
		Action: serve,
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func migrate(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	repo, err := repository.Open(c.Context, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.Migrate(c.Context); err != nil {
		return err
	}
	log.Info("Messages table is up to date (%s)", cfg.Database.Driver)
	return nil
}

func serve(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if cfg.Server.Debug {
		log.DebugStruct("config", cfg.Redacted())
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := c.Context
	if cfg.Database.Driver == config.DriverSQLite {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	repo, err := repository.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.Migrate(ctx); err != nil {
		return err
	}
	log.Info("Connected to %s", cfg.Database.Driver)

	store, err := newImageStore(ctx, cfg)
	if err != nil {
		return err
	}
	notifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}
	receipts, closeReceipts, err := newReceipts(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeReceipts()

	svc := service.NewLinkService(repo, store, notifier, receipts, service.Options{
		MaxTTL:         cfg.Limits.MaxTTL,
		MaxUploadBytes: cfg.Limits.MaxUploadBytes,
	})
	handler := api.NewAPIHandler(svc, repo, cfg.Server.BaseURL, cfg.Limits.MaxUploadBytes)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(handler),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting on port %d...", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to run server: %w", err)
	case sig := <-quit:
		log.Info("Received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("Server stopped")
	return nil
}

func newImageStore(ctx context.Context, cfg *config.Config) (service.ImageStore, error) {
	switch cfg.Storage.Backend {
	case config.StoreS3:
		store, err := storage.NewS3Store(ctx, cfg.Storage.S3)
		if err != nil {
			return nil, err
		}
		log.Info("Storing images in bucket %s", cfg.Storage.S3.Bucket)
		return store, nil
	default:
		store, err := storage.NewLocalStore(cfg.UploadDir())
		if err != nil {
			return nil, err
		}
		log.Info("Storing images in %s", cfg.UploadDir())
		return store, nil
	}
}

func newNotifier(cfg *config.Config) (service.Notifier, error) {
	switch cfg.Email.Provider {
	case config.ProviderACS:
		return notify.NewACSSender(cfg.Email.ConnectionString, cfg.Email.From,
			notify.WithPollTimeout(cfg.Email.PollTimeout))
	case config.ProviderSMTP:
		return notify.NewSMTPSender(cfg.Email.SMTPHost, cfg.Email.SMTPPort,
			cfg.Email.SMTPUser, cfg.Email.SMTPPassword, cfg.Email.From,
			notify.WithSMTPSecurity(cfg.Email.SMTPSecurity))
	default:
		log.Warn("EMAIL_PROVIDER=log: links are written to the log, not emailed")
		return notify.LogSender{}, nil
	}
}

// newReceipts connects to Redis when REDIS_ADDR is set. Without it no receipts are kept.
func newReceipts(ctx context.Context, cfg *config.Config) (service.ReceiptCache, func(), error) {
	if cfg.Redis.Addr == "" {
		return nil, func() {}, nil
	}
	client, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	log.Info("Connected to Redis at %s", cfg.Redis.Addr)
	return cache.NewRedisReceipts(client), func() { client.Close() }, nil
}
