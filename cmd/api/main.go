// The imagefeed api server: feeds, image uploads, and tokenized share
// links over a sqlite database and a blob store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	_ "modernc.org/sqlite"

	"github.com/calmctl/imagefeed/internal/api"
	"github.com/calmctl/imagefeed/internal/migrations"
	"github.com/calmctl/imagefeed/internal/sqlite"
	"github.com/calmctl/imagefeed/internal/storage"
	"github.com/calmctl/imagefeed/internal/token"
	"github.com/calmctl/imagefeed/logger"
)

type config struct {
	Database      string `env:"DATABASE, required"`
	Port          int    `env:"PORT, default=8000"`
	ManagementKey string `env:"MANAGEMENT_KEY, required"`
	CorsHeader    string `env:"CORS_HEADER, default=*"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`

	// Blob storage: "local" writes under UploadDir, "s3" talks to an
	// S3-compatible bucket.
	StorageDriver string `env:"STORAGE_DRIVER, default=local"`
	UploadDir     string `env:"UPLOAD_DIR, default=uploads"`
	S3Region      string `env:"S3_REGION"`
	S3Bucket      string `env:"S3_BUCKET"`
	S3AccessKey   string `env:"S3_ACCESS_KEY"`
	S3SecretKey   string `env:"S3_SECRET_KEY"`
	S3Endpoint    string `env:"S3_ENDPOINT"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	// Determine which logger format to use
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if cfg.LoggerFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	slog.SetDefault(slog.New(logger.NewContextHandler(handler)))

	if err := runServer(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, cfg config) error {
	// Connect to the sqlite db
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", cfg.Database))
	if err != nil {
		return fmt.Errorf("error opening database: %s", err)
	}
	defer dbx.Close()

	// Run all migrations
	if err := migrations.Run(dbx); err != nil {
		return fmt.Errorf("error running migrations: %s", err)
	}
	slog.Info("migrated")

	blobs, err := newStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("error setting up storage: %s", err)
	}

	repo := sqlite.New(dbx)
	srvr := api.NewServer(api.ServerConfig{
		Port:          cfg.Port,
		ManagementKey: cfg.ManagementKey,
		CorsHeader:    cfg.CorsHeader,
	}, repo, token.NewService(repo), blobs)

	var g run.Group
	g.Add(func() error {
		slog.Info("serving", "port", cfg.Port)
		if err := srvr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}

		return nil
	}, func(error) {
		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srvr.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	if sigErr := (run.SignalError{}); errors.As(err, &sigErr) {
		slog.Info("shutting down", "signal", sigErr.Signal)
		return nil
	}

	return err
}

func newStorage(ctx context.Context, cfg config) (storage.Storage, error) {
	switch cfg.StorageDriver {
	case "local":
		return storage.NewLocal(cfg.UploadDir)
	case "s3":
		return storage.NewS3(ctx, storage.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Endpoint:  cfg.S3Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.StorageDriver)
	}
}
