package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"pastebin/internal/container"
	"pastebin/internal/core"
	"pastebin/internal/pasteid"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	Listen               string
	ListenTLS            string
	CertFile             string
	KeyFile              string
	DataDir              string
	StagingDir           string
	BaseURL              string
	IDLength             int
	MaxUploadSize        int64
	MaxConcurrentUploads int
	SecretFile           string
	Secret               container.Secret
	LogLevel             log.Level
}

// parseOptions reads the command line. Every flag falls back to an
// environment variable so the service can be configured from a unit file or
// container definition without arguments.
func parseOptions(args []string, getenv func(string) string) (options, error) {
	env := func(key string, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	envInt := func(key string, def int64) (int64, error) {
		v := getenv(key)
		if v == "" {
			return def, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return n, nil
	}

	idLength, err := envInt("PASTEBIN_ID_LENGTH", pasteid.DefaultLength)
	if err != nil {
		return options{}, err
	}
	maxUploadSize, err := envInt("PASTEBIN_MAX_UPLOAD_SIZE", core.DefaultMaxUploadSize)
	if err != nil {
		return options{}, err
	}
	maxConcurrent, err := envInt("PASTEBIN_MAX_CONCURRENT_UPLOADS", core.DefaultMaxConcurrentUploads)
	if err != nil {
		return options{}, err
	}

	var opts options
	var logLevel string

	fs := flag.NewFlagSet("pastebin", flag.ContinueOnError)
	fs.StringVar(&opts.Listen, "listen", env("PASTEBIN_LISTEN", ":8000"), "HTTP listen address")
	fs.StringVar(&opts.ListenTLS, "listen-tls", env("PASTEBIN_LISTEN_TLS", ":8443"), "HTTPS listen address, used when a certificate is given")
	fs.StringVar(&opts.CertFile, "tls-cert", getenv("PASTEBIN_TLS_CERT"), "TLS certificate file")
	fs.StringVar(&opts.KeyFile, "tls-key", getenv("PASTEBIN_TLS_KEY"), "TLS private key file")
	fs.StringVar(&opts.DataDir, "data-dir", env("PASTEBIN_DATA_DIR", core.DefaultDataDir), "directory holding one file per paste")
	fs.StringVar(&opts.StagingDir, "staging-dir", getenv("PASTEBIN_STAGING_DIR"), "directory for uploads in progress (default <data-dir>.staging)")
	fs.StringVar(&opts.BaseURL, "host", env("HOST", core.DefaultBaseURL), "externally visible base URL used in links")
	fs.IntVar(&opts.IDLength, "id-length", int(idLength), "number of characters in generated ids")
	fs.Int64Var(&opts.MaxUploadSize, "max-upload-size", maxUploadSize, "largest accepted upload in bytes, 0 for no limit")
	fs.IntVar(&opts.MaxConcurrentUploads, "max-concurrent-uploads", int(maxConcurrent), "uploads handled at the same time before answering 503")
	fs.StringVar(&opts.SecretFile, "secret-file", getenv("PASTEBIN_SECRET_FILE"), "file containing the secret for encrypted uploads")
	fs.StringVar(&logLevel, "log-level", env("PASTEBIN_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.LogLevel, err = log.ParseLevel(logLevel)
	if err != nil {
		return options{}, err
	}

	switch {
	case opts.SecretFile != "":
		data, err := os.ReadFile(opts.SecretFile)
		if err != nil {
			return options{}, fmt.Errorf("failed to read secret file: %w", err)
		}
		opts.Secret = container.Secret(strings.TrimSpace(string(data)))
	case getenv("PASTEBIN_SECRET") != "":
		opts.Secret = container.Secret(getenv("PASTEBIN_SECRET"))
	}

	return opts, nil
}

func Run(ctx context.Context, args []string) error {

	opts, err := parseOptions(args, os.Getenv)
	if err != nil {
		return err
	}

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           opts.LogLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	// Ensure data directory is absolute for easier debugging.
	absDataDir, err := filepath.Abs(opts.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}

	cfg := core.NewConfig(
		core.WithDataDir(absDataDir),
		core.WithStagingDir(opts.StagingDir),
		core.WithBaseURL(opts.BaseURL),
		core.WithIDLength(opts.IDLength),
		core.WithMaxUploadSize(opts.MaxUploadSize),
		core.WithMaxConcurrentUploads(opts.MaxConcurrentUploads),
		core.WithSecret(opts.Secret),
	)

	server, err := core.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create pastebin server: %w", err)
	}

	if len(opts.Secret) == 0 {
		slog.Warn("No secret configured, encrypted uploads are disabled")
	}

	router := server.Handler()

	// No WriteTimeout: large pastes are streamed and may legitimately take
	// longer than any fixed deadline.
	httpServer := &http.Server{
		Addr:              opts.Listen,
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
	}

	httpsServer := &http.Server{
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		Addr:              opts.ListenTLS,
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(httpServer.Shutdown(shutdownCtx), httpsServer.Shutdown(shutdownCtx))
	})

	eg.Go(func() error {
		if opts.CertFile == "" || opts.KeyFile == "" {
			slog.Debug("Skipping HTTPS service because no certificate was provided")
			return nil
		}

		slog.Info("Starting pastebin HTTPS server", "addr", opts.ListenTLS)
		err := httpsServer.ListenAndServeTLS(opts.CertFile, opts.KeyFile)
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		slog.Info("Starting pastebin HTTP server", "addr", opts.Listen, "data_dir", absDataDir, "base_url", opts.BaseURL)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("Pastebin started")
	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, os.Args[1:]); err != nil {
		slog.Error("Pastebin exited with error", "error", err)
		os.Exit(1)
	}
}
