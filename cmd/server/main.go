// Command server runs the tickr HTTP server: the REST API, the sync stream,
// the MCP endpoint, the static client and the periodic database backup.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kuitang/tickr/internal/api"
	"github.com/kuitang/tickr/internal/backup"
	"github.com/kuitang/tickr/internal/config"
	"github.com/kuitang/tickr/internal/db"
	"github.com/kuitang/tickr/internal/events"
	"github.com/kuitang/tickr/internal/mcp"
	"github.com/kuitang/tickr/internal/notify"
	"github.com/kuitang/tickr/internal/obs"
	"github.com/kuitang/tickr/internal/ratelimit"
	"github.com/kuitang/tickr/internal/s3client"
	"github.com/kuitang/tickr/internal/todo"
	"github.com/kuitang/tickr/internal/web"
)

const backupBucket = "tickr-backups"

func main() {
	obs.Init()
	logger := obs.Pkg("main")

	flags, err := config.ParseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.PrintStartupSummary(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("server_exit", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := obs.Pkg("main")

	database, err := db.Open(cfg.DatabasePath, cfg.DatabaseKey)
	if err != nil {
		return err
	}
	defer database.Close()

	notifier := notify.New(cfg.NotifyBuffer)
	defer notifier.Close()

	svc := todo.NewService(database, notifier)
	if cfg.SeedDefaultList {
		seeded, err := svc.EnsureDefaultList(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed default list: %w", err)
		}
		if seeded {
			logger.Info("default_list_seeded")
		}
	}

	limiter := ratelimit.NewRateLimiter(cfg.RateLimitConfig)
	defer limiter.Stop()

	store, closeStore, err := openBackupStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var wg sync.WaitGroup
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer func() {
		cancelBg()
		wg.Wait()
	}()
	runner := backup.New(database, store, cfg.BackupInterval, cfg.BackupRetain)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Run(bgCtx)
	}()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: newHandler(cfg, svc, notifier, limiter),
		// No WriteTimeout: event streams stay open indefinitely.
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server_shutdown", "timeout", cfg.ShutdownTimeout.String())
	// Ending the subscriptions first lets open streams return so Shutdown
	// does not wait on them.
	notifier.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newHandler assembles every route behind the shared middleware.
func newHandler(cfg *config.Config, svc *todo.Service, notifier *notify.Notifier, limiter *ratelimit.RateLimiter) http.Handler {
	mux := http.NewServeMux()

	api.NewHandler(svc, notifier).RegisterRoutes(mux)
	events.NewHandler(notifier, cfg.SSEHeartbeat).RegisterRoutes(mux)
	if cfg.MCPEnabled {
		mountMCPRoute(mux, "/mcp", mcp.NewServer(svc))
	}
	web.NewStaticHandler(cfg.StaticDir).RegisterRoutes(mux)

	var h http.Handler = mux
	h = ratelimit.WriteLimitMiddleware(limiter, obs.ClientAddr)(h)
	h = obs.AccessLogMiddleware("http", h)
	h = obs.RecoverMiddleware(h)
	h = obs.RequestContextMiddleware(h)
	return h
}

// mountMCPRoute registers every method the Streamable HTTP transport uses.
func mountMCPRoute(mux *http.ServeMux, path string, handler http.Handler) {
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
		mux.Handle(method+" "+path, handler)
	}
}

// openBackupStore returns the configured bucket, or a loopback in-memory one
// under --no-s3.
func openBackupStore(ctx context.Context, cfg *config.Config) (backup.Store, func(), error) {
	if cfg.NoS3 {
		mem, err := s3client.NewInMemory(ctx, backupBucket)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start in-memory bucket: %w", err)
		}
		return mem, func() { _ = mem.Close() }, nil
	}
	client, err := s3client.New(ctx, s3client.Config{
		Endpoint:        cfg.AWSEndpointS3,
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		BucketName:      cfg.AWSBucketName,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return client, func() {}, nil
}
