package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/chat-anonymizer/internal/audit"
	"github.com/raaihank/chat-anonymizer/internal/cache"
	"github.com/raaihank/chat-anonymizer/internal/config"
	"github.com/raaihank/chat-anonymizer/internal/logger"
	"github.com/raaihank/chat-anonymizer/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the anonymization HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				a.cfg.Server.Port = port
			}
			return runServe(a.loader, a.cfg, a.log)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default from config)")
	return cmd
}

// services holds the optional backends of the server
type services struct {
	cache *cache.ResultCache
	audit *audit.Store
}

func (s *services) cleanup() {
	if s.cache != nil {
		s.cache.Close()
	}
	if s.audit != nil {
		s.audit.Close()
	}
}

// initializeServices connects the backends enabled in the configuration
func initializeServices(ctx context.Context, cfg *config.Config, log *logger.Logger) (*services, error) {
	svc := &services{}

	if cfg.Cache.Enabled {
		log.Info("Initializing result cache...")
		rc, err := cache.New(cache.Config{
			RedisURL:  cfg.Cache.RedisURL,
			Password:  cfg.Cache.Password,
			DB:        cfg.Cache.DB,
			PoolSize:  cfg.Cache.PoolSize,
			TTL:       cfg.Cache.TTL,
			KeyPrefix: cfg.Cache.KeyPrefix,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize result cache: %w", err)
		}
		svc.cache = rc
	}

	if cfg.Audit.Enabled {
		log.Info("Initializing audit store...")
		store, err := audit.Open(ctx, audit.Config{
			DatabaseURL:     cfg.Audit.DatabaseURL,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		}, log)
		if err != nil {
			svc.cleanup()
			return nil, fmt.Errorf("failed to initialize audit store: %w", err)
		}
		svc.audit = store
	}

	return svc, nil
}

func runServe(loader *config.Loader, cfg *config.Config, log *logger.Logger) error {
	log.Info("Starting chat anonymizer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := initializeServices(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.cleanup()

	var opts []server.Option
	if svc.cache != nil {
		opts = append(opts, server.WithCache(svc.cache))
	}
	if svc.audit != nil {
		opts = append(opts, server.WithRunLog(svc.audit))
	}

	srv, err := server.New(cfg, log, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if loader.ConfigFile() != "" {
		loader.Watch(log.WithComponent("config"), srv.UpdateConfig)
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
		}
		return err
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelShutdown()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server gracefully: %w", err)
		}
		cancel()

		log.Info("Server shutdown complete")
		return nil
	}
}

func newHealthCmd(a *app) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				url = fmt.Sprintf("http://localhost:%d/health", a.cfg.Server.Port)
			}
			if err := performHealthCheck(url); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Health check passed")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Health endpoint (default http://localhost:<port>/health)")
	return cmd
}

// performHealthCheck performs a health check against a running server
func performHealthCheck(url string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: HTTP %d", resp.StatusCode)
	}
	return nil
}
