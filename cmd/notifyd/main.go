// Package main runs the interest notification endpoint: it accepts contact
// form submissions from the portfolio front end over HTTP and relays each
// accepted one as an email through the configured SMTP relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"portfoliorelay/internal/config"
	"portfoliorelay/internal/intake"
	"portfoliorelay/internal/relay"

	"github.com/LixenWraith/logger"
	"golang.org/x/time/rate"
)

const appName = "notifyd"

// reloadableHandler lets SIGHUP swap the handler without restarting the listener.
type reloadableHandler struct {
	current atomic.Pointer[intake.Handler]
}

func (h *reloadableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.current.Load().ServeHTTP(w, r)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, configExists, err := config.Load(appName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if !configExists {
		if err := config.Save(cfg, appName); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save configuration: %v\n", err)
		}
	}

	// Fail fast: never start with an incomplete relay or origin setup.
	if err := cfg.ValidateServer(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(ctx, &cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info(ctx, "Starting interest notification service",
		"listen_addr", cfg.Server.ListenAddr,
		"submit_path", cfg.Server.SubmitPath,
		"smtp_host", cfg.SMTP.Host,
		"smtp_port", cfg.SMTP.Port,
		"allowed_origins", cfg.Server.AllowedOrigins)

	var limiter *intake.RateLimiter
	if cfg.Server.RateLimit.Enabled {
		limiter = intake.NewRateLimiter(cfg.Server.RateLimit.Limit, cfg.Server.RateLimit.Window)
		go limiter.Run(ctx, cfg.Server.RateLimit.SweepInterval)
	} else {
		logger.Warn(ctx, "Per-client rate limiting disabled",
			"reason", "stateless deployment",
			"effect", "abuse protection limited to the global throttle")
	}

	handler := &reloadableHandler{}
	handler.current.Store(buildHandler(cfg, limiter))

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           intake.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go handleSignals(ctx, cancel, sigChan, handler, limiter)

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		logger.Info(shutdownCtx, "Initiating shutdown sequence")
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "Server shutdown error", "error", err)
		}
	}()

	logger.Info(ctx, "Server started", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(ctx, "Server error", "error", err)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := logger.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Logger shutdown error: %v\n", err)
	}
}

// buildHandler wires the relay and limiters for one configuration generation.
// The per-client limiter outlives reloads so a SIGHUP cannot reset it.
func buildHandler(cfg *config.Config, limiter *intake.RateLimiter) *intake.Handler {
	opts := []intake.Option{}
	if limiter != nil {
		opts = append(opts, intake.WithRateLimiter(limiter))
	}
	if rl := cfg.Server.RateLimit; rl.GlobalRPS > 0 {
		opts = append(opts, intake.WithThrottle(rate.NewLimiter(rate.Limit(rl.GlobalRPS), max(rl.GlobalBurst, 1))))
	}
	return intake.NewHandler(cfg, relay.NewSMTPSender(cfg.SMTP), opts...)
}

// handleSignals reloads on SIGHUP and cancels ctx on SIGINT/SIGTERM.
func handleSignals(ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal, handler *reloadableHandler, limiter *intake.RateLimiter) {
	logger.Debug(ctx, "Starting signal handler")
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				if err := reloadConfig(ctx, handler, limiter); err != nil {
					logger.Error(ctx, "Failed to reload configuration", "error", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Info(ctx, "Received shutdown signal", "signal", sig.String())
				cancel()
				return
			}
		}
	}
}

// reloadConfig re-reads configuration and swaps in a new handler. Listen
// address, timeouts and rate limit window changes need a restart.
func reloadConfig(ctx context.Context, handler *reloadableHandler, limiter *intake.RateLimiter) error {
	newConfig, configExists, err := config.Load(appName)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}
	if !configExists {
		return fmt.Errorf("configuration file not found")
	}
	if err := newConfig.ValidateServer(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Init(ctx, &newConfig.Logging); err != nil {
		return fmt.Errorf("failed to reinitialize logger: %w", err)
	}

	handler.current.Store(buildHandler(newConfig, limiter))
	logger.Info(ctx, "Configuration reloaded successfully", "allowed_origins", newConfig.Server.AllowedOrigins)
	return nil
}
