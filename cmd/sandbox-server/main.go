// Command sandbox-server runs workflow programs for the remote and
// kubernetes runtimes. It is the process inside a sandbox pod.
//
// Configuration:
//
//	SANDBOX_PORT           - Listen port (default: 8080)
//	SANDBOX_MAX_CONCURRENT - Max concurrent executions (default: 3)
//	SANDBOX_PYTHON         - Python interpreter (default: python3)
//	SANDBOX_MAX_MEMORY_MB  - Per-program address space limit (default: 512)
//	SANDBOX_TEMP_DIR       - Parent of the per-run working directories
//	SANDBOX_NETWORK        - "host" or "none" (default: host)
//
// The pod's network policy must allow egress to the capability gateway.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rhuss/flowgen/pkg/debug"
	"github.com/rhuss/flowgen/pkg/sandbox"
)

func main() {
	debug.Init(debug.Options{})

	port := envOr("SANDBOX_PORT", "8080")
	maxConcurrent := envOrInt("SANDBOX_MAX_CONCURRENT", 3)

	runner, err := sandbox.NewLocalRunner(sandbox.LocalConfig{
		Python:      envOr("SANDBOX_PYTHON", "python3"),
		TempDir:     os.Getenv("SANDBOX_TEMP_DIR"),
		MaxMemoryMB: envOrInt("SANDBOX_MAX_MEMORY_MB", 512),
		Network:     envOr("SANDBOX_NETWORK", "host"),
	})
	if err != nil {
		slog.Error("cannot start local runner", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	httpSrv := &http.Server{
		Addr:              net.JoinHostPort("", port),
		Handler:           sandbox.NewServer(runner, maxConcurrent).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      sandbox.DefaultServerTimeout + 30*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("sandbox server starting", "port", port, "runtime", runner.Name(), "max_concurrent", maxConcurrent)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	slog.Info("shutting down sandbox server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("ignoring invalid value", "key", key, "value", v)
		return fallback
	}
	return n
}
