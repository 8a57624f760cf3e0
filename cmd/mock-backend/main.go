// Command mock-backend runs a deterministic stand-in for the services the
// workflow server depends on, for local development and integration tests:
//
//   - the Anthropic Messages API (POST /v1/messages)
//   - an OpenAI-compatible Chat Completions API (POST /v1/chat/completions)
//   - the document platform API under /api/v2/chat/
//
// Both model APIs answer with the same valid workflow program. A user
// message containing "invalid-program" yields a program without an entry
// point, for exercising validation failures.
//
// Configuration:
//
//	MOCK_PORT - Listen port (default: 9090)
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newMux() *http.ServeMux {
	p := newPlatform()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", handleMessages)
	mux.HandleFunc("POST /v1/chat/completions", handleChatCompletions)
	mux.HandleFunc("GET /v1/models", handleModels)

	mux.HandleFunc("POST /api/v2/chat/document-search", p.handleDocumentSearch)
	mux.HandleFunc("POST /api/v2/chat/document-analysis", p.handleStartAnalysis)
	mux.HandleFunc("GET /api/v2/chat/document-analysis/{id}", p.handleAnalysisStatus)
	mux.HandleFunc("POST /api/v2/chat/completions", p.handleChat)
	mux.HandleFunc("POST /api/v2/chat/image-analysis", p.handleImageAnalysis)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
