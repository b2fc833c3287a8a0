package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hoptrail/hoptrail/internal/chain"
	"github.com/hoptrail/hoptrail/internal/config"
	"github.com/hoptrail/hoptrail/internal/history"
	"github.com/hoptrail/hoptrail/internal/logger"
)

// Server represents the capture daemon's HTTP server
type Server struct {
	httpServer  *http.Server
	handlers    *Handlers
	broadcaster *SSEBroadcaster
	lifecycle   *Lifecycle
	port        int
}

// NewServer creates a new capture server. The assembler must already be
// wired to the broadcaster as its notifier.
func NewServer(cfg *config.Config, store history.Store, asm *chain.Assembler, broadcaster *SSEBroadcaster, version string) *Server {
	handlers := NewHandlers(store, asm, version)
	lifecycle := NewLifecycle(cfg.Settings.Daemon)

	port := cfg.Settings.Daemon.Port
	if port == 0 {
		port = 8764
	}

	mux := http.NewServeMux()

	// Static files
	mux.HandleFunc("GET /", serveIndex)
	mux.HandleFunc("GET /static/app.js", serveAppJS)
	mux.HandleFunc("GET /static/styles.css", serveStylesCSS)

	// Event ingest
	mux.HandleFunc("POST /api/events", handlers.Ingest)

	// Live chains
	mux.HandleFunc("GET /api/tabs/{id}/chain", handlers.TabChain)
	mux.HandleFunc("DELETE /api/tabs/{id}/chain", handlers.ClearTabChain)

	// History
	mux.HandleFunc("GET /api/history", handlers.History)
	mux.HandleFunc("DELETE /api/history", handlers.ClearHistory)
	mux.HandleFunc("GET /api/history/export", handlers.ExportHistory)
	mux.HandleFunc("GET /api/history/{id}", handlers.HistoryDetail)
	mux.HandleFunc("PATCH /api/history/{id}", handlers.UpdateHistory)
	mux.HandleFunc("DELETE /api/history/{id}", handlers.DeleteHistory)

	// Misc
	mux.HandleFunc("GET /api/stats", handlers.Stats)
	mux.HandleFunc("GET /health", handlers.Health)

	// SSE endpoint
	mux.HandleFunc("GET /sse/events", broadcaster.ServeHTTP)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", port),
			Handler:           corsMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		handlers:    handlers,
		broadcaster: broadcaster,
		lifecycle:   lifecycle,
		port:        port,
	}
}

// Start starts the server
func (s *Server) Start(ctx context.Context) error {
	if err := s.lifecycle.WritePID(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	s.broadcaster.Start(ctx)

	logger.Info().
		Int("port", s.port).
		Str("url", fmt.Sprintf("http://127.0.0.1:%d", s.port)).
		Msg("Starting hoptrail capture daemon")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Server error")
		}
	}()

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	logger.Info().Msg("Stopping hoptrail capture daemon")

	s.broadcaster.Stop()

	_ = s.lifecycle.RemovePID()

	return s.httpServer.Shutdown(ctx)
}

// Port returns the server port
func (s *Server) Port() int {
	return s.port
}

// Lifecycle returns the lifecycle manager
func (s *Server) Lifecycle() *Lifecycle {
	return s.lifecycle
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func serveAppJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	_, _ = w.Write(appJS)
}

func serveStylesCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	_, _ = w.Write(stylesCSS)
}
