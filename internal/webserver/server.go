package webserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ichi0g0y/stimky-sticker/internal/printjob"
	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"github.com/ichi0g0y/stimky-sticker/internal/status"
	"go.uber.org/zap"
)

// DefaultMaxUploadBytes caps the size of an uploaded image.
const DefaultMaxUploadBytes = 20 << 20

// Options configures the HTTP front end.
type Options struct {
	AdminID        string
	FursonaName    string
	CacheDir       string
	CacheMaxSizeMB int
	MaxUploadBytes int64
}

// Server exposes the print service over HTTP and WebSocket.
type Server struct {
	svc        *printjob.Service
	hub        *WSHub
	opts       Options
	httpServer *http.Server
}

// NewServer wires the handlers. The returned hub must be passed to the
// print service as its broadcaster so job events reach /ws.
func NewServer(svc *printjob.Service, hub *WSHub, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.FursonaName == "" {
		opts.FursonaName = "Stimky"
	}

	// プリンター状態の変化をWebSocketクライアントに送信
	status.RegisterPrinterStatusChangeCallback(func(busy bool) {
		hub.BroadcastWSMessage("printer_status", status.Get())
	})

	return &Server{svc: svc, hub: hub, opts: opts}
}

// corsMiddleware adds CORS headers to HTTP handlers
func corsMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requester-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler(w, r)
	}
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/id", corsMiddleware(s.handleID))
	mux.HandleFunc("/api/unlock", corsMiddleware(s.handleUnlock))
	mux.HandleFunc("/api/info", corsMiddleware(s.handleInfo))
	mux.HandleFunc("/api/print", corsMiddleware(s.handlePrint))
	mux.HandleFunc("/api/job", corsMiddleware(s.handleJob))
	mux.HandleFunc("/api/jobs", corsMiddleware(s.handleJobs))
	mux.HandleFunc("/api/history", corsMiddleware(s.handleHistory))
	mux.HandleFunc("/api/labels", corsMiddleware(s.handleLabels))

	// Printer API endpoints
	mux.HandleFunc("/api/status", corsMiddleware(s.handlePrinterStatus))
	mux.HandleFunc("/api/printer/scan", corsMiddleware(s.handlePrinterScan))

	// Cache API endpoints
	mux.HandleFunc("/api/cache/stats", corsMiddleware(s.handleCacheStats))
	mux.HandleFunc("/api/cache/clear", corsMiddleware(s.handleCacheClear))

	mux.HandleFunc("/ws", s.handleWS)

	return mux
}

// Start listens on bindAddress:port in the background.
func (s *Server) Start(bindAddress string, port int) error {
	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", bindAddress, port)
	logger.Info("Starting web server", zap.String("address", addr))

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		// 印刷完了までレスポンスを返さないので長めに取る
		WriteTimeout: 5 * time.Minute,
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	// Wait briefly to catch immediate binding errors
	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("Failed to start web server", zap.Error(err))
			return fmt.Errorf("failed to start web server on %s: %w", addr, err)
		}
	case <-time.After(100 * time.Millisecond):
	}

	return nil
}

// Shutdown gracefully shuts down the web server
func (s *Server) Shutdown(ctx context.Context) {
	s.hub.Stop()
	if s.httpServer == nil {
		return
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown web server gracefully", zap.Error(err))
	} else {
		logger.Info("Web server shutdown complete")
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// requesterID identifies the caller by header, falling back to the query.
func requesterID(r *http.Request) string {
	if id := r.Header.Get("X-Requester-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("requester")
}

func (s *Server) isAdmin(r *http.Request) bool {
	return s.opts.AdminID != "" && requesterID(r) == s.opts.AdminID
}
