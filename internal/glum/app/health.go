package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bdobrica/glum/common/version"
)

// HealthServer exposes /health and /status. It is optional; glum runs
// without it when HTTPAddr is empty.
type HealthServer struct {
	addr      string
	backend   string
	status    statusProvider
	personas  func() int
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
	logger    *slog.Logger
}

// statusProvider is what the health server needs from the router.
type statusProvider interface {
	ConversationCount() int
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status            string    `json:"status"`
	Version           string    `json:"version"`
	Commit            string    `json:"commit"`
	BuildTime         string    `json:"build_time"`
	Backend           string    `json:"backend"`
	StartedAt         time.Time `json:"started_at"`
	UptimeSecs        float64   `json:"uptime_seconds"`
	ConversationCount int       `json:"conversation_count"`
	PersonaCount      int       `json:"persona_count"`
}

// NewHealthServer creates the HTTP server without starting it. personas may
// be nil.
func NewHealthServer(addr, backend string, sp statusProvider, personas func() int, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	hs := &HealthServer{
		addr:      addr,
		backend:   backend,
		status:    sp,
		personas:  personas,
		startedAt: time.Now(),
		mux:       mux,
		logger:    logger.With("component", "health"),
	}
	mux.HandleFunc("GET /health", hs.handleHealth)
	mux.HandleFunc("GET /status", hs.handleStatus)
	return hs
}

// ServeHTTP lets tests call the handlers without a listener.
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Start listens in the background. It returns once the port is open.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}

	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		h.logger.Info("health server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("health server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		h.Stop()
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (h *HealthServer) Stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		h.logger.Warn("health server shutdown error", "err", err)
	}
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	}, h.logger)
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		Backend:    h.backend,
		StartedAt:  h.startedAt,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
	}
	if h.status != nil {
		resp.ConversationCount = h.status.ConversationCount()
	}
	if h.personas != nil {
		resp.PersonaCount = h.personas()
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("health: failed to encode JSON response", "err", err)
	}
}
