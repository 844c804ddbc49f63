// Package server provides the local diagnostics HTTP listener.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hellotoday/hellotoday-client/internal/auth"
	"github.com/hellotoday/hellotoday-client/internal/realtime"
)

// StatusSource reports the realtime connection state.
type StatusSource interface {
	Status() realtime.Status
}

// MuxConfig holds dependencies for building the HTTP mux. Nil handlers
// leave their route unregistered.
type MuxConfig struct {
	Status     StatusSource
	Metrics    http.Handler
	MCPHandler http.Handler
	Logger     *slog.Logger

	// Token, when set, is required as a bearer token on /mcp.
	Token string
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Realtime  string `json:"realtime"`
	Transport string `json:"transport,omitempty"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// NewMux builds the HTTP mux with health, metrics and MCP endpoints. The
// MCP endpoint can post messages, so it alone sits behind the token.
func NewMux(cfg MuxConfig) *http.ServeMux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth(cfg.Status, logger))

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	if cfg.MCPHandler != nil {
		mux.Handle("/mcp", auth.Middleware(cfg.Token, logger)(cfg.MCPHandler))
	}

	return mux
}

// handleHealth answers 200 while the realtime session is connected and
// 503 otherwise.
func handleHealth(src StatusSource, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok", Realtime: realtime.Disconnected.String()}
		code := http.StatusOK

		if src != nil {
			st := src.Status()
			resp.Realtime = st.State.String()
			resp.Transport = st.Transport
			resp.Attempts = st.Attempts
			resp.LastError = st.LastError

			if st.State != realtime.Connected {
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Debug("writing health response", slog.String("error", err.Error()))
		}
	}
}
