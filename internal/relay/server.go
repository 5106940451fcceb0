// Package relay exposes the network-facing analyze endpoint. It forwards
// snippets to the external provider on behalf of clients, holding the
// provider credential server-side and enforcing per-client request quotas.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kylo/internal/audit"
	"kylo/internal/deep"
	"kylo/internal/shared/observability"
	"kylo/internal/shared/util"
)

const tokenHeader = "X-Kylo-Token"

type Config struct {
	Listen      string
	Token       string
	RatePerHour int
}

type analyzeRequest struct {
	Code    string       `json:"code"`
	Context deep.Context `json:"context"`
}

type analyzeResponse struct {
	Issues []audit.Issue `json:"issues"`
}

type Server struct {
	cfg      Config
	provider Provider
	quotas   *util.QuotaRegistry
	server   *http.Server
}

func NewServer(cfg Config, provider Provider) *Server {
	return &Server{
		cfg:      cfg,
		provider: provider,
		quotas:   util.NewQuotaRegistry(cfg.RatePerHour, 2*time.Hour),
	}
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/analyze", s.handleAnalyze)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "up"})
	})

	s.server = &http.Server{
		Addr:    s.cfg.Listen,
		Handler: mux,
	}

	slog.Info("relay server starting", "addr", s.cfg.Listen)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("relay server failed", "error", err)
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()
	status := http.StatusOK
	defer func() {
		observability.RelayRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
		observability.RelayRequestDuration.Observe(time.Since(start).Seconds())
		slog.Info("analyze request handled",
			"request_id", requestID,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client", clientKey(r))
	}()

	ctx, span := observability.Tracer.Start(r.Context(), "relay.handleAnalyze")
	defer span.End()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeError(w, status, "method not allowed")
		return
	}
	if s.cfg.Token == "" || r.Header.Get(tokenHeader) != s.cfg.Token {
		status = http.StatusUnauthorized
		writeError(w, status, "invalid or missing token")
		return
	}
	if !s.quotas.Allow(clientKey(r)) {
		observability.RelayThrottledTotal.Inc()
		status = http.StatusTooManyRequests
		writeError(w, status, "rate limit exceeded")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		writeError(w, status, "malformed request body")
		return
	}
	if req.Code == "" {
		status = http.StatusBadRequest
		writeError(w, status, "code is required")
		return
	}

	issues, err := s.provider.Analyze(ctx, req.Code, req.Context.Goals, req.Context.File)
	if err != nil {
		slog.Error("provider analysis failed", "request_id", requestID, "error", err)
		status = http.StatusBadGateway
		writeError(w, status, "analysis backend unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(analyzeResponse{Issues: issues})
}

// clientKey identifies the requester for quota accounting: the shared token
// when present, otherwise the remote host.
func clientKey(r *http.Request) string {
	if token := r.Header.Get(tokenHeader); token != "" {
		return token
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
