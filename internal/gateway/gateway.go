// Package gateway exposes the HTTP surface: the inbound webhook, health
// and Prometheus metrics. Webhook handlers acknowledge immediately; the
// dispatcher runs each message on its own tracked goroutine.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/sidekick/internal/channels"
)

// maxWebhookBody bounds an inbound delivery payload.
const maxWebhookBody = 64 * 1024

// Inbound accepts webhook deliveries for asynchronous processing.
type Inbound interface {
	Accept(msg channels.InboundMessage)
}

// Config carries the listen address and optional bearer token for the
// webhook endpoint.
type Config struct {
	Host           string
	Port           int
	WebhookToken   string
	MetricsEnabled bool
}

// Server is the HTTP front. Start is non-blocking; Shutdown drains.
type Server struct {
	cfg      Config
	inbound  Inbound
	registry *prometheus.Registry
	logger   *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// New builds the server. registry may be nil to disable /metrics.
func New(cfg Config, inbound Inbound, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		inbound:  inbound,
		registry: registry,
		logger:   logger.With("component", "gateway"),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	mux := http.NewServeMux()

	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.cfg.MetricsEnabled && s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", slog.Any("error", err))
		}
	}()
	s.logger.Info("gateway listening", slog.String("addr", addr))
	return nil
}

// Addr returns the bound address, useful when Port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) {
	if s == nil || s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", slog.Any("error", err))
	}
	s.httpServer = nil
	s.listener = nil
}

// handleWebhook accepts one inbound message delivery. A 200 goes out as
// soon as the payload parses; processing is asynchronous so provider
// retry timers never see pipeline latency.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.WebhookToken != "" {
		if r.Header.Get("Authorization") != "Bearer "+s.cfg.WebhookToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var msg channels.InboundMessage
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err := dec.Decode(&msg); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if msg.From == "" || msg.Text == "" {
		http.Error(w, "from and text are required", http.StatusBadRequest)
		return
	}

	s.inbound.Accept(msg)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"accepted"}`))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
