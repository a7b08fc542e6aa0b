package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"slotline/internal/config"
	"slotline/internal/conversation"
	"slotline/internal/database"
	"slotline/internal/domain"
	"slotline/internal/metrics"
	"slotline/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HTTPServer carries the webhook intake and the admin API on one port.
// The webhook routes authenticate with the provider signature; everything
// under /api/v1/ goes through API-key auth instead.
type HTTPServer struct {
	cfg    *config.Config
	db     *database.DB
	svc    *service.BookingService
	orch   *conversation.Orchestrator
	guard  domain.IdempotencyGuard
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg *config.Config, db *database.DB, svc *service.BookingService, orch *conversation.Orchestrator, guard domain.IdempotencyGuard, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:    cfg,
		db:     db,
		svc:    svc,
		orch:   orch,
		guard:  guard,
		auth:   NewHTTPAuth(cfg.API),
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/sms/inbound", srv.handleInboundWebhook)
	mux.HandleFunc("/webhooks/sms/status", srv.handleStatusWebhook)
	mux.HandleFunc("/healthz", srv.handleHealth)
	if cfg.Monitoring.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	admin := http.NewServeMux()
	admin.HandleFunc("/api/v1/slots", srv.handleSlots)
	admin.HandleFunc("/api/v1/slots/seed", srv.handleSeedSlots)
	admin.HandleFunc("/api/v1/appointments", srv.handleAppointments)
	admin.HandleFunc("/api/v1/appointments/", srv.handleAppointmentAction)
	admin.HandleFunc("/api/v1/conversations", srv.handleConversations)
	admin.HandleFunc("/api/v1/contacts/", srv.handleContactMessages)
	admin.HandleFunc("/api/v1/export/appointments.xlsx", srv.handleExportAppointments)
	mux.Handle("/api/v1/", srv.auth.Wrap(admin))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.IncHTTP(r.URL.Path)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
