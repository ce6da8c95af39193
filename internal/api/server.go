package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-capture-api/internal/config"
	"github.com/JakeFAU/lead-capture-api/internal/gateway"
	"github.com/JakeFAU/lead-capture-api/internal/intake"
	"github.com/JakeFAU/lead-capture-api/internal/lead"
	"github.com/JakeFAU/lead-capture-api/internal/logging"
	"github.com/JakeFAU/lead-capture-api/internal/metrics"
)

// maxLeadBodyBytes caps the lead request body.
const maxLeadBodyBytes = 64 << 10

// LeadRecorder performs the storage attempt for a validated lead.
type LeadRecorder interface {
	Record(ctx context.Context, l lead.Lead) intake.Outcome
}

// Server wires HTTP handlers to the gateway and the lead recorder.
type Server struct {
	router   chi.Router
	handle   *gateway.Handle
	settings gateway.Settings
	recorder LeadRecorder
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. handle may be nil
// when no gateway is wired at all.
func NewServer(cfg config.Config, handle *gateway.Handle, recorder LeadRecorder, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger).Named("api")
	s := &Server{
		handle: handle,
		settings: gateway.Settings{
			URL:    cfg.Database.URL,
			Name:   cfg.Database.Name,
			Driver: cfg.Database.Driver,
		},
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(corsMiddleware())
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if cfg.Metrics.Enabled {
		r.Use(metrics.Middleware)
	}

	r.Get("/", s.heartbeat)
	r.Get("/test", s.diagnostic)
	r.Post("/lead", s.createLead)
	if cfg.Metrics.Enabled {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type heartbeatResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

func (s *Server) heartbeat(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, heartbeatResponse{
		Status:  "ok",
		Service: s.cfg.Service.Name,
		Version: s.cfg.Service.Version,
	})
}

func (s *Server) diagnostic(w http.ResponseWriter, r *http.Request) {
	report := gateway.Probe(r.Context(), s.handle, s.settings)
	metrics.ObserveProbe(string(report.Database))
	if report.Detail != "" {
		s.logger.Warn("database probe degraded",
			zap.String("status", string(report.Database)),
			zap.String("detail", report.Detail),
		)
	}
	writeJSON(w, http.StatusOK, report)
}

type validationResponse struct {
	OK     bool             `json:"ok"`
	Error  string           `json:"error"`
	Fields []lead.Violation `json:"fields"`
}

func (s *Server) createLead(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLeadBodyBytes)
	l, err := lead.Decode(r.Body)
	if err != nil {
		var verr *lead.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, validationResponse{
				OK:     false,
				Error:  "validation failed",
				Fields: verr.Violations,
			})
			return
		}
		s.logger.Error("lead decode failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := s.recorder.Record(r.Context(), l)
	writeJSON(w, http.StatusOK, out.Response())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
