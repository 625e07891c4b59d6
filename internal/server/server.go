// Package server exposes the HTTP front door: start/end of Live Activities,
// widget token registration, and the operational endpoints.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nightscout-labs/liveactivity/internal/activity"
	"github.com/nightscout-labs/liveactivity/internal/dexcom"
	"github.com/nightscout-labs/liveactivity/internal/metrics"
	"github.com/nightscout-labs/liveactivity/internal/scheduler"
	"github.com/nightscout-labs/liveactivity/internal/store"
	"github.com/nightscout-labs/liveactivity/pkg/middleware"
)

// marketingLine is the body of the root page.
const marketingLine = "Your glucose, live on the Lock Screen."

// maxBodySize caps request bodies; the start payload is tiny.
const maxBodySize = 16 << 10

// Server handles the HTTP surface.
type Server struct {
	store  *store.Client
	logger *slog.Logger
}

// Options configures the server.
type Options struct {
	Store  *store.Client
	Logger *slog.Logger
}

// New creates a server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:  opts.Store,
		logger: logger,
	}
}

// Handler returns the full middleware-wrapped handler. The bot filter sits
// outside the logging middleware so probe traffic never reaches the logs.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /start-live-activity", s.handleStart)
	mux.HandleFunc("POST /end-live-activity", s.handleEnd)
	mux.HandleFunc("POST /register-widget", s.handleRegisterWidget)
	mux.HandleFunc("POST /unregister-widget", s.handleUnregisterWidget)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.BotFilter(middleware.Logging(s.logger)(mux))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(marketingLine))
}

// startRequest is the body of POST /start-live-activity.
type startRequest struct {
	PushToken       string                `json:"pushToken"`
	Environment     activity.Environment  `json:"environment"`
	Username        string                `json:"username"`
	Password        string                `json:"password"`
	AccountID       *uuid.UUID            `json:"accountID"`
	SessionID       *uuid.UUID            `json:"sessionID"`
	AccountLocation dexcom.Location       `json:"accountLocation"`
	Duration        int                   `json:"duration"`
	Preferences     *activity.Preferences `json:"preferences"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.PushToken == "" || !req.Environment.Valid() || !req.AccountLocation.Valid() || req.Duration <= 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	now := time.Now()
	rec := &activity.Record{
		ID:              activityID(req.Username, req.PushToken),
		PushToken:       req.PushToken,
		Environment:     req.Environment,
		AccountLocation: req.AccountLocation,
		Duration:        req.Duration,
		Username:        req.Username,
		Password:        req.Password,
		AccountID:       req.AccountID,
		SessionID:       req.SessionID,
		Preferences:     req.Preferences,
		StartDate:       now,
		PollInterval:    scheduler.MinPollInterval,
	}

	// Record first, then the schedule entry: the index must never point
	// at an id without a record.
	if err := s.store.PutRecord(r.Context(), rec); err != nil {
		s.logger.Error("start: record write failed", "user", rec.LogID(), "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	if err := s.store.Schedule(r.Context(), rec.ID, now); err != nil {
		s.logger.Error("start: schedule write failed", "user", rec.LogID(), "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}

	s.logger.Info("activity started",
		"user", rec.LogID(),
		"environment", string(rec.Environment),
		"location", string(rec.AccountLocation),
		"duration", rec.Duration,
	)
	w.WriteHeader(http.StatusOK)
}

// endRequest is the body of POST /end-live-activity. At least one of the
// two id sources is required.
type endRequest struct {
	PushToken string `json:"pushToken"`
	Username  string `json:"username"`
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.PushToken == "" && req.Username == "" {
		http.Error(w, "pushToken or username required", http.StatusBadRequest)
		return
	}

	id := activityID(req.Username, req.PushToken)

	// Delete the record first. If the unschedule then fails, the dangling
	// index entry is self-healing: the next processor cycle observes the
	// absent record and drops it. The reverse order would strand a record
	// nothing ever loads again.
	if err := s.store.DeleteRecord(r.Context(), id); err != nil {
		s.logger.Error("end: record delete failed", "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	if err := s.store.Unschedule(r.Context(), id); err != nil {
		s.logger.Error("end: unschedule failed", "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}

	ref := activity.Record{Username: req.Username, PushToken: req.PushToken}
	metrics.ActivitiesEnded.WithLabelValues(scheduler.ReasonManualStop).Inc()
	s.logger.Info("activity ended", "user", ref.LogID(), "reason", scheduler.ReasonManualStop)
	w.WriteHeader(http.StatusOK)
}

// widgetRequest is the body of the widget registration endpoints.
type widgetRequest struct {
	PushToken   string               `json:"pushToken"`
	Environment activity.Environment `json:"environment"`
}

func (s *Server) handleRegisterWidget(w http.ResponseWriter, r *http.Request) {
	var req widgetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.PushToken == "" || !req.Environment.Valid() {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := s.store.AddWidgetToken(r.Context(), req.Environment, req.PushToken); err != nil {
		s.logger.Error("widget register failed", "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUnregisterWidget(w http.ResponseWriter, r *http.Request) {
	var req widgetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.PushToken == "" || !req.Environment.Valid() {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := s.store.RemoveWidgetToken(r.Context(), req.Environment, req.PushToken); err != nil {
		s.logger.Error("widget unregister failed", "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	redisStatus := "connected"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
		redisStatus = "disconnected"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"redis":  redisStatus,
	})
}

// decode parses a JSON body, answering 400 on anything malformed.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// activityID computes the stable identity: the username when present, else
// the push token.
func activityID(username, pushToken string) string {
	if username != "" {
		return username
	}
	return pushToken
}
