// ABOUTME: HTTP intake for channel activities plus health and metrics routes
// ABOUTME: Built on chi; decodes activities and submits them to the router

package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/coven-router/internal/activity"
	"github.com/2389/coven-router/internal/dedupe"
	"github.com/2389/coven-router/internal/router"
)

// maxActivitySize bounds an inbound activity body.
const maxActivitySize = 1 << 20

// Router is what the HTTP intake needs from the router.
type Router interface {
	Submit(act *activity.Activity) error
	State() router.State
	Conversations() int
}

// APIParams holds the dependencies of an API.
type APIParams struct {
	Router Router
	// Dedupe is optional; nil disables redelivery suppression.
	Dedupe *dedupe.Cache
	// Metrics is mounted at MetricsPath when both are set.
	Metrics     http.Handler
	MetricsPath string
	Logger      *slog.Logger
}

// API serves the router's HTTP endpoints.
type API struct {
	router      Router
	dedupe      *dedupe.Cache
	metrics     http.Handler
	metricsPath string
	logger      *slog.Logger
}

// NewAPI creates an API.
func NewAPI(p APIParams) *API {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &API{
		router:      p.Router,
		dedupe:      p.Dedupe,
		metrics:     p.Metrics,
		metricsPath: p.MetricsPath,
		logger:      p.Logger.With("component", "http"),
	}
}

// Routes builds the chi router.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/api/messages", a.handleMessages)
	r.Get("/health", a.handleHealth)
	r.Get("/health/ready", a.handleReady)
	if a.metrics != nil && a.metricsPath != "" {
		r.Method(http.MethodGet, a.metricsPath, a.metrics)
	}
	return r
}

// MessageResponse is the intake's JSON acknowledgement.
type MessageResponse struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

// ReadyResponse is the body of /health/ready.
type ReadyResponse struct {
	State         string `json:"state"`
	Conversations int    `json:"conversations"`
}

func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxActivitySize+1))
	if err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxActivitySize {
		a.sendJSONError(w, http.StatusRequestEntityTooLarge, "activity too large")
		return
	}

	act, err := activity.Decode(body)
	if err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	dedupeKey := ""
	if a.dedupe != nil && act.ID != "" {
		dedupeKey = fmt.Sprintf("%s/%s", act.ChannelID, act.ID)
		if a.dedupe.CheckAndMark(dedupeKey) {
			a.logger.Debug("duplicate activity acknowledged", "activity_id", act.ID, "channel_id", act.ChannelID)
			a.sendJSON(w, http.StatusOK, MessageResponse{Status: "duplicate", ID: act.ID})
			return
		}
	}

	if err := a.router.Submit(act); err != nil {
		if dedupeKey != "" {
			a.dedupe.Forget(dedupeKey)
		}
		if errors.Is(err, router.ErrStopped) {
			a.sendJSONError(w, http.StatusServiceUnavailable, "router stopped")
			return
		}
		a.logger.Error("submitting activity", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "submit failed")
		return
	}

	a.sendJSON(w, http.StatusAccepted, MessageResponse{Status: "accepted", ID: act.ID})
}

// handleHealth returns 200 OK if the process is alive.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 only while the router is running.
func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	state := a.router.State()
	status := http.StatusOK
	if state != router.StateRunning {
		status = http.StatusServiceUnavailable
	}
	a.sendJSON(w, status, ReadyResponse{
		State:         state.String(),
		Conversations: a.router.Conversations(),
	})
}

func (a *API) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Debug("writing response", "error", err)
	}
}

func (a *API) sendJSONError(w http.ResponseWriter, status int, message string) {
	a.sendJSON(w, status, map[string]string{"error": message})
}
