package sessionapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-session/pkg/activity"
	apperrors "github.com/tendant/simple-session/pkg/errors"
	"github.com/tendant/simple-session/pkg/loginflow"
	"github.com/tendant/simple-session/pkg/posture"
	"github.com/tendant/simple-session/pkg/ratelimit"
	"github.com/tendant/simple-session/pkg/tab"
)

type contextKey string

const tabContextKey contextKey = "tab"

// Handler serves the tab API
type Handler struct {
	registry *tab.Registry
	limiter  *ratelimit.Middleware
	headers  map[string]string
}

// Option configures a Handler
type Option func(*Handler)

// WithRateLimit applies a per-IP limit to the credential routes
func WithRateLimit(m *ratelimit.Middleware) Option {
	return func(h *Handler) {
		h.limiter = m
	}
}

// WithSecurityHeaders replaces DefaultSecurityHeaders
func WithSecurityHeaders(headers map[string]string) Option {
	return func(h *Handler) {
		h.headers = headers
	}
}

// NewHandler creates a handler serving the tabs of registry
func NewHandler(registry *tab.Registry, opts ...Option) *Handler {
	h := &Handler{
		registry: registry,
		headers:  DefaultSecurityHeaders(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the API router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders(h.headers))

	r.Post("/tabs", h.OpenTab)
	r.Route("/tabs/{tabID}", func(r chi.Router) {
		r.Use(h.tabContext)

		r.Delete("/", h.CloseTab)
		r.Get("/flow", h.GetFlow)

		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Handler)
			}
			r.Post("/login", h.Login)
			r.Post("/mfa/setup/verify", h.VerifySetup)
			r.Post("/mfa/verify", h.VerifyChallenge)
		})

		r.Post("/mfa/choice", h.ChooseMFA)
		r.Post("/mfa/setup", h.BeginSetup)
		r.Post("/back", h.Back)
		r.Post("/signout", h.SignOut)

		r.Get("/session", h.GetSession)
		r.Post("/session/extend", h.ExtendSession)
		r.Post("/activity", h.Activity)
		r.Post("/visibility", h.Visibility)
		r.Post("/connectivity", h.Connectivity)
		r.Post("/diagnostics/console", h.ConsoleAccessed)
		r.Get("/posture", h.GetPosture)
	})
	return r
}

// tabContext resolves {tabID} and records the transport facts of the request
func (h *Handler) tabContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "tabID"))
		if err != nil {
			renderError(w, r, apperrors.InvalidInput("tab_id", "must be a UUID"), "")
			return
		}
		t, ok := h.registry.Get(id)
		if !ok {
			renderError(w, r, apperrors.NotFound("tab", id.String()), "")
			return
		}

		t.ObserveResponse(r, w.Header())
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tabContextKey, t)))
	})
}

func tabFrom(r *http.Request) *tab.Tab {
	return r.Context().Value(tabContextKey).(*tab.Tab)
}

// OpenTab handles POST /tabs
func (h *Handler) OpenTab(w http.ResponseWriter, r *http.Request) {
	t, err := h.registry.Open()
	if err != nil {
		slog.Error("Failed to open tab", "error", err)
		renderError(w, r, apperrors.Internal("failed to open tab", err), "")
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, TabResponse{
		TabID:    t.ID,
		OpenedAt: t.OpenedAt,
		State:    t.Flow.State(),
	})
}

// CloseTab handles DELETE /tabs/{tabID}
func (h *Handler) CloseTab(w http.ResponseWriter, r *http.Request) {
	h.registry.Close(tabFrom(r).ID)
	w.WriteHeader(http.StatusNoContent)
}

// GetFlow handles GET /tabs/{tabID}/flow
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, tabFrom(r).Flow.Snapshot())
}

// Login handles POST /tabs/{tabID}/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := tabFrom(r).Flow.Submit(r.Context(), req.Email, req.Password)
	renderResult(w, r, res, err)
}

// ChooseMFA handles POST /tabs/{tabID}/mfa/choice
func (h *Handler) ChooseMFA(w http.ResponseWriter, r *http.Request) {
	var req ChoiceRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := tabFrom(r).Flow.ChooseMFA(r.Context(), req.Choice)
	renderResult(w, r, res, err)
}

// BeginSetup handles POST /tabs/{tabID}/mfa/setup
func (h *Handler) BeginSetup(w http.ResponseWriter, r *http.Request) {
	res, err := tabFrom(r).Flow.BeginSetup(r.Context())
	renderResult(w, r, res, err)
}

// VerifySetup handles POST /tabs/{tabID}/mfa/setup/verify
func (h *Handler) VerifySetup(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := tabFrom(r).Flow.VerifySetup(r.Context(), req.Code)
	renderResult(w, r, res, err)
}

// VerifyChallenge handles POST /tabs/{tabID}/mfa/verify
func (h *Handler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := tabFrom(r).Flow.VerifyChallenge(r.Context(), req.Code)
	renderResult(w, r, res, err)
}

// Back handles POST /tabs/{tabID}/back
func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	res, err := tabFrom(r).Flow.Back(r.Context())
	renderResult(w, r, res, err)
}

// SignOut handles POST /tabs/{tabID}/signout
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	res, err := tabFrom(r).Flow.SignOut(r.Context())
	renderResult(w, r, res, err)
}

// GetSession handles GET /tabs/{tabID}/session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	t := tabFrom(r)
	info := t.Flow.SessionInfo()
	resp := SessionResponse{
		IsValid:                info.IsValid,
		TimeUntilExpirySeconds: int64(info.TimeUntilExpiry.Seconds()),
		ShouldShowWarning:      info.ShouldShowWarning,
	}
	if s, ok := t.Sessions.Current(); ok && info.IsValid {
		resp.Session = &s
	}
	render.JSON(w, r, resp)
}

// ExtendSession handles POST /tabs/{tabID}/session/extend
func (h *Handler) ExtendSession(w http.ResponseWriter, r *http.Request) {
	t := tabFrom(r)
	if !t.UpdateActivity() {
		renderError(w, r, apperrors.New(apperrors.ErrCodeSessionExpired, "session is not active"), t.Flow.State())
		return
	}
	h.GetSession(w, r)
}

// Activity handles POST /tabs/{tabID}/activity
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if !decode(w, r, &req) {
		return
	}
	recorded := tabFrom(r).Activity.Signal(activity.Signal(req.Signal))
	render.JSON(w, r, ActivityResponse{Recorded: recorded})
}

// Visibility handles POST /tabs/{tabID}/visibility
func (h *Handler) Visibility(w http.ResponseWriter, r *http.Request) {
	var req VisibilityRequest
	if !decode(w, r, &req) {
		return
	}
	recorded := tabFrom(r).Activity.SetVisibility(req.Visible)
	render.JSON(w, r, ActivityResponse{Recorded: recorded})
}

// Connectivity handles POST /tabs/{tabID}/connectivity
func (h *Handler) Connectivity(w http.ResponseWriter, r *http.Request) {
	var req ConnectivityRequest
	if !decode(w, r, &req) {
		return
	}
	t := tabFrom(r)
	changed := t.Connectivity.Set(req.Online)
	render.JSON(w, r, ConnectivityResponse{Online: t.Connectivity.Online(), Changed: changed})
}

// ConsoleAccessed handles POST /tabs/{tabID}/diagnostics/console
func (h *Handler) ConsoleAccessed(w http.ResponseWriter, r *http.Request) {
	var req ConsoleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Source == "" {
		req.Source = "unknown"
	}
	tabFrom(r).Console.Report(req.Source)
	w.WriteHeader(http.StatusAccepted)
}

// GetPosture handles GET /tabs/{tabID}/posture
func (h *Handler) GetPosture(w http.ResponseWriter, r *http.Request) {
	t := tabFrom(r)
	signals, score := t.PostureScore()
	render.JSON(w, r, PostureResponse{
		Score:          score.Value,
		Level:          score.Level,
		Signals:        signals,
		MissingHeaders: posture.MissingHeaders(w.Header(), t.RequiredHeaders()),
	})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Debug("Failed to decode request body", "error", err)
		renderError(w, r, apperrors.InvalidInput("body", "malformed JSON"), "")
		return false
	}
	return true
}

func renderResult(w http.ResponseWriter, r *http.Request, res loginflow.Result, err error) {
	if err != nil {
		renderError(w, r, err, res.State)
		return
	}
	render.JSON(w, r, res)
}

func renderError(w http.ResponseWriter, r *http.Request, err error, state loginflow.State) {
	code := apperrors.GetCode(err)
	status := apperrors.MapErrorCodeToHTTPStatus(code)

	message := "An internal error occurred"
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && code != apperrors.ErrCodeInternal {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "code", code, "error", err)
	}

	resp := ErrorResponse{Code: string(code), Error: message, State: state, Retryable: apperrors.UserCorrectable(code)}
	if seconds, ok := apperrors.GetDetails(err)["retry_after_seconds"].(int); ok {
		if seconds < 1 {
			seconds = 1
		}
		resp.RetryAfterSeconds = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}
