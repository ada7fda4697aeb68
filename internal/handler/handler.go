// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/mergington/school-activities/internal/model"
	"github.com/mergington/school-activities/internal/service"
)

// ActivityService is the domain surface the handlers call.
type ActivityService interface {
	ListActivities(ctx context.Context) ([]model.Activity, error)
	Signup(ctx context.Context, activityName, email string) error
	Unregister(ctx context.Context, activityName, email string) error
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ActivityHandler holds all HTTP handlers for the activities API.
type ActivityHandler struct {
	svc      ActivityService
	logger   *slog.Logger
	validate *validator.Validate
}

// NewActivityHandler constructs an ActivityHandler.
func NewActivityHandler(svc ActivityService, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{
		svc:      svc,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// signupParams are the inputs shared by signup and unregister.
type signupParams struct {
	Activity string `validate:"required"`
	Email    string `validate:"required"`
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, model.ErrorResponse{Detail: detail})
}

// activityName returns the {name} path segment, decoded. chi matches on the
// raw path when the URL carries escapes it cannot round-trip.
func activityName(r *http.Request) string {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath == "" {
		return name
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		return decoded
	}
	return name
}

func (h *ActivityHandler) params(w http.ResponseWriter, r *http.Request) (signupParams, bool) {
	p := signupParams{
		Activity: activityName(r),
		Email:    r.URL.Query().Get("email"),
	}
	if err := h.validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeError(w, http.StatusUnprocessableEntity,
				fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()))
			return p, false
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return p, false
	}
	return p, true
}

// mapServiceError converts a service error to a status code and detail.
func (h *ActivityHandler) mapServiceError(r *http.Request, err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrActivityNotFound):
		return http.StatusNotFound, "Activity not found"
	case errors.Is(err, service.ErrActivityFull):
		return http.StatusBadRequest, "Activity is full"
	case errors.Is(err, service.ErrAlreadySignedUp):
		return http.StatusBadRequest, "Student is already signed up"
	case errors.Is(err, service.ErrNotSignedUp):
		return http.StatusBadRequest, "Student is not signed up for this activity"
	case errors.Is(err, service.ErrEmailRequired):
		return http.StatusUnprocessableEntity, "email is required"
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "Request conflicted with a concurrent update, please retry"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	}
	h.logger.ErrorContext(r.Context(), "unhandled service error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	return http.StatusInternalServerError, "internal server error"
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// ListActivities handles GET /activities
// Returns a JSON object keyed by activity name.
func (h *ActivityHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := h.svc.ListActivities(r.Context())
	if err != nil {
		status, detail := h.mapServiceError(r, err)
		writeError(w, status, detail)
		return
	}

	out := make(map[string]model.ActivityDetails, len(activities))
	for _, a := range activities {
		participants := a.Participants
		if participants == nil {
			participants = []string{}
		}
		out[a.Name] = model.ActivityDetails{
			Description:     a.Description,
			Schedule:        a.Schedule,
			MaxParticipants: a.MaxParticipants,
			Participants:    participants,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Signup handles POST /activities/{name}/signup?email=
func (h *ActivityHandler) Signup(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	if err := h.svc.Signup(r.Context(), p.Activity, p.Email); err != nil {
		status, detail := h.mapServiceError(r, err)
		writeError(w, status, detail)
		return
	}
	writeJSON(w, http.StatusOK, model.MessageResponse{
		Message: fmt.Sprintf("Signed up %s for %s", p.Email, p.Activity),
	})
}

// Unregister handles DELETE /activities/{name}/unregister?email=
func (h *ActivityHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	if err := h.svc.Unregister(r.Context(), p.Activity, p.Email); err != nil {
		status, detail := h.mapServiceError(r, err)
		writeError(w, status, detail)
		return
	}
	writeJSON(w, http.StatusOK, model.MessageResponse{
		Message: fmt.Sprintf("Unregistered %s from %s", p.Email, p.Activity),
	})
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck returns a handler for GET /health that pings the store.
func HealthCheck(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ─── Router ───────────────────────────────────────────────────────────────────

// RouterConfig collects what NewRouter needs besides the handler.
type RouterConfig struct {
	Store     Pinger
	StaticDir string
	Logger    *slog.Logger
}

// NewRouter builds the chi router with the global middleware stack.
func NewRouter(h *ActivityHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(cfg.Logger))      // structured access log
	r.Use(CORS)                    // permissive CORS for the static frontend

	r.Get("/health", HealthCheck(cfg.Store))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/static/index.html", http.StatusTemporaryRedirect)
	})
	if cfg.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir))))
	}

	r.Route("/activities", func(r chi.Router) {
		r.Get("/", h.ListActivities)
		r.Post("/{name}/signup", h.Signup)
		r.Delete("/{name}/unregister", h.Unregister)
	})

	return r
}
