package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"taskcal/internal/calendar"
	"taskcal/internal/config"
	appLog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/reminder"
	"taskcal/internal/store"
)

// Error codes returned in the "code" field of error responses.
const (
	codeValidation = "VALIDATION_ERROR"
	codeNotFound   = "NOT_FOUND"
	codeTagExists  = "TAG_EXISTS"
	codeInternal   = "INTERNAL_ERROR"
	codeAuth       = "UNAUTHORIZED"
)

// Server provides the JSON API over tasks, tags, the calendar view and
// reminders.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	calendar  *calendar.Service
	reminders *reminder.Queue
	mux       *http.ServeMux
	now       func() time.Time
}

// NewServer constructs a new Server. reminders may be nil when the
// reminder scan is disabled.
func NewServer(cfg *config.Config, st *store.Store, cal *calendar.Service, reminders *reminder.Queue) *Server {
	if reminders == nil {
		reminders = reminder.NewQueue()
	}
	s := &Server{
		cfg:       cfg,
		store:     st,
		calendar:  cal,
		reminders: reminders,
		mux:       http.NewServeMux(),
		now:       time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler: routes wrapped in authentication and
// access logging.
func (s *Server) Handler() http.Handler {
	h := s.authMiddleware(s.mux)
	if len(s.cfg.Users) > 0 {
		appLog.Info("HTTP basic auth enabled", "users", len(s.cfg.Users))
	}
	return logMiddleware(h)
}

// HTTPServer wraps Handler in an http.Server with conservative timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/v1/calendar/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/v1/calendar/feed.ics", s.handleFeed)
	s.mux.HandleFunc("GET /api/v1/analytics/workload", s.handleWorkload)

	s.mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/v1/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("PATCH /api/v1/tasks/{id}", s.handlePatchTask)
	s.mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.handleDeleteTask)
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/checklist", s.handleAddChecklistItem)
	s.mux.HandleFunc("PATCH /api/v1/tasks/{id}/checklist/{itemId}", s.handlePatchChecklistItem)
	s.mux.HandleFunc("DELETE /api/v1/tasks/{id}/checklist/{itemId}", s.handleDeleteChecklistItem)

	s.mux.HandleFunc("GET /api/v1/tags", s.handleListTags)
	s.mux.HandleFunc("POST /api/v1/tags", s.handleCreateTag)
	s.mux.HandleFunc("PATCH /api/v1/tags/{id}", s.handlePatchTag)
	s.mux.HandleFunc("DELETE /api/v1/tags/{id}", s.handleDeleteTag)

	s.mux.HandleFunc("GET /api/v1/reminders", s.handleListReminders)
	s.mux.HandleFunc("DELETE /api/v1/reminders/{taskId}", s.handleDismissReminder)
	s.mux.HandleFunc("POST /api/v1/reminders/{taskId}/dismiss", s.handleDismissReminder)

	s.mux.HandleFunc("/api/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "no such endpoint", nil)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		appLog.Error("health check failed", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ctxKey struct{}

// userID returns the authenticated user of the request.
func userID(r *http.Request) string {
	u, _ := r.Context().Value(ctxKey{}).(string)
	return u
}

// authMiddleware resolves the acting user. With configured users every
// endpoint except /health requires HTTP Basic Auth and the username is
// the user id; otherwise every request acts as the default user.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		user := s.cfg.DefaultUser
		if len(s.cfg.Users) > 0 {
			u, p, ok := r.BasicAuth()
			if !ok || !s.checkCredentials(u, p) {
				w.Header().Set("WWW-Authenticate", `Basic realm="taskcal", charset="UTF-8"`)
				writeError(w, http.StatusUnauthorized, codeAuth, "authentication required", nil)
				return
			}
			user = u
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

func (s *Server) checkCredentials(username, password string) bool {
	match := false
	for _, u := range s.cfg.Users {
		// Check every account so timing does not reveal which usernames exist.
		if secureCompare(username, u.Username) && secureCompare(password, u.Password) && u.Password != "" {
			match = true
		}
	}
	return match
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, map[string]errorBody{
		"error": {Code: code, Message: msg, Details: details},
	})
}

// writeStoreError maps domain errors onto API errors. Anything unexpected
// is logged and reported without detail.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request", ve.Fields)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "not found", nil)
	case errors.Is(err, store.ErrTagExists):
		writeError(w, http.StatusConflict, codeTagExists, err.Error(), nil)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
	default:
		appLog.Error("request failed", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error", nil)
	}
}

func validationError(w http.ResponseWriter, path, msg string) {
	writeError(w, http.StatusBadRequest, codeValidation, "invalid request",
		[]model.FieldError{{Path: path, Message: msg}})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		validationError(w, "body", "malformed JSON: "+err.Error())
		return false
	}
	return true
}
