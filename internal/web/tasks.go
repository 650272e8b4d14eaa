package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/mo"

	"taskcal/internal/model"
	"taskcal/internal/store"
)

type taskListResponse struct {
	Tasks      []model.Task `json:"tasks"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// handleListTasks serves GET /api/v1/tasks with optional status, from,
// to, q, tags (comma separated ids), minPriority, limit and cursor.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.TaskFilter{
		Status: model.Status(q.Get("status")),
		Query:  q.Get("q"),
		Cursor: q.Get("cursor"),
	}

	switch f.Status {
	case "", model.StatusTodo, model.StatusInProgress, model.StatusDone:
	default:
		validationError(w, "status", "must be one of todo, in_progress, done")
		return
	}

	loc := s.calendar.Location()
	if v := q.Get("from"); v != "" {
		t, err := parseInstant(v, loc, false)
		if err != nil {
			validationError(w, "from", err.Error())
			return
		}
		f.From = mo.Some(t)
	}
	if v := q.Get("to"); v != "" {
		t, err := parseInstant(v, loc, true)
		if err != nil {
			validationError(w, "to", err.Error())
			return
		}
		f.To = mo.Some(t)
	}
	if v := q.Get("tags"); v != "" {
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				f.Tags = append(f.Tags, tag)
			}
		}
	}

	var ok bool
	if f.MinPriority, ok = intParam(w, q.Get("minPriority"), "minPriority", 0, 5); !ok {
		return
	}
	if f.Limit, ok = intParam(w, q.Get("limit"), "limit", 1, 200); !ok {
		return
	}

	tasks, next, err := s.store.ListTasks(r.Context(), userID(r), f)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskListResponse{Tasks: tasks, NextCursor: next})
}

// intParam parses an optional integer query parameter within [lo, hi].
// Empty yields 0.
func intParam(w http.ResponseWriter, v, name string, lo, hi int) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		validationError(w, name, "must be an integer between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
		return 0, false
	}
	return n, true
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var t model.Task
	if !decodeJSON(w, r, &t) {
		return
	}
	t.UserID = userID(r)
	t.Normalize()
	if err := t.Validate(); err != nil {
		writeStoreError(w, r, err)
		return
	}

	if err := s.store.CreateTask(r.Context(), &t); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// readOnlyTaskFields cannot be changed through PATCH.
var readOnlyTaskFields = []string{"id", "userId", "createdAt", "updatedAt"}

// handlePatchTask applies a shallow JSON merge patch: every top-level key
// present in the body replaces the stored value, null clears optional
// fields.
func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if !decodeJSON(w, r, &patch) {
		return
	}
	for _, k := range readOnlyTaskFields {
		delete(patch, k)
	}

	updated, err := s.store.ModifyTask(r.Context(), userID(r), r.PathValue("id"), func(t *model.Task) error {
		return applyPatch(t, patch)
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func applyPatch(t *model.Task, patch map[string]json.RawMessage) error {
	current, err := json.Marshal(t)
	if err != nil {
		return err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(current, &merged); err != nil {
		return err
	}
	for k, v := range patch {
		merged[k] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return err
	}

	var next model.Task
	if err := json.Unmarshal(data, &next); err != nil {
		return &model.ValidationError{Fields: []model.FieldError{{Path: "body", Message: err.Error()}}}
	}
	next.ID, next.UserID, next.CreatedAt = t.ID, t.UserID, t.CreatedAt
	next.Normalize()
	if err := next.Validate(); err != nil {
		return err
	}
	*t = next
	return nil
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTask(r.Context(), userID(r), r.PathValue("id")); err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.reminders.Dismiss(userID(r), r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

type checklistRequest struct {
	Label mo.Option[string] `json:"label"`
	Done  mo.Option[bool]   `json:"done"`
}

func (s *Server) handleAddChecklistItem(w http.ResponseWriter, r *http.Request) {
	var req checklistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	label := strings.TrimSpace(req.Label.OrElse(""))
	if label == "" {
		validationError(w, "label", "label is required")
		return
	}

	t, err := s.store.AddChecklistItem(r.Context(), userID(r), r.PathValue("id"), label)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handlePatchChecklistItem(w http.ResponseWriter, r *http.Request) {
	var req checklistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if v, ok := req.Label.Get(); ok {
		v = strings.TrimSpace(v)
		if v == "" {
			validationError(w, "label", "label must not be empty")
			return
		}
		req.Label = mo.Some(v)
	}

	t, err := s.store.UpdateChecklistItem(r.Context(), userID(r), r.PathValue("id"), r.PathValue("itemId"), req.Label, req.Done)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteChecklistItem(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.DeleteChecklistItem(r.Context(), userID(r), r.PathValue("id"), r.PathValue("itemId"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
