package web

import (
	"net/http"
	"strings"

	"github.com/samber/mo"

	"taskcal/internal/model"
)

type tagRequest struct {
	Name  mo.Option[string] `json:"name"`
	Color mo.Option[string] `json:"color"`
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context(), userID(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]model.Tag{"tags": tags})
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tag := model.Tag{
		UserID: userID(r),
		Name:   req.Name.OrElse(""),
		Color:  req.Color.OrElse(""),
	}
	tag.Normalize()
	if err := tag.Validate(); err != nil {
		writeStoreError(w, r, err)
		return
	}

	if err := s.store.CreateTag(r.Context(), &tag); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

func (s *Server) handlePatchTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// Validate the fields being changed against a scratch tag.
	probe := model.Tag{Name: "x", Color: model.DefaultTagColor}
	if v, ok := req.Name.Get(); ok {
		probe.Name = strings.TrimSpace(v)
		req.Name = mo.Some(probe.Name)
	}
	if v, ok := req.Color.Get(); ok {
		probe.Color = v
	}
	if err := probe.Validate(); err != nil {
		writeStoreError(w, r, err)
		return
	}

	tag, err := s.store.UpdateTag(r.Context(), userID(r), r.PathValue("id"), req.Name, req.Color)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTag(r.Context(), userID(r), r.PathValue("id")); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"reminders": s.reminders.ForUser(userID(r))})
}

func (s *Server) handleDismissReminder(w http.ResponseWriter, r *http.Request) {
	n := s.reminders.Dismiss(userID(r), r.PathValue("taskId"))
	writeJSON(w, http.StatusOK, map[string]int{"dismissed": n})
}
