package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/modemfleet/internal/domain"
)

type noteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ListNotesHandler pages the requesting user's notes.
func (s *Server) ListNotesHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	page, err := s.store.ListNotes(r.Context(), user.ID, pageRequest(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list notes")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// CreateNoteHandler creates a note owned by the requesting user.
func (s *Server) CreateNoteHandler(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	user := currentUser(r.Context())
	note := &domain.Note{
		UserID:  user.ID,
		Title:   req.Title,
		Content: req.Content,
	}
	if err := s.store.CreateNote(r.Context(), note); err != nil {
		writeStorageError(w, err, "note")
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// GetNoteHandler returns one of the user's own notes. Someone else's note
// id yields 404, not 403, to avoid leaking existence.
func (s *Server) GetNoteHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	note, err := s.store.GetNote(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeStorageError(w, err, "note")
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// UpdateNoteHandler rewrites title and content of an owned note.
func (s *Server) UpdateNoteHandler(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user := currentUser(r.Context())
	note, err := s.store.GetNote(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeStorageError(w, err, "note")
		return
	}

	if req.Title != "" {
		note.Title = req.Title
	}
	note.Content = req.Content
	if err := s.store.UpdateNote(r.Context(), note); err != nil {
		writeStorageError(w, err, "note")
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNoteHandler soft-deletes an owned note.
func (s *Server) DeleteNoteHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	if err := s.store.SoftDeleteNote(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		writeStorageError(w, err, "note")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
