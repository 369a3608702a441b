package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/modemfleet/internal/storage"
)

// ListSmsHandler pages the SMS messages visible to the requesting user.
func (s *Server) ListSmsHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	scope, err := s.store.ScopeFor(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute visibility")
		return
	}
	page, err := s.store.ListSms(r.Context(), user.ID, scope,
		eventFilter(r, "senderNumber", false), pageRequest(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ListSmsAdminHandler pages all SMS messages, optionally including
// soft-deleted rows.
func (s *Server) ListSmsAdminHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	page, err := s.store.ListSms(r.Context(), user.ID, storage.AdminScope(),
		eventFilter(r, "senderNumber", true), pageRequest(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// SoftDeleteSmsHandler flags a message as deleted.
func (s *Server) SoftDeleteSmsHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SoftDeleteSms(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStorageError(w, err, "message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HardDeleteSmsHandler removes a message row permanently.
func (s *Server) HardDeleteSmsHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HardDeleteSms(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStorageError(w, err, "message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListHangupsHandler pages the call-hangup records visible to the
// requesting user.
func (s *Server) ListHangupsHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	scope, err := s.store.ScopeFor(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute visibility")
		return
	}
	page, err := s.store.ListHangups(r.Context(), user.ID, scope,
		eventFilter(r, "callerNumber", false), pageRequest(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ListHangupsAdminHandler pages all call-hangup records.
func (s *Server) ListHangupsAdminHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	page, err := s.store.ListHangups(r.Context(), user.ID, storage.AdminScope(),
		eventFilter(r, "callerNumber", true), pageRequest(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// SoftDeleteHangupHandler flags a record as deleted.
func (s *Server) SoftDeleteHangupHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SoftDeleteHangup(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStorageError(w, err, "record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HardDeleteHangupHandler removes a record row permanently.
func (s *Server) HardDeleteHangupHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HardDeleteHangup(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStorageError(w, err, "record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeStorageError maps storage errors to the error shape and status.
func writeStorageError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, what+" already exists")
	default:
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}
