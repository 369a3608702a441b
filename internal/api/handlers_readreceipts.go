package api

import (
	"net/http"

	"github.com/modemfleet/internal/domain"
	"github.com/modemfleet/internal/storage"
)

type markReadRequest struct {
	MessageType domain.MessageType `json:"messageType"`
	SourceID    string             `json:"sourceId"`
}

type markAllReadRequest struct {
	MessageType domain.MessageType `json:"messageType"`
	DeviceID    string             `json:"deviceId,omitempty"`
	ComPort     string             `json:"comPort,omitempty"`
}

func validMessageType(mt domain.MessageType) bool {
	return mt == domain.MessageTypeSms || mt == domain.MessageTypeHangup
}

// MarkReadHandler records that the user has seen one message. Repeated
// calls succeed without creating duplicate receipts.
func (s *Server) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !validMessageType(req.MessageType) || req.SourceID == "" {
		writeError(w, http.StatusBadRequest, "messageType and sourceId are required")
		return
	}

	user := currentUser(r.Context())
	if err := s.store.MarkRead(r.Context(), user.ID, req.MessageType, req.SourceID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllReadHandler marks every visible unread message of one type,
// optionally narrowed to a device or port. Returns the number marked.
func (s *Server) MarkAllReadHandler(w http.ResponseWriter, r *http.Request) {
	var req markAllReadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !validMessageType(req.MessageType) {
		writeError(w, http.StatusBadRequest, "messageType is required")
		return
	}

	user := currentUser(r.Context())
	scope, err := s.store.ScopeFor(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute visibility")
		return
	}
	filter := storage.EventFilter{DeviceID: req.DeviceID, ComPort: req.ComPort}
	marked, err := s.store.MarkAllRead(r.Context(), user.ID, req.MessageType, scope, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark all read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

// UnreadCountsHandler returns the per-type unread tallies for the user.
func (s *Server) UnreadCountsHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	scope, err := s.store.ScopeFor(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute visibility")
		return
	}
	counts, err := s.store.UnreadCounts(r.Context(), user.ID, scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count unread")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
