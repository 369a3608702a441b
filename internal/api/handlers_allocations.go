package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/modemfleet/internal/domain"
	"github.com/modemfleet/internal/storage"
)

type allocationRequest struct {
	UserID   string   `json:"userId"`
	DeviceID string   `json:"deviceId"`
	ComPorts []string `json:"comPorts"`
}

func (req allocationRequest) validate(w http.ResponseWriter) bool {
	if req.UserID == "" || req.DeviceID == "" || len(req.ComPorts) == 0 {
		writeError(w, http.StatusBadRequest, "userId, deviceId and comPorts are required")
		return false
	}
	return true
}

// ListAllocationsHandler pages allocations, optionally filtered by userId.
func (s *Server) ListAllocationsHandler(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListAllocations(r.Context(), r.URL.Query().Get("userId"), pageRequest(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list allocations")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// CreateAllocationHandler grants a user access to ports of a device.
func (s *Server) CreateAllocationHandler(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if !decodeBody(w, r, &req) || !req.validate(w) {
		return
	}
	if _, err := s.store.GetUserByID(r.Context(), req.UserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "unknown user")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create allocation")
		return
	}

	alloc := &domain.ComAllocation{
		UserID:   req.UserID,
		DeviceID: req.DeviceID,
		ComPorts: req.ComPorts,
	}
	if err := s.store.CreateAllocation(r.Context(), alloc); err != nil {
		writeStorageError(w, err, "allocation")
		return
	}
	writeJSON(w, http.StatusCreated, alloc)
}

// GetAllocationHandler returns one allocation.
func (s *Server) GetAllocationHandler(w http.ResponseWriter, r *http.Request) {
	alloc, err := s.store.GetAllocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStorageError(w, err, "allocation")
		return
	}
	writeJSON(w, http.StatusOK, alloc)
}

// UpdateAllocationHandler rewrites the device and port set.
func (s *Server) UpdateAllocationHandler(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if !decodeBody(w, r, &req) || !req.validate(w) {
		return
	}
	alloc, err := s.store.GetAllocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStorageError(w, err, "allocation")
		return
	}

	alloc.UserID = req.UserID
	alloc.DeviceID = req.DeviceID
	alloc.ComPorts = req.ComPorts
	if err := s.store.UpdateAllocation(r.Context(), alloc); err != nil {
		writeStorageError(w, err, "allocation")
		return
	}
	writeJSON(w, http.StatusOK, alloc)
}

// DeleteAllocationHandler soft-deletes an allocation; the affected user's
// visibility shrinks on their next query.
func (s *Server) DeleteAllocationHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SoftDeleteAllocation(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStorageError(w, err, "allocation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
