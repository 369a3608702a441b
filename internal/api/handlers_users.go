package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/modemfleet/internal/auth"
	"github.com/modemfleet/internal/domain"
)

type createUserRequest struct {
	UserName string      `json:"userName"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
}

type updateUserRequest struct {
	UserName string      `json:"userName"`
	Password string      `json:"password,omitempty"` // empty keeps the old one
	Role     domain.Role `json:"role"`
}

// ListUsersHandler pages the non-deleted accounts.
func (s *Server) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListUsers(r.Context(), pageRequest(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// CreateUserHandler creates an account. Duplicate user names yield 409.
func (s *Server) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserName == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "userName and password are required")
		return
	}
	role := req.Role
	if role == "" {
		role = domain.RoleUser
	}
	if role != domain.RoleUser && role != domain.RoleAdmin {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}

	hash, salt, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	user := &domain.User{
		UserName:     req.UserName,
		PasswordHash: hash,
		PasswordSalt: salt,
		Role:         role,
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeStorageError(w, err, "user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// GetUserHandler returns one account.
func (s *Server) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStorageError(w, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateUserHandler rewrites name, role, and optionally the password.
func (s *Server) UpdateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := s.store.GetUserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStorageError(w, err, "user")
		return
	}

	if req.UserName != "" {
		user.UserName = req.UserName
	}
	if req.Role != "" {
		if req.Role != domain.RoleUser && req.Role != domain.RoleAdmin {
			writeError(w, http.StatusBadRequest, "unknown role")
			return
		}
		user.Role = req.Role
	}
	if req.Password != "" {
		hash, salt, err := auth.HashPassword(req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to hash password")
			return
		}
		user.PasswordHash = hash
		user.PasswordSalt = salt
	}

	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		writeStorageError(w, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteUserHandler soft-deletes an account and revokes its refresh tokens.
func (s *Server) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.SoftDeleteUser(r.Context(), id); err != nil {
		writeStorageError(w, err, "user")
		return
	}
	_ = s.tokens.RevokeUser(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}
