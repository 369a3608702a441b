package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/modemfleet/internal/auth"
	"github.com/modemfleet/internal/domain"
	"github.com/modemfleet/internal/logging"
	"github.com/modemfleet/internal/storage"
)

type loginRequest struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	Token        string      `json:"token"`
	Expiration   time.Time   `json:"expiration"`
	RefreshToken string      `json:"refreshToken"`
	UserName     string      `json:"userName"`
	Role         domain.Role `json:"role"`
}

// LoginHandler authenticates a user and returns a bearer token plus a
// single-use refresh token.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserName == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "userName and password are required")
		return
	}

	user, err := s.store.GetUserByName(r.Context(), req.UserName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if !auth.VerifyPassword(req.Password, user.PasswordHash, user.PasswordSalt) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.issueTokens(w, r, user)
}

// RefreshHandler exchanges a refresh token for a fresh token pair. The
// presented token is consumed whether or not reissue succeeds.
func (s *Server) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	userID, err := s.tokens.Consume(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	user, err := s.store.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}

	s.issueTokens(w, r, user)
}

func (s *Server) issueTokens(w http.ResponseWriter, r *http.Request, user *domain.User) {
	token, expiry, err := s.issuer.Issue(user)
	if err != nil {
		logging.Error("failed to issue token", "user", user.UserName, logging.Err(err))
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	refresh, err := auth.NewRefreshToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	if err := s.tokens.Save(r.Context(), refresh, user.ID, s.issuer.RefreshTTL()); err != nil {
		logging.Error("failed to store refresh token", "user", user.UserName, logging.Err(err))
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:        token,
		Expiration:   expiry,
		RefreshToken: refresh,
		UserName:     user.UserName,
		Role:         user.Role,
	})
}
