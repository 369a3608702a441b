// Package api implements the HTTP surface of the central server: auth,
// device commands, event listings with per-user visibility, read receipts,
// and the CRUD collaborators. All list responses use the shared page
// envelope; errors are returned as {message}.
package api

import (
	"time"

	"github.com/modemfleet/internal/auth"
	"github.com/modemfleet/internal/database"
	"github.com/modemfleet/internal/hub"
	"github.com/modemfleet/internal/storage"
)

// Server bundles the dependencies shared by all handlers.
type Server struct {
	store     storage.Storage
	hub       *hub.Hub
	issuer    *auth.TokenIssuer
	tokens    auth.RefreshTokenStore
	db        *database.DB
	startTime time.Time
}

// NewServer creates the API server.
func NewServer(store storage.Storage, h *hub.Hub, issuer *auth.TokenIssuer, tokens auth.RefreshTokenStore, db *database.DB) *Server {
	return &Server{
		store:     store,
		hub:       h,
		issuer:    issuer,
		tokens:    tokens,
		db:        db,
		startTime: time.Now(),
	}
}
