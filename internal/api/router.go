package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRouter creates and configures a Chi router with all API routes.
func (s *Server) SetupRouter() http.Handler {
	r := chi.NewRouter()

	// Built-in Chi middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// Custom middleware
	r.Use(s.LoggingMiddleware)
	r.Use(s.EnableCORS)

	// Public endpoints
	r.Get("/api/health", s.HealthHandler)

	// Login and refresh are public; account management is admin-only.
	r.Route("/users", func(r chi.Router) {
		r.Post("/login", s.LoginHandler)
		r.Post("/refresh", s.RefreshHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.Authenticated, s.AdminOnly)
			r.Get("/", s.ListUsersHandler)
			r.Post("/", s.CreateUserHandler)
			r.Get("/{id}", s.GetUserHandler)
			r.Put("/{id}", s.UpdateUserHandler)
			r.Delete("/{id}", s.DeleteUserHandler)
		})
	})

	// Realtime hub. Agents authenticate by device registration; browser
	// clients carry a bearer token.
	r.Get("/hub/agent", s.hub.HandleAgent)
	r.With(s.Authenticated).Get("/hub/client", s.hub.HandleClient)

	// Authenticated surface
	r.Group(func(r chi.Router) {
		r.Use(s.Authenticated)

		r.Route("/device", func(r chi.Router) {
			r.Get("/connected", s.ConnectedDevicesHandler)
			r.Post("/scan-com-ports/{deviceId}", s.ScanComPortsHandler)
			r.Get("/com-snapshot/{deviceId}", s.GetSnapshotHandler)
			r.Post("/com-snapshot/{deviceId}", s.UpsertSnapshotHandler)
			r.Post("/start-sms-receiver/{deviceId}", s.StartSmsReceiverHandler)
			r.Post("/stop-sms-receiver/{deviceId}", s.StopSmsReceiverHandler)
			r.Post("/send-sms", s.SendSmsHandler)
		})

		r.Route("/smsmessages", func(r chi.Router) {
			r.Get("/", s.ListSmsHandler)
			r.Delete("/{id}", s.SoftDeleteSmsHandler)
			r.With(s.AdminOnly).Get("/admin/all", s.ListSmsAdminHandler)
			r.With(s.AdminOnly).Delete("/admin/hard-delete/{id}", s.HardDeleteSmsHandler)
		})

		r.Route("/call-hangup-records", func(r chi.Router) {
			r.Get("/", s.ListHangupsHandler)
			r.Delete("/{id}", s.SoftDeleteHangupHandler)
			r.With(s.AdminOnly).Get("/admin/all", s.ListHangupsAdminHandler)
			r.With(s.AdminOnly).Delete("/admin/hard-delete/{id}", s.HardDeleteHangupHandler)
		})

		r.Route("/message-read", func(r chi.Router) {
			r.Post("/mark-read", s.MarkReadHandler)
			r.Post("/mark-all-read", s.MarkAllReadHandler)
			r.Get("/unread-counts", s.UnreadCountsHandler)
		})

		r.Route("/notes", func(r chi.Router) {
			r.Get("/", s.ListNotesHandler)
			r.Post("/", s.CreateNoteHandler)
			r.Get("/{id}", s.GetNoteHandler)
			r.Put("/{id}", s.UpdateNoteHandler)
			r.Delete("/{id}", s.DeleteNoteHandler)
		})

		// Admin-only collaborator
		r.Route("/com-allocations", func(r chi.Router) {
			r.Use(s.AdminOnly)
			r.Get("/", s.ListAllocationsHandler)
			r.Post("/", s.CreateAllocationHandler)
			r.Get("/{id}", s.GetAllocationHandler)
			r.Put("/{id}", s.UpdateAllocationHandler)
			r.Delete("/{id}", s.DeleteAllocationHandler)
		})
	})

	return r
}
