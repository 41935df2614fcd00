package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	if s.login != nil {
		s.router.Get("/auth/login", s.login.HandleLogin)
		s.router.Get("/auth/callback", s.login.HandleCallback)
		s.router.Post("/auth/logout", s.login.HandleLogout)
	}

	// device-facing, identified by device code only
	s.router.Get("/devices/whoami", s.handleWhoami)
	s.router.Get("/sse/events", s.handleDeviceEvents)
	s.router.Get("/ws/events", s.handleDeviceSocket)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(corsMiddleware(s.corsOrigin))
		r.Use(jsonContentType)
		r.Use(RequireAuth(s.auth))

		r.Post("/channels/import/file", s.handleImportChannelsFile)

		r.Group(func(r chi.Router) {
			r.Use(limitBody)

			r.Get("/me", s.handleMe)

			r.Get("/devices", s.handleListDevices)
			r.Post("/devices", s.handleRegisterDevice)
			r.Delete("/devices/{id}", s.handleDeleteDevice)
			r.Post("/devices/{id}/play", s.handlePlay)
			r.Post("/devices/{id}/stop", s.handleStop)

			r.Get("/channels", s.handleListChannels)
			r.Get("/channels/groups", s.handleListGroups)
			r.Post("/channels/import", s.handleImportChannels)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"devices_connected": s.hub.Registry().Len(),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
