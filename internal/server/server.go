package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"mattone/internal/models"
	"mattone/internal/playlist"
	"mattone/internal/relay"
	"mattone/internal/store"
)

// Authenticator resolves the console user behind a request.
type Authenticator interface {
	Authenticate(r *http.Request) (*models.User, error)
}

// LoginFlow serves the browser login endpoints.
type LoginFlow interface {
	HandleLogin(w http.ResponseWriter, r *http.Request)
	HandleCallback(w http.ResponseWriter, r *http.Request)
	HandleLogout(w http.ResponseWriter, r *http.Request)
}

// GeoLocator maps a device's address to a location, or nil when unknown.
type GeoLocator interface {
	Lookup(addr string) *models.GeoResult
}

type Server struct {
	router      chi.Router
	store       *store.Store
	hub         *relay.Hub
	auth        Authenticator
	login       LoginFlow
	geoResolver GeoLocator
	fetcher     *playlist.Fetcher
	registry    *prometheus.Registry
	httpMetrics *httpMetrics
	corsOrigin  string
	upgrader    websocket.Upgrader
}

func NewServer(s *store.Store, hub *relay.Hub, opts ...Option) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		store:  s,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// devices are not browsers and send no meaningful Origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(srv)
	}
	if srv.fetcher == nil {
		srv.fetcher = playlist.NewFetcher()
	}
	srv.router.Use(middleware.RealIP)
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	if srv.httpMetrics != nil {
		srv.router.Use(srv.httpMetrics.instrument)
	}
	srv.routes()
	return srv
}

type Option func(*Server)

func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

func WithAuth(a Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

func WithLoginFlow(l LoginFlow) Option {
	return func(s *Server) { s.login = l }
}

func WithGeoResolver(g GeoLocator) Option {
	return func(s *Server) { s.geoResolver = g }
}

func WithFetcher(f *playlist.Fetcher) Option {
	return func(s *Server) { s.fetcher = f }
}

// WithMetrics instruments HTTP handlers into reg and serves reg at /metrics.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
		s.httpMetrics = newHTTPMetrics(reg)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
