// Package web serves the daemon's JSON control API and the SSE event
// stream that remote frontends consume.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/offcast/offcast/internal/auth"
	"github.com/offcast/offcast/internal/connectivity"
	"github.com/offcast/offcast/internal/downloader"
	"github.com/offcast/offcast/internal/events"
	"github.com/offcast/offcast/internal/media"
	"github.com/offcast/offcast/internal/offline"
	"github.com/offcast/offcast/internal/playback"
	"github.com/offcast/offcast/internal/prefs"
	"github.com/offcast/offcast/internal/session"
	"github.com/offcast/offcast/internal/socket"
	"github.com/offcast/offcast/internal/web/handlers"
	"github.com/offcast/offcast/internal/web/middleware"
	"github.com/offcast/offcast/internal/web/sse"
)

// Config controls how the API server binds and authenticates
type Config struct {
	Port       int
	Bind       string
	APIToken   string
	AllowedNet *net.IPNet
}

// Deps bundles the daemon components the API exposes
type Deps struct {
	Auth      *auth.Repository
	Sessions  *session.Manager
	Downloads *downloader.Manager
	Media     *media.Repository
	Playback  *playback.Manager
	UserData  *playback.UserDataRepository
	Pipeline  *socket.Pipeline
	Network   *connectivity.Monitor
	Offline   *offline.Manager
	Prefs     *prefs.Prefs
	Bus       *events.Bus
}

// Server is the HTTP control-plane server
type Server struct {
	config    Config
	router    *chi.Mux
	sseBroker *sse.Broker
	bus       *events.Bus
	handlers  *handlers.Handlers
}

// NewServer creates a server with all routes configured
func NewServer(config Config, deps Deps) *Server {
	s := &Server{
		config:    config,
		router:    chi.NewRouter(),
		sseBroker: sse.NewBroker(),
		bus:       deps.Bus,
		handlers: handlers.New(
			deps.Auth,
			deps.Sessions,
			deps.Downloads,
			deps.Media,
			deps.Playback,
			deps.UserData,
			deps.Pipeline,
			deps.Network,
			deps.Offline,
			deps.Prefs,
		),
	}
	s.setupRoutes()
	return s
}

// SSEBroker returns the SSE broker for broadcasting events
func (s *Server) SSEBroker() *sse.Broker {
	return s.sseBroker
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router
	h := s.handlers

	// AllowSubnet must come BEFORE RealIP so we check the actual connection source
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.AllowSubnet(s.config.AllowedNet))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TokenAuth(s.config.APIToken))

	// SSE endpoint kept out of the timeout group to allow long-lived connections
	r.Group(func(r chi.Router) {
		r.Get("/api/events", s.sseBroker.ServeHTTP)
	})

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", h.Status)
			r.Post("/offline", h.SetOffline)
			r.Post("/wifi-only", h.SetWifiOnly)

			r.Route("/auth", func(r chi.Router) {
				r.Post("/login", h.Login)
				r.Post("/logout", h.Logout)
				r.Post("/quickconnect/initiate", h.QuickConnectInitiate)
				r.Get("/quickconnect/state", h.QuickConnectState)
				r.Post("/quickconnect/connect", h.QuickConnectAuthenticate)
			})

			r.Route("/session", func(r chi.Router) {
				r.Post("/switch-server", h.SwitchServer)
				r.Post("/switch-user", h.SwitchUser)
			})

			r.Route("/servers", func(r chi.Router) {
				r.Get("/discover", h.DiscoverServers)
				r.Post("/resolve", h.ResolveServer)
			})

			r.Get("/nextup", h.NextUp)
			r.Route("/items/{id}", func(r chi.Router) {
				r.Get("/", h.Item)
				r.Post("/refresh", h.RefreshItem)
				r.Get("/sources", h.Sources)
				r.Get("/segments", h.Segments)
				r.Post("/played", h.SetPlayed)
				r.Post("/favorite", h.SetFavorite)
				r.Post("/rating", h.SetRating)
				r.Post("/watchlist", h.SetWatchlist)
			})

			r.Route("/downloads", func(r chi.Router) {
				r.Get("/", h.ListDownloads)
				r.Post("/", h.StartDownload)
				r.Get("/storage", h.DownloadStorage)
				r.Post("/{id}/pause", h.PauseDownload)
				r.Post("/{id}/resume", h.ResumeDownload)
				r.Post("/{id}/cancel", h.CancelDownload)
				r.Delete("/{id}", h.DeleteDownload)
			})

			r.Route("/playback", func(r chi.Router) {
				r.Get("/", h.NowPlaying)
				r.Post("/start", h.StartPlayback)
				r.Post("/progress", h.PlaybackProgress)
				r.Post("/stop", h.StopPlayback)
			})
		})
	})
}

// bridgeEvents forwards bus events to connected SSE clients until the
// context ends
func (s *Server) bridgeEvents(ctx context.Context) {
	if s.bus == nil {
		return
	}
	eventsCh, cancel := s.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			s.sseBroker.Broadcast(sse.Event{Type: sse.EventType(event.Kind), Data: event})
		}
	}
}

// Start starts the web server and blocks until shutdown
func (s *Server) Start(ctx context.Context) error {
	var addr string
	if s.config.Bind != "" {
		addr = fmt.Sprintf("%s:%d", s.config.Bind, s.config.Port)
	} else {
		addr = fmt.Sprintf(":%d", s.config.Port)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: s.router,
		// ReadTimeout is for reading request body
		ReadTimeout: 15 * time.Second,
		// WriteTimeout disabled (0) to allow SSE long-lived connections
		// Chi middleware timeout (60s) protects regular requests
		WriteTimeout: 0,
		// IdleTimeout for keep-alive connections between requests
		IdleTimeout: 120 * time.Second,
	}

	go s.bridgeEvents(ctx)

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		// Stop SSE broker first to close all client connections gracefully
		s.sseBroker.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
