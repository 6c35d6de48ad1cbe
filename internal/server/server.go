// Package server provides the HTTP server for the mudra sign recognition
// service.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/mudra/internal/plugin"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/stream"
)

// DefaultMaxFrameBytes caps an uploaded frame when Config.MaxFrameBytes is zero.
const DefaultMaxFrameBytes = 8 << 20

// Config holds the server's collaborators. Only Orchestrator and Registry
// are needed for recognition; the rest enable optional endpoints.
type Config struct {
	Orchestrator *stream.Orchestrator
	Registry     *stream.Registry

	Store          *store.Store
	Plugins        *plugin.Manager
	Preview        FrameSource
	MetricsHandler http.Handler

	StaticDir     string
	CORSOrigins   []string
	MaxFrameBytes int64
	Logger        logrus.FieldLogger
}

// Server is the HTTP server for the mudra API.
type Server struct {
	config    Config
	mux       *http.ServeMux
	handler   http.Handler
	cors      *cors
	log       logrus.FieldLogger
	startTime time.Time

	// closed when Run begins shutting down; websocket handlers watch it
	closing chan struct{}
}

// New creates a new Server with the given configuration.
func New(cfg Config) *Server {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	s := &Server{
		config:    cfg,
		mux:       http.NewServeMux(),
		log:       cfg.Logger.WithField("component", "server"),
		startTime: time.Now(),
		cors:      newCORS(cfg.CORSOrigins),
		closing:   make(chan struct{}),
	}
	s.setupRoutes()
	s.handler = s.cors.wrap(s.mux)
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("POST /predict", s.handlePredict)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /api/sessions/{id}/frames", s.handleFrames)
	s.mux.HandleFunc("POST /api/sessions/{id}/reset", s.handleResetSession)
	s.mux.Handle("GET /api/stream", &StreamHandler{server: s})

	if s.config.Preview != nil {
		s.mux.Handle("GET /api/preview", NewPreviewHandler(s.config.Preview))
	}

	if s.config.Store != nil {
		actions := api.NewActionHandler(s.config.Store, s.vocabulary(), s.pluginLookup())
		s.mux.Handle("/api/actions", actions)
		s.mux.Handle("/api/actions/", actions)

		history := api.NewHistoryHandler(s.config.Store)
		s.mux.Handle("/api/history", history)
		s.mux.Handle("/api/history/", history)
	}

	if s.config.Plugins != nil {
		plugins := api.NewPluginHandler(s.config.Plugins)
		s.mux.Handle("/api/plugins", plugins)
		s.mux.Handle("/api/plugins/", plugins)
	}

	if s.config.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", s.config.MetricsHandler)
	}

	if s.config.StaticDir != "" {
		s.mux.Handle("/ui/", http.StripPrefix("/ui/", http.FileServer(http.Dir(s.config.StaticDir))))
	}
}

func (s *Server) vocabulary() api.LabelSet {
	if s.config.Orchestrator == nil {
		return nil
	}
	return s.config.Orchestrator.Vocabulary()
}

func (s *Server) pluginLookup() api.PluginLookup {
	if s.config.Plugins == nil {
		return nil
	}
	return s.config.Plugins
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "online",
		"message": "Sign Language Backend is running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessions := 0
	if s.config.Registry != nil {
		sessions = s.config.Registry.Len()
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   time.Since(s.startTime).String(),
		"sessions": sessions,
	})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	close(s.closing)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
