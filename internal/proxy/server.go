package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/devhost/internal/httpserver/mw"
	"github.com/MrSnakeDoc/devhost/internal/logger"
)

// Server is the HTTP listener in front of Handler.
type Server struct {
	http   *http.Server
	logger logger.Logger
}

func NewServer(addr string, h *Handler, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(mw.Log(log))
	r.Handle("/*", h)

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		logger: log,
	}
}

func (s *Server) Addr() string { return s.http.Addr }

// Start blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Infof("proxy listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("proxy shutting down")
	return s.http.Shutdown(ctx)
}
