// Package health is the daemon's liveness endpoint (§6): a GET/HEAD
// 200 "OK" responder, grounded on the teacher's internal/server
// chi-router setup idiom, trimmed to the one route this daemon needs.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Server is a minimal HTTP server exposing a single health route.
type Server struct {
	httpSrv *http.Server
	router  *chi.Mux
}

// New builds a health server bound to port. The endpoint reports only
// that the process is alive; it runs no further checks.
func New(port int) *Server {
	r := chi.NewRouter()
	s := &Server{router: r}

	r.Get("/healthz", s.handleHealth)
	r.Head("/healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write([]byte("OK"))
	}
}

// Start serves until the process stops or Shutdown is called.
func (s *Server) Start() error {
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
