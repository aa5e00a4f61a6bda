// Package api exposes the orchestrator over HTTP as a JSON API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ragcache/ragcache/internal/tracing"
)

// Server binds the chi router to the configured address and provides
// graceful shutdown support.
type Server struct {
	router  chi.Router
	handler *Handler
	addr    string
	httpSrv *http.Server
}

// NewServer creates a new Server with the given Handler, listen address,
// and HTTP timeout durations. Zero-value timeouts leave the corresponding
// http.Server field at its default (no timeout). If tracingEnabled is true,
// the OpenTelemetry HTTP middleware is added to extract/inject trace context.
func NewServer(handler *Handler, addr string, readTimeout, writeTimeout, idleTimeout time.Duration, tracingEnabled bool) *Server {
	r := chi.NewRouter()

	// Standard chi middleware.
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// OpenTelemetry trace context extraction/injection.
	if tracingEnabled {
		r.Use(tracing.HTTPMiddleware)
	}

	r.Use(handler.trackActive)

	r.Post("/v1/documents", handler.HandleUpload)
	r.Get("/v1/documents/{digest}", handler.HandleGetDocument)
	r.Delete("/v1/documents/{digest}", handler.HandleClearDocument)
	r.Delete("/v1/documents", handler.HandleClearDocument)

	r.Post("/v1/query", handler.HandleQuery)

	r.Post("/v1/sql/generate", handler.HandleSQLGenerate)
	r.Post("/v1/sql/{id}/decide", handler.HandleSQLDecide)
	r.Get("/v1/sql/pending", handler.HandleSQLPending)

	r.Get("/v1/stats", handler.HandleStats)
	r.Delete("/v1/cache", handler.HandleClearCache)

	r.Get("/health", handler.HandleHealth)
	r.Get("/health/ready", handler.HandleReady)

	srv := &Server{
		router:  r,
		handler: handler,
		addr:    addr,
	}

	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return srv
}

// Router returns the underlying chi.Router, useful for testing or additional
// route mounting by the caller.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins listening for HTTP connections on the configured address.
// It blocks until the server is shut down or encounters a fatal error.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
