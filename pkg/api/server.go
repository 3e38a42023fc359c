// Package api assembles the HTTP surface: routing, middleware, and the
// wiring between the graph and queue subsystems.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mergeplane/mergeplane/pkg/graph"
	"github.com/mergeplane/mergeplane/pkg/httputil"
	"github.com/mergeplane/mergeplane/pkg/observability"
	"github.com/mergeplane/mergeplane/pkg/queue"
)

// maxRequestBody caps JSON request bodies. Queue and simulation payloads
// are tiny; anything larger is a client bug.
const maxRequestBody = 1 << 20

// Server is the merge orchestration API server.
type Server struct {
	router *mux.Router
	log    *logrus.Logger
}

// Options carries the subsystem handlers the server composes.
type Options struct {
	Graph   *graph.Handlers
	Queue   *queue.Handlers
	Metrics *observability.Metrics
	Log     *logrus.Logger
}

// NewServer creates the API server and registers all routes under /api/v1.
func NewServer(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	s := &Server{
		router: mux.NewRouter(),
		log:    opts.Log,
	}

	middlewares := []mux.MiddlewareFunc{
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		httputil.MaxBytesMiddleware(maxRequestBody),
	}
	if opts.Metrics != nil {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(opts.Metrics))
	}
	s.router.Use(middlewares...)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	if opts.Graph != nil {
		opts.Graph.RegisterRoutes(v1)
	}
	if opts.Queue != nil {
		opts.Queue.RegisterRoutes(v1)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}
