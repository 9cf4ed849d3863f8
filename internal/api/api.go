// Package api implements the REST facade over the task queue engine:
// JSON task CRUD scoped by (app, queue) plus a liveness probe, with a
// numeric-code error envelope.
package api

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/asynx/pkg/health"
	asynxredis "github.com/dmitrymomot/asynx/pkg/redis"
	"github.com/dmitrymomot/asynx/pkg/taskqueue"
)

// Server holds the dependencies shared by all request handlers.
type Server struct {
	client redis.UniversalClient
	broker taskqueue.Broker
	loc    *time.Location
	log    *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLocation sets the zone used for cron fields and naive eta input.
// Default: time.Local.
func WithLocation(loc *time.Location) ServerOption {
	return func(s *Server) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer creates the facade over the given Redis client and broker.
func NewServer(client redis.UniversalClient, broker taskqueue.Broker, opts ...ServerOption) *Server {
	s := &Server{
		client: client,
		broker: broker,
		loc:    time.Local,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Get("/healthz", health.LivenessHandler())
	r.Get("/readyz", health.ReadinessHandler(health.Checks{
		"redis": asynxredis.Healthcheck(s.client),
	}, health.WithLogger(s.log)))
	r.Route("/apps/{app}/taskqueues/{queue}/tasks", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleInsert)
		r.Get("/{ident}", s.handleGet)
		r.Delete("/{ident}", s.handleDelete)
	})
	return r
}

// queue builds the engine handle for the request's (app, queue)
// namespace. The handle is a cheap value; nothing is cached between
// requests.
func (s *Server) queue(r *http.Request) *taskqueue.TaskQueue {
	return taskqueue.New(s.client, chi.URLParam(r, "app"),
		taskqueue.WithQueue(chi.URLParam(r, "queue")),
		taskqueue.WithBroker(s.broker),
		taskqueue.WithLocation(s.loc),
		taskqueue.WithLogger(s.log),
	)
}
