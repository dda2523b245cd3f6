// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package api exposes the service over HTTP. Routes live under /api and
// follow the layout of the RelVal web application: one prefix per entity
// with create, update, delete and get endpoints, plus lifecycle actions.
//
// Every response is a JSON envelope:
//
//	{"success": true, "response": ..., "message": ""}
//
// The caller is identified by a trusted header set by the front proxy.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/specialistvlad/relvalgo/internal/ctxlog"
	"github.com/specialistvlad/relvalgo/internal/identity"
	"github.com/specialistvlad/relvalgo/internal/service"
)

// DefaultUserHeader carries the authenticated login.
const DefaultUserHeader = "X-Remote-User"

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-Id"

// Server routes HTTP requests to the service.
type Server struct {
	svc        *service.Service
	directory  identity.Directory
	userHeader string
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithUserHeader sets the header the login is read from.
func WithUserHeader(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.userHeader = name
		}
	}
}

// WithLogger sets the base request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New returns a Server. Roles are resolved through dir.
func New(svc *service.Service, dir identity.Directory, opts ...Option) *Server {
	s := &Server{
		svc:        svc,
		directory:  dir,
		userHeader: DefaultUserHeader,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with the request middleware applied.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(s.middleware)
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Message: "no such endpoint: " + r.URL.Path})
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Message: r.Method + " is not allowed on " + r.URL.Path})
	})

	router.Route("/api", func(api chi.Router) {
		api.Route("/tickets", func(t chi.Router) {
			t.Put("/create", s.createTicket)
			t.Post("/update", s.updateTicket)
			t.Delete("/delete", s.deleteTicket)
			t.Get("/get/{id}", s.getTicket)
			t.Get("/get_editable/{id}", s.getEditableTicket)
			t.Post("/create_relvals", s.createRelVals)
			t.Get("/relvals_workflows/{id}", s.ticketWorkflows)
			t.Get("/run_the_matrix/{id}", s.ticketScript)
		})

		api.Route("/relvals", func(rv chi.Router) {
			rv.Put("/create", s.createRelVal)
			rv.Post("/update", s.updateRelVal)
			rv.Delete("/delete", s.deleteRelVal)
			rv.Get("/get/{id}", s.getRelVal)
			rv.Get("/get_editable/{id}", s.getEditableRelVal)
			rv.Get("/get_cmsdriver/{id}", s.relvalScript)
			rv.Get("/get_config_upload/{id}", s.relvalConfigUpload)
			rv.Get("/get_command/{id}", s.relvalCommand)
			rv.Get("/get_dict/{id}", s.relvalJobDict)
			rv.Get("/get_default_step", s.defaultStep)
			rv.Post("/next_status", s.nextStatus)
			rv.Post("/previous_status", s.previousStatus)
			rv.Post("/update_workflows", s.updateWorkflows)
		})

		api.Get("/system/user_info", s.userInfo)
		api.Get("/search", s.search)
		api.Get("/suggestions", s.suggestions)
		api.Get("/wild_search", s.wildSearch)
	})

	return router
}

// middleware tags the request with an id and a logger, and resolves the
// caller's identity. Requests without a login continue anonymously; the
// service rejects them where a role is needed.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)

		logger := s.logger.With("request_id", reqID, "method", r.Method, "path", r.URL.Path)
		ctx := ctxlog.WithLogger(r.Context(), logger)

		if login := r.Header.Get(s.userHeader); login != "" {
			user, err := s.directory.Lookup(ctx, login)
			if err != nil {
				logger.Warn("User lookup failed", "login", login, "error", err)
				writeError(ctx, w, err)
				return
			}
			ctx = identity.WithUser(ctx, user)
			logger = logger.With("user", user.Login)
			ctx = ctxlog.WithLogger(ctx, logger)
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		logger.Debug("Request served.", "status", ww.Status(), "bytes", ww.BytesWritten(), "duration", time.Since(start))
	})
}
