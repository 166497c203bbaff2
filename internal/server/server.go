package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/multidoc/gateway/internal/auth"
	"github.com/multidoc/gateway/internal/history"
	"github.com/multidoc/gateway/internal/log"
	"github.com/multidoc/gateway/internal/model"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const (
	SessionCookie = "gateway_session"
	maxBodySize   = 10 << 20
)

// Invoker runs the external tool once, *service.Supervisor in production.
type Invoker interface {
	Invoke(ctx context.Context, req model.InvocationRequest) model.InvocationResult
}

type Deps struct {
	Verifier auth.Verifier
	Sessions auth.SessionStore
	History  history.Store
	Invoker  Invoker
}

// Server is the http.Handler of the gateway. Invocations started by it are
// cancelled once ctx passed to New is done.
type Server struct {
	baseCtx      context.Context
	cfg          model.Server
	cookieSecure bool
	deps         Deps
	router       chi.Router
}

func New(ctx context.Context, cfg model.Config, deps Deps) (*Server, error) {
	if deps.Verifier == nil || deps.Sessions == nil || deps.History == nil || deps.Invoker == nil {
		return nil, errors.New("server: all dependencies are required")
	}
	s := &Server{
		baseCtx:      ctx,
		cfg:          cfg.Server,
		cookieSecure: cfg.Auth.CookieSecure,
		deps:         deps,
	}
	s.router = s.buildRouter()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.logging)
	r.Use(s.recoverer)

	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)
	r.Get("/check_auth", s.handleCheckAuth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Post("/run", s.handleRun)
		r.Get("/api/history", s.handleGetHistory)
		r.Post("/api/history", s.handlePostHistory)
	})

	if s.cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return r
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.ContextAttrs(r.Context(), slog.String("request_id", chimw.GetReqID(r.Context())))
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		slog.DebugContext(ctx, "request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

// recoverer answers a panicking handler with a JSON 500. When the response
// is already under way, the connection is aborted instead.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww, ok := w.(chimw.WrapResponseWriter)
		if !ok {
			ww = chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.ErrorContext(r.Context(), "handler panicked", "panic", rec, "status", ww.Status())
			if ww.Status() != 0 {
				panic(http.ErrAbortHandler)
			}
			writeJSON(r.Context(), ww, http.StatusInternalServerError, runResponse{
				Status: statusError,
				Error:  "An unexpected error occurred: internal server error",
			})
		}()
		next.ServeHTTP(ww, r)
	})
}

type callerKey struct{}

// requireSession rejects requests without a valid session before their body is read.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.session(r)
		if !ok {
			writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{
				Status: statusError,
				Error:  "Unauthorized. Please log in.",
			})
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, sess.Username)
		ctx = log.ContextAttrs(ctx, slog.String("caller", sess.Username))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) session(r *http.Request) (auth.Session, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return auth.Session{}, false
	}
	return s.deps.Sessions.Lookup(r.Context(), c.Value)
}

func caller(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(callerKey{}).(string)
	return u, ok && u != ""
}

// invocationContext returns the context the tool runs under. Unless
// cancel_on_disconnect is set, a client going away does not kill the child,
// server shutdown always does.
func (s *Server) invocationContext(r *http.Request) (context.Context, context.CancelFunc) {
	parent := r.Context()
	if !s.cfg.CancelOnDisconnect {
		parent = context.WithoutCancel(parent)
	}
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.baseCtx, cancel)
	if s.baseCtx.Err() != nil {
		cancel()
	}
	return ctx, func() {
		stop()
		cancel()
	}
}
