// Package web exposes the module dispatcher over HTTP.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"groupcal/internal/config"
	"groupcal/internal/envelope"
	appLog "groupcal/internal/log"
	"groupcal/internal/mapi"
	"groupcal/internal/module"
)

// maxRequestBytes bounds the size of a module request envelope.
const maxRequestBytes = 8 << 20

// SessionFunc opens the session of an authenticated user. It returns nil
// when the user has no session.
type SessionFunc func(ctx context.Context, user string) mapi.Session

// Refresher re-imports subscribed calendars on demand.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Server serves the module endpoint.
type Server struct {
	cfg        *config.Config
	dispatcher *module.Dispatcher
	sessions   SessionFunc
	refresher  Refresher
	router     *chi.Mux
}

// NewServer wires the routes. refresher may be nil.
func NewServer(cfg *config.Config, d *module.Dispatcher, sessions SessionFunc, refresher Refresher) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		sessions:   sessions,
		refresher:  refresher,
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("web: basic auth enabled")
			r.Use(s.basicAuth)
		}
		r.Post("/api/modules", s.handleModules)
		r.Post("/api/refresh", s.handleRefresh)
	})
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("web: listening", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestLog writes one line per request through the application logger.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Info("web: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(began).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) basicAuthEnabled() bool {
	return s.cfg.BasicAuth != nil && s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	username, password := s.cfg.BasicAuth.Username, s.cfg.BasicAuth.Password
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="groupcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// user is the basic auth name, or the store owner when auth is off.
func (s *Server) user(r *http.Request) string {
	if u, _, ok := r.BasicAuth(); ok && s.basicAuthEnabled() {
		return u
	}
	return s.cfg.Store.Owner
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request too large")
		return
	}

	lang := r.Header.Get("Accept-Language")
	if lang == "" {
		lang = s.cfg.Language
	}
	user := s.user(r)
	var sess mapi.Session
	if s.sessions != nil && user != "" {
		sess = s.sessions(r.Context(), user)
	}

	out, err := s.dispatcher.Dispatch(r.Context(), sess, body, lang)
	if err != nil {
		if errors.Is(err, envelope.ErrMalformed) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		appLog.Error("web: dispatch failed", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusNotFound, "no subscriptions configured")
		return
	}
	if err := s.refresher.Refresh(r.Context()); err != nil {
		appLog.Warn("web: refresh incomplete", "err", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("web: failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
