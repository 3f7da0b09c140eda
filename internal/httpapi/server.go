// Package httpapi is the HTTP surface: OAuth onboarding, repository
// provisioning, the push webhook receiver, and the status endpoints the
// dashboard polls.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"kcommit/internal/github"
	"kcommit/internal/schedule"
	"kcommit/internal/storage"
	logx "kcommit/pkg/logx"
)

type Config struct {
	Addr    string // default ":8080"
	BaseURL string // public origin for OAuth redirect and webhook URLs

	AllowedOrigins []string
	SessionTTL     time.Duration

	ReadTimeout  time.Duration // default 15s
	WriteTimeout time.Duration // default 30s
	IdleTimeout  time.Duration // default 60s

	// DefaultRepo is the repository name suggested at onboarding.
	DefaultRepo string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.DefaultRepo == "" {
		c.DefaultRepo = "daily-activity"
	}
	return c
}

type Server struct {
	cfg   Config
	log   logx.Logger
	store storage.Store
	gh    *github.Client
	sched *schedule.Service

	sessions *sessionStore
	states   *stateStore

	secureCookies bool

	srv *http.Server
}

func New(cfg Config, store storage.Store, gh *github.Client, sched *schedule.Service, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:           cfg,
		log:           log,
		store:         store,
		gh:            gh,
		sched:         sched,
		sessions:      newSessionStore(cfg.SessionTTL),
		states:        newStateStore(),
		secureCookies: strings.HasPrefix(cfg.BaseURL, "https://"),
	}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/github/login", s.handleLogin)
		r.Get("/github/callback", s.handleCallback)
		r.Post("/github/webhook", s.handleWebhook)

		// Session-gated routes.
		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/user", s.handleUser)
			r.Post("/create-repository", s.handleCreateRepository)
			r.Get("/commits", s.handleCommits)
			r.Get("/github/status", s.handleStatus)
			r.Post("/logout", s.handleLogout)
		})
	})

	return r
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Janitor sweeps expired sessions and OAuth states until ctx is done.
func (s *Server) Janitor(ctx context.Context) {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sessions.sweep()
			s.states.sweep()
		}
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}

type ctxKey int

const ctxKeyUsername ctxKey = 1

// requireSession rejects requests without a live session cookie and puts
// the username on the request context.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, ok := s.currentUser(r)
		if !ok {
			writeErr(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUsername, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func usernameFrom(r *http.Request) string {
	v, _ := r.Context().Value(ctxKeyUsername).(string)
	return v
}
