// Package pprof serves Go's profiling endpoints on a separate listener,
// kept off the public API port.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	rtsup "kcommit/internal/runtime/supervisor"
	logx "kcommit/pkg/logx"
)

// Config controls the optional pprof HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback bind requires Token or an explicit AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string // default "127.0.0.1:6060"
	Prefix        string // default "/debug/pprof/"
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}

	if s.cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(s.cfg.MutexProfileFraction)
	}
	if s.cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(s.cfg.BlockProfileRate)
	}

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Profiling is optional; its failure never takes the app down.
		rtsup.WithCancelOnError(false),
	)
	s.sup.Go("pprof.serve", s.serve)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	srv := s.srv
	s.sup = nil
	s.srv = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	sup.Cancel()
	_ = sup.Stop(ctx)
	s.log.Info("pprof stopped")
}

func (s *Service) serve(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	if !cfg.AllowInsecure && cfg.Token == "" && !isLoopbackAddr(addr) {
		return fmt.Errorf("pprof refused to start: non-loopback addr %s requires token or allow_insecure", addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("pprof listen %s: %w", addr, err)
	}
	defer ln.Close()

	prefix := normalizePrefix(cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withToken(cfg.Token, h) }

	mux := http.NewServeMux()
	mux.HandleFunc(prefix, wrap(indexAt(prefix)))
	mux.HandleFunc(base+"/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(base+"/profile", wrap(hpprof.Profile))
	mux.HandleFunc(base+"/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(base+"/trace", wrap(hpprof.Trace))
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("pprof listening",
		logx.String("addr", ln.Addr().String()),
		logx.String("prefix", prefix),
		logx.Bool("token_set", cfg.Token != ""),
	)

	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func withToken(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got == tok {
			h(w, r)
			return
		}
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") &&
			strings.TrimSpace(strings.TrimPrefix(ah, "Bearer ")) == tok {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// indexAt rewrites the request path so pprof.Index works from any prefix;
// the stdlib handler assumes it is rooted at /debug/pprof/.
func indexAt(prefix string) http.HandlerFunc {
	canon := normalizePrefix(prefix)
	return func(w http.ResponseWriter, r *http.Request) {
		suffix := strings.TrimPrefix(r.URL.Path, canon)
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + suffix
		hpprof.Index(w, r2)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
