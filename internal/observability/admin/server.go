package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	logx "taskq/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6061"

// Config controls the optional admin HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Backend is the daemon surface exposed over HTTP.
type Backend interface {
	// Status is served as JSON at GET /status.
	Status(ctx context.Context) any
	PauseQueue()
	ResumeQueue()
	// CancelPending rejects every waiting task and returns how many.
	CancelPending() int
	// RunJob pushes the named job now, ignoring its schedule.
	RunJob(name string) error
}

type Server struct {
	cfg     Config
	log     logx.Logger
	backend Backend

	mu   sync.Mutex
	addr string
}

func New(cfg Config, backend Backend, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	return &Server{cfg: cfg, log: log, backend: backend}
}

// Addr returns the bound address once Serve is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Check reports whether cfg is safe to serve.
func Check(cfg Config) error {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("admin.addr: %w", err)
	}
	// Safety: prevent accidental public exposure without auth.
	if !cfg.AllowInsecure && strings.TrimSpace(cfg.Token) == "" && !isLoopbackAddr(addr) {
		return errors.New("admin.addr: non-loopback addr requires token or allow_insecure")
	}
	return nil
}

// Handler builds the admin mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(s.cfg.Token, h) }

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if b := s.backend; b != nil {
		mux.HandleFunc("GET /status", wrap(func(w http.ResponseWriter, r *http.Request) {
			s.writeJSON(w, http.StatusOK, b.Status(r.Context()))
		}))
		mux.HandleFunc("POST /queue/pause", wrap(func(w http.ResponseWriter, r *http.Request) {
			b.PauseQueue()
			s.log.Info("queue paused via admin", logx.String("remote", r.RemoteAddr))
			s.writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
		}))
		mux.HandleFunc("POST /queue/resume", wrap(func(w http.ResponseWriter, r *http.Request) {
			b.ResumeQueue()
			s.log.Info("queue resumed via admin", logx.String("remote", r.RemoteAddr))
			s.writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
		}))
		mux.HandleFunc("POST /queue/cancel", wrap(func(w http.ResponseWriter, r *http.Request) {
			n := b.CancelPending()
			s.log.Info("pending tasks cancelled via admin", logx.Int("count", n), logx.String("remote", r.RemoteAddr))
			s.writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
		}))
		mux.HandleFunc("POST /jobs/{name}/run", wrap(func(w http.ResponseWriter, r *http.Request) {
			name := r.PathValue("name")
			if err := b.RunJob(name); err != nil {
				s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
				return
			}
			s.log.Info("job triggered via admin", logx.String("job", name), logx.String("remote", r.RemoteAddr))
			s.writeJSON(w, http.StatusAccepted, map[string]string{"job": name})
		}))
	}

	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	}
	return mux
}

// Serve listens and serves until ctx is done. It returns nil after a
// ctx-driven shutdown.
func (s *Server) Serve(ctx context.Context) error {
	if err := Check(s.cfg); err != nil {
		return err
	}
	if s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(s.cfg.Addr) {
		s.log.Warn("admin running without token on non-loopback addr (insecure)", logx.String("addr", s.cfg.Addr))
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("admin started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("admin server exited unexpectedly")
	}
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.log.Warn("admin response encode failed", logx.Err(err))
	}
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept either:
		//   Authorization: Bearer <token>
		// or query param: ?token=<token>
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				h(w, r)
				return
			}
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
