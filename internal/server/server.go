// Package server is the HTTP surface of a convey application.
//
// Static prefixes are served from disk, live reload and metrics have fixed
// endpoints, and every other request goes to the dispatch handler.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/convey/internal/config"
	"github.com/conneroisu/convey/internal/livereload"
	"github.com/conneroisu/convey/internal/logging"
	"github.com/conneroisu/convey/internal/version"
)

// HealthPath reports liveness.
const HealthPath = "/_convey/health"

// Options configures a Server.
type Options struct {
	Config *config.Config
	// Dispatch handles every request not claimed by another route.
	Dispatch http.Handler
	// LiveReload is mounted when non-nil.
	LiveReload *livereload.Hub
	// Metrics is mounted at server.metrics_path when non-nil.
	Metrics http.Handler
	Logger  logging.Logger
}

// Server owns the router and the http.Server lifecycle.
type Server struct {
	config     *config.Config
	router     chi.Router
	httpServer *http.Server
	listener   net.Listener
	started    time.Time
	logger     logging.Logger

	serverMutex sync.RWMutex
	isShutdown  bool
}

// New builds the router. It panics when Config or Dispatch is nil.
func New(opts Options) *Server {
	if opts.Config == nil {
		panic("server: config cannot be nil")
	}
	if opts.Dispatch == nil {
		panic("server: dispatch handler cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	s := &Server{
		config: opts.Config,
		logger: opts.Logger.WithComponent("server"),
	}
	s.router = s.routes(opts)
	s.httpServer = &http.Server{
		Addr:              opts.Config.Address(),
		Handler:           s.router,
		ReadTimeout:       opts.Config.Server.ReadTimeout,
		ReadHeaderTimeout: opts.Config.Server.ReadTimeout,
		WriteTimeout:      opts.Config.Server.WriteTimeout,
	}
	return s
}

func (s *Server) routes(opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(securityHeaders)

	for _, static := range opts.Config.Server.Static {
		dir := opts.Config.Resolve(static.Dir)
		fs := http.StripPrefix(static.Prefix, http.FileServer(noListFS{http.Dir(dir)}))
		r.Handle(static.Prefix+"/*", fs)
	}

	if opts.LiveReload != nil {
		r.Get(livereload.SocketPath, opts.LiveReload.ServeHTTP)
		r.Method(http.MethodGet, livereload.ScriptPath, livereload.ScriptHandler())
	}
	if opts.Metrics != nil && opts.Config.Server.MetricsPath != "" {
		r.Method(http.MethodGet, opts.Config.Server.MetricsPath, opts.Metrics)
	}
	r.Get(HealthPath, s.health)

	r.Handle("/*", opts.Dispatch)
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is done or
// the server fails. Cancellation shuts the server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.serverMutex.Lock()
	if s.isShutdown {
		s.serverMutex.Unlock()
		return fmt.Errorf("server: already shut down")
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.serverMutex.Unlock()
		return fmt.Errorf("server: listening on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	s.started = time.Now()
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}

// Shutdown drains connections. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMutex.Lock()
	defer s.serverMutex.Unlock()

	if s.isShutdown {
		return nil
	}
	s.isShutdown = true

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown failed: %w", err)
	}
	return nil
}

// Addr is the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// IsShutdown returns whether the server has been shut down.
func (s *Server) IsShutdown() bool {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	return s.isShutdown
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.serverMutex.RLock()
	started := s.started
	s.serverMutex.RUnlock()

	var uptime time.Duration
	if !started.IsZero() {
		uptime = time.Since(started).Round(time.Second)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:  "healthy",
		Version: version.Get().Short(),
		Uptime:  uptime.String(),
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Debug(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// noListFS refuses directory listings.
type noListFS struct{ http.FileSystem }

func (fs noListFS) Open(name string) (http.File, error) {
	f, err := fs.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.IsDir() {
		index, err := fs.FileSystem.Open(filepath.ToSlash(filepath.Join(name, "index.html")))
		if err != nil {
			f.Close()
			return nil, os.ErrNotExist
		}
		index.Close()
	}
	return f, nil
}
