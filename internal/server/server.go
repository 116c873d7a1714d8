package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/seismic-bv/seismic/internal/config"
	"github.com/seismic-bv/seismic/internal/contact"
	"github.com/seismic-bv/seismic/internal/errors"
	"github.com/seismic-bv/seismic/internal/logging"
	"github.com/seismic-bv/seismic/internal/monitoring"
	"github.com/seismic-bv/seismic/internal/site"
	"github.com/seismic-bv/seismic/internal/version"
)

// Deps are the collaborators of a Server.
type Deps struct {
	Store      *site.Store
	Dispatcher contact.FormDispatcher
	// Relays lists the relays for the health endpoint.
	Relays  func() []string
	Metrics *monitoring.Metrics
	Logger  logging.Logger
}

// Server serves the site and accepts contact submissions.
type Server struct {
	cfg        *config.Config
	store      *site.Store
	dispatcher contact.FormDispatcher
	logger     logging.Logger
	errHandler *errors.ErrorHandler
	metrics    *monitoring.Metrics
	health     *monitoring.HealthMonitor
	hub        *StatusHub
	limiter    *RateLimiter
	origins    *OriginChecker
	assets     fs.FS
	now        func() time.Time

	handler      http.Handler
	httpServer   *http.Server
	serverMutex  sync.RWMutex
	shutdownOnce sync.Once
	shutdownErr  error
}

// New wires a server. Nothing listens until Start or Serve.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "server config is required")
	}
	if deps.Store == nil || deps.Dispatcher == nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "server needs a content store and a dispatcher", nil)
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.Relays == nil {
		relays := cfg.Contact.Relays
		deps.Relays = func() []string { return relays }
	}

	logger := deps.Logger.WithComponent("server")
	s := &Server{
		cfg:        cfg,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		errHandler: errors.NewErrorHandler(logger),
		metrics:    deps.Metrics,
		hub:        NewStatusHub(DefaultStatusTTL),
		limiter:    NewRateLimiter(cfg.Server.RateLimit, logger),
		origins:    NewOriginChecker(cfg.Server.AllowedOrigins, logger),
		assets:     site.Assets(),
		now:        time.Now,
	}

	if dir := cfg.Site.AssetsDir; dir != "" {
		s.assets = overlayFS{upper: os.DirFS(dir), lower: s.assets}
	}

	s.health = monitoring.NewHealthMonitor(deps.Logger, version.GetVersion())
	s.health.RegisterCheck(monitoring.RelaysHealthChecker(deps.Relays))
	s.health.RegisterCheck(monitoring.GoroutineHealthChecker())
	s.health.RegisterCheck(monitoring.NewHealthCheckFunc("content", true, func(ctx context.Context) monitoring.HealthCheck {
		c := s.store.Content()
		if c == nil {
			return monitoring.HealthCheck{Status: monitoring.HealthStatusUnhealthy, Message: "No content loaded"}
		}
		source := s.store.Path()
		if source == "" {
			source = "embedded"
		}
		return monitoring.HealthCheck{
			Status:   monitoring.HealthStatusHealthy,
			Message:  "Content loaded",
			Metadata: map[string]interface{}{"source": source},
		}
	}))

	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	guard := []func(http.Handler) http.Handler{s.origins.Middleware}
	if s.cfg.Server.RateLimit.Enabled {
		guard = append(guard, RateLimitMiddleware(s.limiter, clientIPFunc(s.cfg.Server.TrustProxy), func(*http.Request) {
			s.recordSubmission("rate_limited")
		}))
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("POST /contact", chain(http.HandlerFunc(s.handleContactForm), guard...))
	mux.Handle("POST /api/contact", chain(http.HandlerFunc(s.handleContactAPI), guard...))
	mux.HandleFunc("GET "+site.DefaultStatusPath, s.handleStatus)
	mux.Handle("GET /health", s.health.HTTPHandler())
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.Handle("GET /static/", s.handleStatic(s.assets))

	var recorder RequestRecorder
	if s.metrics != nil {
		recorder = s.metrics
	}
	// security sets the request context, so it must run before the mux
	// records the pattern on the request the logger sees
	return chain(mux,
		SecurityMiddleware(DefaultCSPConfig(), s.logger),
		LoggingMiddleware(s.logger, recorder),
		RecoveryMiddleware(s.errHandler),
	)
}

// Handler returns the full handler chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until ctx is done or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Address())
	if err != nil {
		return errors.WrapConfig(err, errors.ErrCodeConfigInvalid, fmt.Sprintf("listening on %s", s.cfg.Server.Address()))
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln. When ctx ends the server shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.serverMutex.Lock()
	if s.httpServer != nil {
		s.serverMutex.Unlock()
		return errors.NewInternalError(errors.ErrCodeInternalError, "server already started", nil)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.httpServer = srv
	s.serverMutex.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = s.Shutdown(shutdownCtx)
		case <-done:
		}
	}()

	s.logger.Info(ctx, "Server listening", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.NewInternalError(errors.ErrCodeInternalError, "server error", err)
	}
	return nil
}

// Shutdown stops accepting requests, waits for running dispatches and
// releases background work. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		s.serverMutex.RLock()
		srv := s.httpServer
		s.serverMutex.RUnlock()

		var errs []error
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.hub.Drain(ctx); err != nil {
			s.logger.Warn(ctx, err, "Dispatches still running at shutdown")
			errs = append(errs, err)
		}
		s.hub.Close()
		s.limiter.Stop()
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
		s.shutdownErr = stderrors.Join(errs...)
	})
	return s.shutdownErr
}

// overlayFS serves files from upper and falls back to lower.
type overlayFS struct {
	upper, lower fs.FS
}

func (o overlayFS) Open(name string) (fs.File, error) {
	f, err := o.upper.Open(name)
	if err == nil {
		return f, nil
	}
	if !stderrors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return o.lower.Open(name)
}
