package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iedon/reviewhost/account"
	"github.com/iedon/reviewhost/change"
	"github.com/iedon/reviewhost/config"
	"github.com/iedon/reviewhost/hostpage"
	"github.com/iedon/reviewhost/metrics"
)

// Accounts resolves the user named by the authentication header.
type Accounts interface {
	AccountByUsername(ctx context.Context, username string) (*account.Account, error)
}

// Changes loads changes addressed by REST requests.
type Changes interface {
	Change(ctx context.Context, id change.ID) (*change.Change, error)
}

// Options carries the components the server routes to.
type Options struct {
	Page     *hostpage.Cache
	Accounts Accounts
	Changes  Changes
	Delete   *change.DeleteAction
	Metrics  *metrics.Metrics
}

// Server ties HTTP handlers to the host page cache and the change actions.
type Server struct {
	cfg          *config.Config
	opts         Options
	logger       *slog.Logger
	router       chi.Router
	serverHeader string
}

// New constructs a server instance.
func New(cfg *config.Config, opts Options, logger *slog.Logger, serverHeader string) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	srv := &Server{cfg: cfg, opts: opts, logger: logger, router: chi.NewRouter(), serverHeader: strings.TrimSpace(serverHeader)}
	srv.routes()
	return srv
}

// Handler returns the complete middleware chain.
func (s *Server) Handler() http.Handler {
	return s.withServerHeader(s.logRequests(s.router))
}

// Start launches the HTTP server and attaches graceful shutdown behaviour.
func (s *Server) Start(ctx context.Context) error {
	listener, err := s.listen(s.cfg.Listen)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(ctxShutdown)
		close(shutdownDone)
	}()

	s.logger.Info("listening", "address", listener.Addr().String(), "tls", s.cfg.EnableTLS)
	var serveErr error
	if s.cfg.EnableTLS {
		serveErr = server.ServeTLS(listener, s.cfg.TLSCert, s.cfg.TLSKey)
	} else {
		serveErr = server.Serve(listener)
	}

	if errors.Is(serveErr, http.ErrServerClosed) {
		<-shutdownDone
		return nil
	}
	return serveErr
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)

	r.Get("/healthz", s.handleHealth)
	if s.cfg.Metrics.Enabled && s.opts.Metrics != nil {
		r.Method(http.MethodGet, s.cfg.Metrics.Path, s.opts.Metrics.Handler())
	}

	for _, p := range []string{"/", "/index.html"} {
		r.Get(p, s.handleHostPage)
		r.Head(p, s.handleHostPage)
	}

	changeRoutes := func(r chi.Router) {
		r.Delete("/", s.handleDeleteChange)
		r.Post("/delete", s.handleDeleteChange)
		r.Get("/actions", s.handleChangeActions)
	}
	r.Route("/changes/{id}", changeRoutes)
	r.Route("/a/changes/{id}", changeRoutes)

	r.NotFound(s.handleStatic)
}

func (s *Server) listen(address string) (net.Listener, error) {
	if listener, ok, err := s.systemdListener(); err != nil {
		return nil, err
	} else if ok {
		return listener, nil
	}
	if after, ok := strings.CutPrefix(address, "unix:"); ok {
		path := after
		_ = os.Remove(path)
		return net.Listen("unix", path)
	}
	return net.Listen("tcp", address)
}

func (s *Server) systemdListener() (net.Listener, bool, error) {
	pidEnv := strings.TrimSpace(os.Getenv("LISTEN_PID"))
	if pidEnv == "" {
		return nil, false, nil
	}
	pid, err := strconv.Atoi(pidEnv)
	if err != nil || pid != os.Getpid() {
		return nil, false, nil
	}
	fdsEnv := strings.TrimSpace(os.Getenv("LISTEN_FDS"))
	if fdsEnv == "" {
		return nil, false, nil
	}
	fds, err := strconv.Atoi(fdsEnv)
	if err != nil {
		return nil, false, fmt.Errorf("systemd listener: invalid LISTEN_FDS: %w", err)
	}
	if fds <= 0 {
		return nil, false, nil
	}
	const sdListenFdsStart = 3
	file := os.NewFile(uintptr(sdListenFdsStart), fmt.Sprintf("systemd-fd-%d", sdListenFdsStart))
	if file == nil {
		return nil, false, fmt.Errorf("systemd listener: failed to access fd")
	}
	listener, err := net.FileListener(file)
	_ = file.Close()
	if err != nil {
		return nil, false, fmt.Errorf("systemd listener: %w", err)
	}
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")
	return listener, true, nil
}

func (s *Server) withServerHeader(next http.Handler) http.Handler {
	if s.serverHeader == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverHeader)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("http", "method", r.Method, "path", r.URL.Path, "status", status, "bytes", ww.BytesWritten(), "remote", s.clientRemoteAddr(r), "duration", time.Since(start))
	})
}

func (s *Server) clientRemoteAddr(r *http.Request) string {
	addr, chain := s.cfg.RemoteAddrFromRequest(r)
	if addr.IsValid() {
		return addr.String()
	}
	if len(chain) > 0 {
		if last := chain[len(chain)-1]; last.IsValid() {
			return last.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// authenticate attaches the account named by the auth header. The header is
// only honoured when the direct peer is a trusted proxy; anything else is
// served anonymously.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.Header.Get(s.cfg.Auth.Header))
		if username == "" || s.opts.Accounts == nil {
			next.ServeHTTP(w, r)
			return
		}
		if !s.cfg.PeerIsTrusted(r) {
			s.logger.Debug("ignoring auth header from untrusted peer", "peer", r.RemoteAddr, "header", s.cfg.Auth.Header)
			next.ServeHTTP(w, r)
			return
		}
		acct, err := s.opts.Accounts.AccountByUsername(r.Context(), username)
		if err != nil {
			s.logger.Warn("cannot resolve account", "username", username, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(account.WithCurrent(r.Context(), acct)))
	})
}
