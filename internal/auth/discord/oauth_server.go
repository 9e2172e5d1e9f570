package discord

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aquila-desktop/aquila-auth/internal/auth"
	"github.com/aquila-desktop/aquila-auth/internal/misc"
	log "github.com/sirupsen/logrus"
)

// OAuthServer handles the loopback HTTP server for the Discord redirect.
// The listening socket is bound in Start, before the authorization URL is built,
// so the browser can never be redirected to a port that is not yet open.
type OAuthServer struct {
	// host is the loopback address to bind
	host string
	// port is the requested port; 0 asks the OS for one
	port int
	// path is the redirect path
	path string
	// listener is the bound socket
	listener net.Listener
	// server is the underlying HTTP server instance
	server *http.Server
	// resultChan carries the first callback that has a code, state or error
	resultChan chan *misc.OAuthCallback
	// errorChan carries a fatal serve error
	errorChan chan error
	// mu protects server state
	mu sync.Mutex
	// running indicates whether the server is currently running
	running bool
	// delivered is set once a callback has been handed over
	delivered bool
}

// NewOAuthServer creates a new redirect listener for host:port and path.
func NewOAuthServer(host string, port int, path string) *OAuthServer {
	if host == "" {
		host = "127.0.0.1"
	}
	if path == "" {
		path = "/callback"
	}
	return &OAuthServer{
		host:       host,
		port:       port,
		path:       path,
		resultChan: make(chan *misc.OAuthCallback, 1),
		errorChan:  make(chan error, 1),
	}
}

// Listen creates and starts a redirect listener in one step.
func Listen(host string, port int, path string) (*OAuthServer, error) {
	srv := NewOAuthServer(host, port, path)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return srv, nil
}

// Start binds the listening socket and begins serving in the background.
// A bind failure is reported as ErrListenerUnavailable.
func (s *OAuthServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return auth.NewAuthenticationError(auth.ErrListenerUnavailable, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)

	s.listener = listener
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	s.running = true

	server := s.server
	go func() {
		errServe := server.Serve(listener)
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) && !errors.Is(errServe, net.ErrClosed) {
			select {
			case s.errorChan <- fmt.Errorf("callback server failed: %w", errServe):
			default:
			}
		}
	}()

	log.Debugf("OAuth callback server listening on %s", listener.Addr())
	return nil
}

// RedirectURI returns the redirect URI served by this listener.
func (s *OAuthServer) RedirectURI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(s.host, strconv.Itoa(s.port)), s.path)
}

// Port returns the bound port once Start has succeeded.
func (s *OAuthServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Results delivers at most one callback.
func (s *OAuthServer) Results() <-chan *misc.OAuthCallback { return s.resultChan }

// Errors delivers a fatal serve error.
func (s *OAuthServer) Errors() <-chan error { return s.errorChan }

// Stop shuts the server down and releases the port before returning. It is
// safe to call repeatedly.
func (s *OAuthServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running || s.server == nil {
		s.mu.Unlock()
		return nil
	}
	server, listener := s.server, s.listener
	s.running = false
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	log.Debug("Stopping OAuth callback server")

	// Shutdown only closes listeners Serve has started tracking.
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debugf("close callback listener: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	if err != nil {
		_ = server.Close()
	}
	return err
}

// handleCallback answers every request on the redirect path with the same static
// page. Only the first request carrying OAuth parameters is forwarded.
func (s *OAuthServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackHost(r.Host) {
		log.Warn("OAuth callback rejected: non-loopback host header")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	cb := misc.CallbackFromQuery(r.URL.Query())
	if cb.HasResult() {
		s.sendResult(cb)
	} else {
		log.Debug("OAuth callback request without parameters ignored")
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(CallbackPageHTML)); err != nil {
		log.Debugf("failed to write callback page: %v", err)
	}
}

// sendResult forwards the first callback and drops the rest.
func (s *OAuthServer) sendResult(result *misc.OAuthCallback) {
	s.mu.Lock()
	if s.delivered {
		s.mu.Unlock()
		log.Debug("OAuth callback already received, duplicate ignored")
		return
	}
	s.delivered = true
	s.mu.Unlock()

	select {
	case s.resultChan <- result:
		log.Debug("OAuth result sent to channel")
	default:
		log.Warn("OAuth result channel is full, result dropped")
	}
}

func isLoopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
