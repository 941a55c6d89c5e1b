package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trafficwatch/trafficwatch/internal/audit"
	"github.com/trafficwatch/trafficwatch/internal/metrics"
)

// Submitter applies operator actions; *Controller implements it.
type Submitter interface {
	Submit(ctx context.Context, a Action) (Snapshot, error)
}

// CommandFeed delivers audited commands as they are recorded; *audit.Hub
// implements it.
type CommandFeed interface {
	Subscribe() chan audit.Entry
	Unsubscribe(ch chan audit.Entry)
}

// Server serves the dashboard state over HTTP and relays operator actions.
// It is a Sink: the controller pushes every new snapshot into it.
type Server struct {
	ctrl     Submitter
	gatherer prometheus.Gatherer
	commands CommandFeed
	logger   *slog.Logger
	mux      *http.ServeMux

	mu     sync.RWMutex
	latest Snapshot
	subs   map[chan Snapshot]struct{}

	// closing ends every open stream once shutdown begins.
	closing   chan struct{}
	closeOnce sync.Once

	srv *http.Server
	ln  net.Listener
}

// NewServer creates a web server for ctrl. When gatherer is non-nil the
// server also exposes /metrics.
func NewServer(ctrl Submitter, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{
		ctrl:     ctrl,
		gatherer: gatherer,
		logger:   logger,
		mux:      http.NewServeMux(),
		subs:     make(map[chan Snapshot]struct{}),
		closing:  make(chan struct{}),
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler with tracing and middleware applied.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = securityHeaders(h)
	h = logging(s.logger)(h)
	h = requestID(h)
	h = recovery(s.logger)(h)
	return otelhttp.NewHandler(h, "trafficwatch.web")
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /", s.handleIndex)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("GET /api/events", s.handleSSE)

	s.mux.HandleFunc("POST /api/simulation/start", s.handleStart)
	s.mux.HandleFunc("POST /api/simulation/stop", s.handleAction(ActionStop))
	s.mux.HandleFunc("POST /api/neutralize", s.handleAction(ActionNeutralize))
	s.mux.HandleFunc("POST /api/mitigation/toggle", s.handleAction(ActionToggleMitigation))
	s.mux.HandleFunc("POST /api/block/{tick}", s.handleBlock)

	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", metrics.Handler(s.gatherer))
	}
}

// StreamCommands exposes feed as GET /api/commands. Call it before serving.
func (s *Server) StreamCommands(feed CommandFeed) {
	s.commands = feed
	s.mux.HandleFunc("GET /api/commands", s.handleCommands)
}

// Render stores snap and forwards it to live subscribers. Slow subscribers
// skip snapshots.
func (s *Server) Render(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snap
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Latest returns the most recent snapshot.
func (s *Server) Latest() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Server) subscribe() chan Snapshot {
	ch := make(chan Snapshot, 8)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan Snapshot) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

// Listen binds bind:port. If the port is taken it tries the next ten.
func (s *Server) Listen(bind string, port int) (int, error) {
	ln, actual, err := listenAutoPort(bind, port, s.logger)
	if err != nil {
		return 0, err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	// Shutdown waits for handlers, and streams only end when told to.
	s.srv.RegisterOnShutdown(s.stopStreams)
	return actual, nil
}

// Serve runs the server until ctx is cancelled. Listen must be called first.
func (s *Server) Serve(ctx context.Context) error {
	if s.srv == nil {
		return errors.New("web server not listening")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) stopStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func listenAutoPort(bind string, port int, logger *slog.Logger) (net.Listener, int, error) {
	addr := fmt.Sprintf("%s:%d", bind, port)
	ln, err := net.Listen("tcp", addr)
	if err == nil {
		// Port 0 lets the OS pick; report what it chose.
		return ln, ln.Addr().(*net.TCPAddr).Port, nil
	}
	if !errors.Is(err, syscall.EADDRINUSE) || port == 0 {
		return nil, 0, err
	}

	logger.Warn("port in use, searching for available port", "port", port)
	for offset := 1; offset <= 10; offset++ {
		tryPort := port + offset
		ln, err = net.Listen("tcp", fmt.Sprintf("%s:%d", bind, tryPort))
		if err == nil {
			logger.Info("using alternative port", "original", port, "actual", tryPort)
			return ln, tryPort, nil
		}
	}
	return nil, 0, fmt.Errorf("port %d and next 10 ports are all in use", port)
}
