package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/trafficwatch/trafficwatch/internal/audit"
	"github.com/trafficwatch/trafficwatch/internal/config"
	"github.com/trafficwatch/trafficwatch/internal/control"
	"github.com/trafficwatch/trafficwatch/internal/dashboard"
	"github.com/trafficwatch/trafficwatch/internal/metrics"
	"github.com/trafficwatch/trafficwatch/internal/telemetry"
	"github.com/trafficwatch/trafficwatch/internal/transport"
)

// loadConfig reads cfgFile, falling back to defaults when it doesn't exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Defaults()
	} else if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	level := slog.LevelInfo
	switch s {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return level
}

// app holds what every backend-facing command shares. close releases it all
// in reverse order.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    *audit.Store // nil when auditing is off
	tr       transport.Transport

	closers []func() error
}

// newApp wires logging, tracing, metrics, the audit store and the backend
// transport. Logs go to logOut unless cfg.LogFile is set.
func newApp(cfg *config.Config, logOut io.Writer) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		logOut = f
	}
	a.logger = slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	shutdown, err := telemetry.Setup(cfg.Telemetry.TraceFile)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	if cfg.Audit.Enabled {
		store, err := audit.NewStore(cfg.Audit.DBPath, a.logger)
		if err != nil {
			return nil, err
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	}

	tr, err := transport.New(cfg.Backend, a.logger)
	if err != nil {
		return nil, err
	}
	a.tr = tr
	a.closers = append(a.closers, tr.Close)

	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Debug("cleanup failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) dispatcher() *control.Dispatcher {
	opts := []control.Option{control.WithMetrics(a.metrics)}
	if a.store != nil {
		opts = append(opts, control.WithRecorder(a.store))
	}
	return control.NewDispatcher(a.tr, a.logger, opts...)
}

func (a *app) controller() *dashboard.Controller {
	return dashboard.NewController(a.dispatcher(), dashboard.Options{
		EventLogSize: a.cfg.Dashboard.EventLogSize,
		NoticeSize:   a.cfg.Dashboard.NoticeLogSize,
		Retention:    a.cfg.Dashboard.Retention,
		Metrics:      a.metrics,
	}, a.logger)
}

// startWeb serves the browser dashboard for ctrl when it is enabled. The
// returned channel yields the server's result once ctx is done.
func (a *app) startWeb(ctx context.Context, ctrl *dashboard.Controller) (url string, done <-chan error, err error) {
	if !a.cfg.Web.Enabled {
		return "", nil, nil
	}

	var gatherer prometheus.Gatherer
	if a.cfg.Web.Metrics {
		gatherer = a.registry
	}
	srv := dashboard.NewServer(ctrl, gatherer, a.logger)
	if a.store != nil {
		srv.StreamCommands(a.store.Hub)
	}
	port, err := srv.Listen(a.cfg.Web.Bind, a.cfg.Web.Port)
	if err != nil {
		return "", nil, fmt.Errorf("starting web dashboard: %w", err)
	}
	ctrl.AddSink(srv)

	ch := make(chan error, 1)
	go func() { ch <- srv.Serve(ctx) }()
	return fmt.Sprintf("http://%s:%d/", a.cfg.Web.Bind, port), ch, nil
}

// runBackend connects to the backend and drives ctrl until ctx is done or
// the connection is given up. It returns once both have stopped.
func (a *app) runBackend(ctx context.Context, ctrl *dashboard.Controller) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	trErr := make(chan error, 1)
	go func() { trErr <- a.tr.Run(ctx) }()

	// Run returns when ctx is done or the transport closes its events.
	_ = ctrl.Run(ctx, a.tr.Events())
	cancel()

	if err := <-trErr; err != nil {
		return fmt.Errorf("backend connection: %w", err)
	}
	return nil
}

// dial starts the transport and waits for the first connection. The returned
// stop disconnects and waits for the transport to finish.
func (a *app) dial(ctx context.Context) (stop func(), err error) {
	ctx, cancel := context.WithCancel(ctx)

	done := make(chan error, 1)
	go func() { done <- a.tr.Run(ctx) }()
	go func() {
		for range a.tr.Events() {
		}
	}()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for !a.tr.Connected() {
		select {
		case err := <-done:
			cancel()
			if err == nil {
				err = ctx.Err()
			}
			return nil, fmt.Errorf("connecting to backend: %w", err)
		case <-ticker.C:
		}
	}

	return func() {
		cancel()
		<-done
	}, nil
}
