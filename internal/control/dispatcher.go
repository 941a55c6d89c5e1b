// Package control turns operator actions into outbound backend commands.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trafficwatch/trafficwatch/internal/metrics"
	"github.com/trafficwatch/trafficwatch/internal/protocol"
	"github.com/trafficwatch/trafficwatch/internal/telemetry"
)

var (
	// ErrUnknownTrafficKind is returned for a simulation kind other than
	// normal or ddos.
	ErrUnknownTrafficKind = errors.New("unknown traffic kind")

	// ErrNoSourceIP is returned when blocking a record without a source.
	ErrNoSourceIP = errors.New("no source ip")
)

// Emitter delivers a command to the backend.
type Emitter interface {
	Emit(ctx context.Context, cmd protocol.Command) error
}

// Recorder keeps a trail of emitted commands.
type Recorder interface {
	RecordCommand(cmd protocol.Command, sendErr error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder records every emitted command.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithMetrics counts emitted commands on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher emits operator commands and owns the mitigation toggle.
// It is not safe for concurrent use; the dashboard loop is its only caller.
type Dispatcher struct {
	out      Emitter
	toggle   *Toggle
	recorder Recorder
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher sending through out.
func NewDispatcher(out Emitter, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		out:    out,
		toggle: NewToggle(),
		tracer: telemetry.Tracer("trafficwatch/control"),
		logger: logger,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.New(nil)
	}
	return d
}

// Mitigation returns the mitigation toggle.
func (d *Dispatcher) Mitigation() *Toggle {
	return d.toggle
}

// StartSimulation asks the backend to start generating traffic of kind.
func (d *Dispatcher) StartSimulation(ctx context.Context, kind protocol.TrafficKind) error {
	k, ok := protocol.ParseTrafficKind(string(kind))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTrafficKind, kind)
	}
	return d.emit(ctx, protocol.Start(k))
}

// StopSimulation asks the backend to stop the running simulation.
func (d *Dispatcher) StopSimulation(ctx context.Context) error {
	return d.emit(ctx, protocol.Stop())
}

// Neutralize asks the backend to neutralize the current attack.
func (d *Dispatcher) Neutralize(ctx context.Context) error {
	return d.emit(ctx, protocol.Neutralize())
}

// ToggleMitigation flips the local toggle and emits the new value. The flip
// stands even if the send fails.
func (d *Dispatcher) ToggleMitigation(ctx context.Context) (bool, error) {
	enabled := d.toggle.Flip()
	return enabled, d.sendMitigation(ctx, enabled)
}

// SetMitigation sets the toggle to enabled and emits it, whatever the
// current local value.
func (d *Dispatcher) SetMitigation(ctx context.Context, enabled bool) error {
	d.toggle.Set(enabled)
	return d.sendMitigation(ctx, enabled)
}

func (d *Dispatcher) sendMitigation(ctx context.Context, enabled bool) error {
	if enabled {
		d.metrics.MitigationEnabled.Set(1)
	} else {
		d.metrics.MitigationEnabled.Set(0)
	}
	return d.emit(ctx, protocol.ToggleRateLimit(enabled))
}

// BlockSource asks the backend to block ip.
func (d *Dispatcher) BlockSource(ctx context.Context, ip string) error {
	if ip == "" {
		return ErrNoSourceIP
	}
	return d.emit(ctx, protocol.BlockIP(ip))
}

func (d *Dispatcher) emit(ctx context.Context, cmd protocol.Command) error {
	ctx, span := d.tracer.Start(ctx, "command "+cmd.Name,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("command", cmd.Name)),
	)
	defer span.End()

	err := d.out.Emit(ctx, cmd)
	if err != nil {
		err = fmt.Errorf("sending %s: %w", cmd.Name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Warn("command not delivered", "command", cmd.Name, "error", err)
	} else {
		d.logger.Info("command sent", "command", cmd.Name, "payload", cmd.PayloadJSON())
	}

	d.metrics.CommandsTotal.WithLabelValues(cmd.Name, metrics.CommandResult(err)).Inc()
	if d.recorder != nil {
		d.recorder.RecordCommand(cmd, err)
	}
	return err
}
