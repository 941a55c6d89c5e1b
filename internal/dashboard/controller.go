// Package dashboard holds the dashboard controller, the single owner of the
// live traffic state, and the web view that serves it.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/trafficwatch/trafficwatch/internal/control"
	"github.com/trafficwatch/trafficwatch/internal/eventlog"
	"github.com/trafficwatch/trafficwatch/internal/metrics"
	"github.com/trafficwatch/trafficwatch/internal/protocol"
	"github.com/trafficwatch/trafficwatch/internal/series"
	"github.com/trafficwatch/trafficwatch/internal/tally"
)

// DefaultNoticeCapacity bounds the error surface.
const DefaultNoticeCapacity = 50

// ErrUnknownAction is returned for an action kind the controller can't apply.
var ErrUnknownAction = errors.New("unknown action")

// Sink receives a snapshot after every state change. Render is called on the
// controller goroutine and must not block.
type Sink interface {
	Render(Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Snapshot)

func (f SinkFunc) Render(s Snapshot) { f(s) }

// Options configures a Controller.
type Options struct {
	EventLogSize int
	NoticeSize   int
	Retention    series.Retention
	Metrics      *metrics.Metrics
}

type request struct {
	action Action
	reply  chan result
}

type result struct {
	snap Snapshot
	err  error
}

// Controller owns every piece of mutable dashboard state. Its methods are not
// safe for concurrent use: call them from the goroutine running Run, or use
// Submit from anywhere else.
type Controller struct {
	clock  *series.Clock
	scores *series.Buffer
	counts *series.Buffer
	rates  *series.Buffer
	tally  *tally.Tally
	events *eventlog.Log

	notices   []Notice
	noticeCap int
	noticeSeq int64

	backend BackendStatus
	blocked map[string]struct{}
	updates int64

	dispatcher *control.Dispatcher
	sinks      []Sink
	requests   chan request
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewController creates a controller that sends commands through d.
func NewController(d *control.Dispatcher, opts Options, logger *slog.Logger) *Controller {
	if opts.NoticeSize <= 0 {
		opts.NoticeSize = DefaultNoticeCapacity
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	return &Controller{
		clock:      series.NewClock(series.DefaultStep),
		scores:     series.NewBuffer(opts.Retention),
		counts:     series.NewBuffer(opts.Retention),
		rates:      series.NewBuffer(opts.Retention),
		tally:      tally.New(),
		events:     eventlog.New(opts.EventLogSize),
		noticeCap:  opts.NoticeSize,
		blocked:    make(map[string]struct{}),
		dispatcher: d,
		requests:   make(chan request),
		metrics:    opts.Metrics,
		logger:     logger,
	}
}

// AddSink registers s. Call before Run.
func (c *Controller) AddSink(s Sink) {
	c.sinks = append(c.sinks, s)
}

// Run applies inbound envelopes and submitted actions one at a time until ctx
// is cancelled or events is closed.
func (c *Controller) Run(ctx context.Context, events <-chan protocol.Envelope) error {
	c.notify()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-events:
			if !ok {
				c.logger.Info("event stream closed")
				return nil
			}
			c.HandleEnvelope(env)
		case req := <-c.requests:
			snap, err := c.Apply(ctx, req.action)
			req.reply <- result{snap: snap, err: err}
		}
	}
}

// Submit hands a to the running loop and waits for it to be applied.
func (c *Controller) Submit(ctx context.Context, a Action) (Snapshot, error) {
	req := request{action: a, reply: make(chan result, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.snap, res.err
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// HandleEnvelope decodes env and applies it. Payloads that fail validation
// are dropped.
func (c *Controller) HandleEnvelope(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventUpdate:
		u, err := protocol.DecodeUpdate(env.Data)
		if err != nil {
			c.reject(env.Event, err)
			return
		}
		c.OnUpdate(u)
	case protocol.EventError:
		ev, err := protocol.DecodeError(env.Data)
		if err != nil {
			c.reject(env.Event, err)
			return
		}
		c.OnError(ev.Message)
	case protocol.EventStatus:
		st, err := protocol.DecodeStatus(env.Data)
		if err != nil {
			c.reject(env.Event, err)
			return
		}
		c.OnStatus(st)
	default:
		c.logger.Debug("ignoring event", "event", env.Event)
	}
}

func (c *Controller) reject(event string, err error) {
	c.metrics.RejectedTotal.WithLabelValues(event).Inc()
	c.logger.Warn("dropping invalid event", "event", event, "error", err)
}

// OnUpdate advances the clock and folds u into every buffer, the tally and
// the event log.
func (c *Controller) OnUpdate(u protocol.Update) Snapshot {
	tick := c.clock.Advance()

	c.scores.Append(tick, u.Score)
	c.counts.Append(tick, float64(u.CountValue()))
	c.rates.Append(tick, u.Rate)

	inc := u.Increment()
	c.tally.Add(u.Label, inc)

	if evicted, ok := c.events.Prepend(eventlog.NewRecord(tick, u)); ok {
		c.logger.Debug("event record evicted", "tick", evicted.Tick)
	}
	c.updates++

	c.metrics.UpdatesTotal.Inc()
	c.metrics.RequestsClassified.WithLabelValues(string(u.Label)).Add(float64(inc))
	c.metrics.CurrentRate.Set(u.Rate)
	c.metrics.AnomalyScore.Set(u.Score)
	c.metrics.Tick.Set(float64(tick))

	return c.notify()
}

// OnError records a backend error. No other state changes.
func (c *Controller) OnError(message string) Snapshot {
	c.noticeSeq++
	n := Notice{Seq: c.noticeSeq, Tick: c.clock.Now(), Time: time.Now(), Message: message}
	c.notices = slices.Insert(c.notices, 0, n)
	if len(c.notices) > c.noticeCap {
		c.notices = c.notices[:c.noticeCap]
	}
	c.metrics.BackendErrors.Inc()
	c.logger.Warn("backend error", "message", message)
	return c.notify()
}

// OnStatus merges a backend acknowledgement. Local state is never reverted.
func (c *Controller) OnStatus(st protocol.Status) Snapshot {
	if st.Running != nil {
		c.backend.Running = st.Running
	}
	if st.Type != nil {
		c.backend.Traffic = st.Type
	}
	if st.Neutralized != nil {
		c.backend.Neutralized = st.Neutralized
	}
	if st.RateLimit != nil {
		c.backend.RateLimit = st.RateLimit
		c.dispatcher.Mitigation().Acknowledge(*st.RateLimit)
	}
	if st.Blocked != nil {
		clear(c.blocked)
		for _, ip := range st.Blocked {
			c.blocked[ip] = struct{}{}
		}
		c.backend.Blocked = slices.Clone(st.Blocked)
	}
	return c.notify()
}

// StartSimulation asks the backend to start a simulation.
func (c *Controller) StartSimulation(ctx context.Context, kind protocol.TrafficKind) error {
	return c.dispatcher.StartSimulation(ctx, kind)
}

// StopSimulation asks the backend to stop the simulation.
func (c *Controller) StopSimulation(ctx context.Context) error {
	return c.dispatcher.StopSimulation(ctx)
}

// Neutralize asks the backend to neutralize. Tally and log are kept.
func (c *Controller) Neutralize(ctx context.Context) error {
	return c.dispatcher.Neutralize(ctx)
}

// ToggleMitigation flips the mitigation toggle and tells the backend.
func (c *Controller) ToggleMitigation(ctx context.Context) (bool, error) {
	enabled, err := c.dispatcher.ToggleMitigation(ctx)
	c.notify()
	return enabled, err
}

// BlockSource marks the record at tick blocked and asks the backend to
// block its source. It reports whether a command was sent; an already
// blocked record is left alone.
func (c *Controller) BlockSource(ctx context.Context, tick series.Tick) (bool, error) {
	rec, err := c.events.Find(tick)
	if err != nil {
		return false, fmt.Errorf("blocking tick %.1f: %w", float64(tick), err)
	}
	if rec.Blocked {
		return false, nil
	}
	if rec.SrcIP == "" {
		return false, fmt.Errorf("blocking tick %.1f: %w", float64(tick), control.ErrNoSourceIP)
	}

	rec, changed, err := c.events.MarkBlocked(tick)
	if err != nil || !changed {
		return false, err
	}
	c.notify()

	return true, c.dispatcher.BlockSource(ctx, rec.SrcIP)
}

// Apply performs a and returns the resulting state.
func (c *Controller) Apply(ctx context.Context, a Action) (Snapshot, error) {
	var err error
	switch a.Kind {
	case ActionStart:
		err = c.StartSimulation(ctx, a.Traffic)
	case ActionStop:
		err = c.StopSimulation(ctx)
	case ActionNeutralize:
		err = c.Neutralize(ctx)
	case ActionToggleMitigation:
		_, err = c.ToggleMitigation(ctx)
	case ActionBlock:
		_, err = c.BlockSource(ctx, a.Tick)
	case ActionSnapshot:
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}
	if err != nil {
		c.logger.Warn("action failed", "action", a.String(), "error", err)
	}
	return c.Snapshot(), err
}

// Snapshot copies the current state.
func (c *Controller) Snapshot() Snapshot {
	toggle := c.dispatcher.Mitigation()

	records := c.events.Records()
	rows := make([]Row, len(records))
	for i, r := range records {
		_, confirmed := c.blocked[r.SrcIP]
		rows[i] = Row{Record: r, BlockConfirmed: r.Blocked && confirmed}
	}

	backend := c.backend
	backend.Blocked = slices.Clone(c.backend.Blocked)

	return Snapshot{
		Tick:              c.clock.Now(),
		Updates:           c.updates,
		AnomalyScores:     c.scores.Points(),
		RequestCounts:     c.counts.Points(),
		RequestRates:      c.rates.Points(),
		Tally:             c.tally.Counts(),
		Events:            rows,
		MitigationEnabled: toggle.Enabled(),
		MitigationPending: toggle.Pending(),
		Backend:           backend,
		Notices:           slices.Clone(c.notices),
	}
}

func (c *Controller) notify() Snapshot {
	snap := c.Snapshot()
	for _, s := range c.sinks {
		s.Render(snap)
	}
	return snap
}
