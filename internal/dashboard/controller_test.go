package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficwatch/trafficwatch/internal/control"
	"github.com/trafficwatch/trafficwatch/internal/eventlog"
	"github.com/trafficwatch/trafficwatch/internal/metrics"
	"github.com/trafficwatch/trafficwatch/internal/protocol"
	"github.com/trafficwatch/trafficwatch/internal/series"
)

type fakeEmitter struct {
	mu   sync.Mutex
	sent []protocol.Command
	err  error
}

func (e *fakeEmitter) Emit(_ context.Context, cmd protocol.Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, cmd)
	return e.err
}

func (e *fakeEmitter) commands() []protocol.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]protocol.Command(nil), e.sent...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, opts Options) (*Controller, *fakeEmitter) {
	t.Helper()
	out := &fakeEmitter{}
	d := control.NewDispatcher(out, testLogger())
	return NewController(d, opts, testLogger()), out
}

func scenarioAUpdate() protocol.Update {
	return protocol.Update{
		Score: 0.12,
		Label: protocol.LabelNormal,
		Count: protocol.Int64(5),
		Rate:  2.5,
		Details: protocol.Details{
			ProtocolType: "tcp",
			SrcBytes:     100,
			DstBytes:     200,
			SrcIP:        "10.0.0.1",
		},
	}
}

func updateN(i int) protocol.Update {
	label := protocol.LabelNormal
	if i%3 == 0 {
		label = protocol.LabelDDoS
	}
	return protocol.Update{
		Score: float64(i) / 100,
		Label: label,
		Count: protocol.Int64(int64(i)),
		Rate:  float64(i) * 1.5,
		Details: protocol.Details{
			ProtocolType: "udp",
			SrcBytes:     int64(i),
			DstBytes:     int64(2 * i),
			SrcIP:        fmt.Sprintf("10.0.0.%d", i),
		},
	}
}

func TestController_SingleUpdate(t *testing.T) {
	c, _ := newTestController(t, Options{})

	snap := c.OnUpdate(scenarioAUpdate())

	assert.Equal(t, series.Tick(0.5), snap.Tick)
	assert.Equal(t, []series.Point{{Time: 0.5, Value: 0.12}}, snap.AnomalyScores)
	assert.Equal(t, []series.Point{{Time: 0.5, Value: 5}}, snap.RequestCounts)
	assert.Equal(t, []series.Point{{Time: 0.5, Value: 2.5}}, snap.RequestRates)
	assert.Equal(t, int64(5), snap.Tally.Normal)
	assert.Equal(t, int64(0), snap.Tally.DDoS)

	require.Len(t, snap.Events, 1)
	rec := snap.Events[0]
	assert.Equal(t, series.Tick(0.5), rec.Tick)
	assert.Equal(t, "TCP", rec.ProtocolType)
	assert.Equal(t, protocol.LabelNormal, rec.Label)
	assert.Equal(t, "10.0.0.1", rec.SrcIP)
	assert.False(t, rec.Blocked)
}

func TestController_TwentyFiveUpdates(t *testing.T) {
	c, _ := newTestController(t, Options{})

	var snap Snapshot
	for i := 1; i <= 25; i++ {
		snap = c.OnUpdate(updateN(i))
	}

	assert.Len(t, snap.AnomalyScores, 25)
	assert.Len(t, snap.RequestRates, 25)
	assert.Len(t, snap.RequestCounts, 25)
	assert.Equal(t, series.Tick(12.5), snap.Tick)

	require.Len(t, snap.Events, eventlog.DefaultCapacity)
	for i, rec := range snap.Events {
		assert.Equal(t, fmt.Sprintf("10.0.0.%d", 25-i), rec.SrcIP, "row %d", i)
	}
	for i := 1; i < len(snap.Events); i++ {
		assert.Greater(t, snap.Events[i-1].Tick, snap.Events[i].Tick)
	}
}

func TestController_TickMatchesUpdateCount(t *testing.T) {
	c, _ := newTestController(t, Options{})
	for n := 1; n <= 101; n++ {
		snap := c.OnUpdate(updateN(n))
		want := math.Round(float64(n)*0.5*10) / 10
		require.Equal(t, series.Tick(want), snap.Tick, "after %d updates", n)
	}
}

func TestController_TallySum(t *testing.T) {
	c, _ := newTestController(t, Options{})

	updates := []protocol.Update{
		scenarioAUpdate(),
		{Score: 0.9, Label: protocol.LabelDDoS, Count: protocol.Int64(7000), Allowed: protocol.Int64(300), Rate: 7000,
			Details: protocol.Details{ProtocolType: "udp", SrcIP: "1.2.3.4"}},
		{Score: 0.2, Label: protocol.LabelNormal, Rate: 1,
			Details: protocol.Details{ProtocolType: "icmp"}},
	}

	var snap Snapshot
	for _, u := range updates {
		snap = c.OnUpdate(u)
	}

	// allowed beats count, count beats the unit fallback
	assert.Equal(t, int64(6), snap.Tally.Normal)
	assert.Equal(t, int64(300), snap.Tally.DDoS)
}

func TestController_TallyNeverWraps(t *testing.T) {
	c, _ := newTestController(t, Options{})
	huge := json.RawMessage(`{"score":0.1,"label":"Normal","count":9000000000000000000,"rate":1,"details":{"protocolType":"tcp","srcBytes":1,"dstBytes":1,"srcIp":"10.0.0.1"}}`)

	c.HandleEnvelope(protocol.Envelope{Event: protocol.EventUpdate, Data: huge})
	first := c.Snapshot().Tally
	require.Equal(t, int64(9_000_000_000_000_000_000), first.Normal)

	c.HandleEnvelope(protocol.Envelope{Event: protocol.EventUpdate, Data: huge})
	second := c.Snapshot()
	assert.Equal(t, series.Tick(1), second.Tick, "both updates were applied")
	assert.GreaterOrEqual(t, second.Tally.Normal, first.Normal)
	assert.Equal(t, int64(math.MaxInt64), second.Tally.Normal)
}

func TestController_RetentionWindow(t *testing.T) {
	c, _ := newTestController(t, Options{Retention: series.Retention{MaxPoints: 20}})

	var snap Snapshot
	for i := 1; i <= 25; i++ {
		snap = c.OnUpdate(updateN(i))
	}
	require.Len(t, snap.AnomalyScores, 20)
	assert.Equal(t, series.Tick(3), snap.AnomalyScores[0].Time)
	assert.Equal(t, series.Tick(12.5), snap.AnomalyScores[19].Time)
}

func TestController_BlockSource(t *testing.T) {
	ctx := context.Background()
	c, out := newTestController(t, Options{})
	c.OnUpdate(scenarioAUpdate())

	sent, err := c.BlockSource(ctx, 0.5)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.True(t, c.Snapshot().Events[0].Blocked)

	sent, err = c.BlockSource(ctx, 0.5)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.True(t, c.Snapshot().Events[0].Blocked)

	assert.Equal(t, []protocol.Command{protocol.BlockIP("10.0.0.1")}, out.commands())
}

func TestController_BlockSourceEvicted(t *testing.T) {
	c, out := newTestController(t, Options{})
	for i := 1; i <= 11; i++ {
		c.OnUpdate(updateN(i))
	}

	_, err := c.BlockSource(context.Background(), 0.5)
	require.ErrorIs(t, err, eventlog.ErrRecordNotFound)
	assert.Empty(t, out.commands())
}

func TestController_BlockSourceWithoutIP(t *testing.T) {
	c, out := newTestController(t, Options{})
	u := scenarioAUpdate()
	u.Details.SrcIP = ""
	c.OnUpdate(u)

	_, err := c.BlockSource(context.Background(), 0.5)
	require.ErrorIs(t, err, control.ErrNoSourceIP)
	assert.False(t, c.Snapshot().Events[0].Blocked)
	assert.Empty(t, out.commands())
}

func TestController_BlockSurvivesSendFailure(t *testing.T) {
	c, out := newTestController(t, Options{})
	out.err = errors.New("not connected")
	c.OnUpdate(scenarioAUpdate())

	sent, err := c.BlockSource(context.Background(), 0.5)
	require.Error(t, err)
	assert.True(t, sent)
	assert.True(t, c.Snapshot().Events[0].Blocked)
}

func TestController_ToggleTwice(t *testing.T) {
	ctx := context.Background()
	c, out := newTestController(t, Options{})

	enabled, err := c.ToggleMitigation(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.False(t, c.Snapshot().MitigationEnabled)

	enabled, err = c.ToggleMitigation(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	snap := c.Snapshot()
	assert.True(t, snap.MitigationEnabled)
	assert.Equal(t, "Enabled", snap.Mitigation())
	assert.Equal(t, []protocol.Command{
		protocol.ToggleRateLimit(false),
		protocol.ToggleRateLimit(true),
	}, out.commands())
}

func TestController_ToggleParity(t *testing.T) {
	ctx := context.Background()
	for k := range 8 {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			c, out := newTestController(t, Options{})
			for range k {
				_, err := c.ToggleMitigation(ctx)
				require.NoError(t, err)
			}

			assert.Equal(t, k%2 == 0, c.Snapshot().MitigationEnabled)
			cmds := out.commands()
			require.Len(t, cmds, k)
			for i, cmd := range cmds {
				assert.Equal(t, protocol.ToggleRateLimit(i%2 == 1), cmd, "command %d", i)
			}
		})
	}
}

func TestController_NeutralizeKeepsState(t *testing.T) {
	c, out := newTestController(t, Options{})
	c.OnUpdate(scenarioAUpdate())

	require.NoError(t, c.Neutralize(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, int64(5), snap.Tally.Normal)
	assert.Len(t, snap.Events, 1)
	assert.Equal(t, []protocol.Command{protocol.Neutralize()}, out.commands())
}

func TestController_OnErrorLeavesCoreState(t *testing.T) {
	c, _ := newTestController(t, Options{NoticeSize: 2})
	before := c.OnUpdate(scenarioAUpdate())

	c.OnError("model not loaded")
	c.OnError("redis down")
	snap := c.OnError("simulation crashed")

	assert.Equal(t, before.Tick, snap.Tick)
	assert.Equal(t, before.Tally, snap.Tally)
	assert.Equal(t, before.Events, snap.Events)
	assert.Equal(t, before.AnomalyScores, snap.AnomalyScores)

	require.Len(t, snap.Notices, 2)
	assert.Equal(t, "simulation crashed", snap.Notices[0].Message)
	assert.Equal(t, "redis down", snap.Notices[1].Message)
}

func TestController_StatusAcknowledgement(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, Options{})
	c.OnUpdate(scenarioAUpdate())

	_, err := c.ToggleMitigation(ctx)
	require.NoError(t, err)
	_, err = c.BlockSource(ctx, 0.5)
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.False(t, snap.MitigationPending)
	assert.False(t, snap.Events[0].BlockConfirmed)

	// backend still reports rate limiting on and has not applied the block
	running := true
	kind := protocol.TrafficDDoS
	snap = c.OnStatus(protocol.Status{Running: &running, Type: &kind, RateLimit: ptr(true), Blocked: []string{}})
	assert.True(t, snap.MitigationPending)
	assert.False(t, snap.MitigationEnabled, "acknowledgement never reverts local state")
	assert.False(t, snap.Events[0].BlockConfirmed)
	assert.Equal(t, "running (ddos)", snap.Simulation())

	snap = c.OnStatus(protocol.Status{RateLimit: ptr(false), Blocked: []string{"10.0.0.1"}})
	assert.False(t, snap.MitigationPending)
	assert.True(t, snap.Events[0].BlockConfirmed)
	assert.True(t, *snap.Backend.Running, "fields absent from a status are kept")
}

func ptr(b bool) *bool { return &b }

func TestController_HandleEnvelopeRejectsInvalid(t *testing.T) {
	m := metrics.New(nil)
	c, _ := newTestController(t, Options{Metrics: m})

	c.HandleEnvelope(protocol.Envelope{Event: protocol.EventUpdate, Data: json.RawMessage(`{"score":0.1,"label":"Unknown","count":1,"rate":1,"details":{"protocolType":"tcp","srcBytes":1,"dstBytes":1,"srcIp":"x"}}`)})
	c.HandleEnvelope(protocol.Envelope{Event: protocol.EventUpdate, Data: json.RawMessage(`{"score":0.1,"label":"Normal","count":-1,"rate":1,"details":{"protocolType":"tcp","srcBytes":1,"dstBytes":1,"srcIp":"x"}}`)})
	c.HandleEnvelope(protocol.Envelope{Event: protocol.EventError, Data: json.RawMessage(`{}`)})
	c.HandleEnvelope(protocol.Envelope{Event: "heartbeat"})

	snap := c.Snapshot()
	assert.Equal(t, series.Tick(0), snap.Tick)
	assert.Empty(t, snap.Events)
	assert.Empty(t, snap.Notices)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RejectedTotal.WithLabelValues(protocol.EventUpdate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectedTotal.WithLabelValues(protocol.EventError)))
}

func TestController_SinksSeeEveryUpdate(t *testing.T) {
	c, _ := newTestController(t, Options{})
	var ticks []series.Tick
	c.AddSink(SinkFunc(func(s Snapshot) { ticks = append(ticks, s.Tick) }))

	c.OnUpdate(updateN(1))
	c.OnUpdate(updateN(2))
	c.OnError("boom")

	assert.Equal(t, []series.Tick{0.5, 1, 1}, ticks)
}

func TestController_SnapshotIsIsolated(t *testing.T) {
	c, _ := newTestController(t, Options{})
	snap := c.OnUpdate(scenarioAUpdate())

	snap.Events[0].Blocked = true
	snap.AnomalyScores[0].Value = 99

	fresh := c.Snapshot()
	assert.False(t, fresh.Events[0].Blocked)
	assert.Equal(t, 0.12, fresh.AnomalyScores[0].Value)
}

func TestController_RunAndSubmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, out := newTestController(t, Options{})
	events := make(chan protocol.Envelope, 4)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, events) }()

	data, err := json.Marshal(scenarioAUpdate())
	require.NoError(t, err)
	events <- protocol.Envelope{Event: protocol.EventUpdate, Data: data}

	require.Eventually(t, func() bool {
		snap, err := c.Submit(ctx, Action{Kind: ActionSnapshot})
		return err == nil && len(snap.Events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := c.Submit(ctx, Block(0.5))
	require.NoError(t, err)
	assert.True(t, snap.Events[0].Blocked)

	_, err = c.Submit(ctx, Start("flood"))
	require.ErrorIs(t, err, control.ErrUnknownTrafficKind)

	_, err = c.Submit(ctx, Action{Kind: "reboot"})
	require.ErrorIs(t, err, ErrUnknownAction)

	_, err = c.Submit(ctx, Action{Kind: ActionToggleMitigation})
	require.NoError(t, err)

	close(events)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the event stream closed")
	}

	assert.Equal(t, []protocol.Command{
		protocol.BlockIP("10.0.0.1"),
		protocol.ToggleRateLimit(false),
	}, out.commands())
}

func TestController_SubmitHonoursContext(t *testing.T) {
	c, _ := newTestController(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Submit(ctx, Action{Kind: ActionStop})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestController_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newTestController(t, Options{})
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, make(chan protocol.Envelope)) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
