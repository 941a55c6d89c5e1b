package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/trafficwatch/trafficwatch/internal/control"
	"github.com/trafficwatch/trafficwatch/internal/dashboard"
	"github.com/trafficwatch/trafficwatch/internal/protocol"
	"github.com/trafficwatch/trafficwatch/internal/series"
)

type discard struct{}

func (discard) Emit(context.Context, protocol.Command) error { return nil }

func update(i int) protocol.Update {
	label := protocol.LabelNormal
	if i%4 == 0 {
		label = protocol.LabelDDoS
	}
	return protocol.Update{
		Score: float64(i%100) / 100,
		Label: label,
		Count: protocol.Int64(int64(i % 50)),
		Rate:  float64(i%30) * 1.5,
		Details: protocol.Details{
			ProtocolType: "tcp",
			SrcBytes:     int64(i % 4096),
			DstBytes:     int64(i % 8192),
			SrcIP:        fmt.Sprintf("10.0.%d.%d", (i/256)%256, i%256),
		},
	}
}

func heapAlloc() uint64 {
	runtime.GC()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

func main() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	policies := []struct {
		name      string
		retention series.Retention
	}{
		{"unbounded", series.Retention{}},
		{"last 600 points", series.Retention{MaxPoints: 600}},
		{"last 60 ticks", series.Retention{MaxAge: 60}},
	}
	scales := []int{1000, 5000, 20000}

	fmt.Println("=== CONTROLLER INGEST BENCHMARK (every update renders a snapshot) ===")
	fmt.Println()

	for _, p := range policies {
		fmt.Printf("--- retention: %s ---\n", p.name)
		for _, n := range scales {
			before := heapAlloc()
			ctrl := dashboard.NewController(control.NewDispatcher(discard{}, logger), dashboard.Options{Retention: p.retention}, logger)

			var points int
			ctrl.AddSink(dashboard.SinkFunc(func(s dashboard.Snapshot) {
				points = len(s.AnomalyScores)
			}))

			start := time.Now()
			for i := range n {
				ctrl.OnUpdate(update(i))
			}
			elapsed := time.Since(start)
			after := heapAlloc()

			var grown uint64
			if after > before {
				grown = after - before
			}
			fmt.Printf("  %7d updates  %9.0f upd/sec  %6d points kept  heap +%s\n",
				n, float64(n)/elapsed.Seconds(), points, humanize.Bytes(grown))
			runtime.KeepAlive(ctrl)
		}
		fmt.Println()
	}
}
