// Package console prints the dashboard as a stream of lines for terminals
// and log pipelines.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/trafficwatch/trafficwatch/internal/dashboard"
	"github.com/trafficwatch/trafficwatch/internal/protocol"
	"github.com/trafficwatch/trafficwatch/internal/series"
)

// Printer writes each new event record, notice and state change once.
type Printer struct {
	mu  sync.Mutex
	out io.Writer

	ddos   *color.Color
	normal *color.Color
	errc   *color.Color
	dim    *color.Color

	lastTick   series.Tick
	lastNotice int64
	mitigation *bool
	simulation string
}

// New returns a printer writing to out. Color is disabled when useColor is
// false.
func New(out io.Writer, useColor bool) *Printer {
	p := &Printer{
		out:    out,
		ddos:   color.New(color.FgRed, color.Bold),
		normal: color.New(color.FgGreen),
		errc:   color.New(color.FgRed),
		dim:    color.New(color.Faint),
	}
	if !useColor {
		for _, c := range []*color.Color{p.ddos, p.normal, p.errc, p.dim} {
			c.DisableColor()
		}
	} else {
		for _, c := range []*color.Color{p.ddos, p.normal, p.errc, p.dim} {
			c.EnableColor()
		}
	}
	return p
}

// Render implements dashboard.Sink.
func (p *Printer) Render(snap dashboard.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// records are newest first
	for i := len(snap.Events) - 1; i >= 0; i-- {
		r := snap.Events[i]
		if r.Tick <= p.lastTick {
			continue
		}
		p.lastTick = r.Tick
		fmt.Fprintln(p.out, p.formatRow(r)) //nolint:errcheck // CLI output
	}

	for i := len(snap.Notices) - 1; i >= 0; i-- {
		n := snap.Notices[i]
		if n.Seq <= p.lastNotice {
			continue
		}
		p.lastNotice = n.Seq
		fmt.Fprintln(p.out, p.errc.Sprintf("[%6.1f] ERROR: %s", float64(n.Tick), n.Message)) //nolint:errcheck // CLI output
	}

	if p.mitigation == nil || *p.mitigation != snap.MitigationEnabled {
		if p.mitigation != nil {
			fmt.Fprintln(p.out, p.dim.Sprintf("[%6.1f] mitigation %s", float64(snap.Tick), snap.Mitigation())) //nolint:errcheck // CLI output
		}
		v := snap.MitigationEnabled
		p.mitigation = &v
	}

	if sim := snap.Simulation(); sim != p.simulation {
		if p.simulation != "" {
			fmt.Fprintln(p.out, p.dim.Sprintf("[%6.1f] simulation %s", float64(snap.Tick), sim)) //nolint:errcheck // CLI output
		}
		p.simulation = sim
	}
}

func (p *Printer) formatRow(r dashboard.Row) string {
	label := p.normal.Sprintf("%-6s", r.Label)
	if r.Label == protocol.LabelDDoS {
		label = p.ddos.Sprintf("%-6s", r.Label)
	}

	src := r.SrcIP
	if src == "" {
		src = "-"
	}

	volume := humanize.Comma(r.Count) + " req"
	if r.Allowed != nil {
		volume += fmt.Sprintf(" / %s allowed", humanize.Comma(*r.Allowed))
	}

	return fmt.Sprintf("[%6.1f] %-4s → %s (score %.3f) %-15s %s  %s",
		float64(r.Tick),
		r.ProtocolType,
		label,
		r.Score,
		src,
		volume,
		p.dim.Sprintf("%s→%s", humanize.Bytes(uint64(r.SrcBytes)), humanize.Bytes(uint64(r.DstBytes))),
	)
}
