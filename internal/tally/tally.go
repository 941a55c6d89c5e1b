// Package tally keeps the cumulative per-label request count for a session.
package tally

import (
	"math"

	"github.com/trafficwatch/trafficwatch/internal/protocol"
)

// Tally is a two-bucket monotonic counter. It is never reset.
type Tally struct {
	normal int64
	ddos   int64
}

// New returns an empty tally.
func New() *Tally {
	return &Tally{}
}

// Add increments the bucket for label. Negative increments and unknown
// labels are ignored so the counters stay monotonic; it reports whether
// anything was counted. The total saturates at math.MaxInt64.
func (t *Tally) Add(label protocol.Label, n int64) bool {
	if n < 0 {
		return false
	}
	if headroom := math.MaxInt64 - t.normal - t.ddos; n > headroom {
		n = headroom
	}
	switch label {
	case protocol.LabelNormal:
		t.normal += n
	case protocol.LabelDDoS:
		t.ddos += n
	default:
		return false
	}
	return true
}

// Count returns the current value of one bucket.
func (t *Tally) Count(label protocol.Label) int64 {
	switch label {
	case protocol.LabelNormal:
		return t.normal
	case protocol.LabelDDoS:
		return t.ddos
	}
	return 0
}

// Total returns the sum of both buckets.
func (t *Tally) Total() int64 {
	return t.normal + t.ddos
}

// Counts is a copy of the tally for rendering.
type Counts struct {
	Normal int64 `json:"Normal"`
	DDoS   int64 `json:"DDoS"`
}

// Counts returns both buckets.
func (t *Tally) Counts() Counts {
	return Counts{Normal: t.normal, DDoS: t.ddos}
}
