// Package eventlog holds the bounded, newest-first log of recent update
// records shown in the dashboard table.
package eventlog

import (
	"errors"
	"strings"

	"github.com/trafficwatch/trafficwatch/internal/protocol"
	"github.com/trafficwatch/trafficwatch/internal/series"
)

// DefaultCapacity is the number of records the dashboard keeps.
const DefaultCapacity = 10

// ErrRecordNotFound is returned when a record has already been evicted.
var ErrRecordNotFound = errors.New("event record not found")

// Record is one inbound update as shown in the table. Everything but
// Blocked is fixed at creation.
type Record struct {
	Tick         series.Tick    `json:"tick"`
	ProtocolType string         `json:"protocolType"`
	SrcBytes     int64          `json:"srcBytes"`
	DstBytes     int64          `json:"dstBytes"`
	Label        protocol.Label `json:"label"`
	Score        float64        `json:"score"`
	Count        int64          `json:"count"`
	Allowed      *int64         `json:"allowed,omitempty"`
	Rate         float64        `json:"rate"`
	SrcIP        string         `json:"srcIp"`
	Blocked      bool           `json:"blocked"`
}

// NewRecord builds a record for the update received at tick.
func NewRecord(tick series.Tick, u protocol.Update) Record {
	return Record{
		Tick:         tick,
		ProtocolType: strings.ToUpper(u.Details.ProtocolType),
		SrcBytes:     u.Details.SrcBytes,
		DstBytes:     u.Details.DstBytes,
		Label:        u.Label,
		Score:        u.Score,
		Count:        u.CountValue(),
		Allowed:      u.Allowed,
		Rate:         u.Rate,
		SrcIP:        u.Details.SrcIP,
	}
}

// Log is a capacity-bounded list of records, newest first.
type Log struct {
	capacity int
	records  []Record
}

// New creates a log. A non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity, records: make([]Record, 0, capacity+1)}
}

// Capacity returns the maximum number of records kept.
func (l *Log) Capacity() int {
	return l.capacity
}

// Prepend inserts r at the head and evicts the oldest record on overflow.
// It returns the evicted record, if any.
func (l *Log) Prepend(r Record) (evicted Record, ok bool) {
	l.records = append(l.records, Record{})
	copy(l.records[1:], l.records)
	l.records[0] = r

	if len(l.records) > l.capacity {
		evicted = l.records[len(l.records)-1]
		l.records = l.records[:l.capacity]
		return evicted, true
	}
	return Record{}, false
}

// Len returns the number of records held.
func (l *Log) Len() int {
	return len(l.records)
}

// Records returns a copy of the log, newest first.
func (l *Log) Records() []Record {
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Find returns the record created at tick.
func (l *Log) Find(tick series.Tick) (Record, error) {
	for _, r := range l.records {
		if r.Tick == tick {
			return r, nil
		}
	}
	return Record{}, ErrRecordNotFound
}

// MarkBlocked sets Blocked on the record created at tick. It returns false
// when the record was already blocked, so callers emit at most once.
func (l *Log) MarkBlocked(tick series.Tick) (Record, bool, error) {
	for i := range l.records {
		if l.records[i].Tick != tick {
			continue
		}
		if l.records[i].Blocked {
			return l.records[i], false, nil
		}
		l.records[i].Blocked = true
		return l.records[i], true, nil
	}
	return Record{}, false, ErrRecordNotFound
}
