package dashboard

import (
	"time"

	"github.com/trafficwatch/trafficwatch/internal/eventlog"
	"github.com/trafficwatch/trafficwatch/internal/protocol"
	"github.com/trafficwatch/trafficwatch/internal/series"
	"github.com/trafficwatch/trafficwatch/internal/tally"
)

// Notice is one backend-reported error shown in the error surface.
type Notice struct {
	Seq     int64       `json:"seq"` // increases by one per notice
	Tick    series.Tick `json:"tick"`
	Time    time.Time   `json:"time"`
	Message string      `json:"message"`
}

// BackendStatus is the last state the backend acknowledged. Fields stay nil
// until the backend reports them.
type BackendStatus struct {
	Running     *bool                 `json:"running,omitempty"`
	Traffic     *protocol.TrafficKind `json:"type,omitempty"`
	Neutralized *bool                 `json:"neutralized,omitempty"`
	RateLimit   *bool                 `json:"rateLimit,omitempty"`
	Blocked     []string              `json:"blocked,omitempty"`
}

// Row is an event record plus whether the backend confirmed its block.
type Row struct {
	eventlog.Record
	BlockConfirmed bool `json:"blockConfirmed"`
}

// Snapshot is an immutable copy of the dashboard state. Sinks may keep it
// and read it from any goroutine.
type Snapshot struct {
	Tick    series.Tick `json:"tick"`
	Updates int64       `json:"updates"`

	AnomalyScores []series.Point `json:"anomalyScores"`
	RequestCounts []series.Point `json:"requestCounts"`
	RequestRates  []series.Point `json:"requestRates"`

	Tally  tally.Counts `json:"tally"`
	Events []Row        `json:"events"`

	MitigationEnabled bool `json:"mitigationEnabled"`
	MitigationPending bool `json:"mitigationPending"`

	Backend BackendStatus `json:"backend"`
	Notices []Notice      `json:"notices"`
}

// Mitigation returns "Enabled" or "Disabled".
func (s Snapshot) Mitigation() string {
	if s.MitigationEnabled {
		return "Enabled"
	}
	return "Disabled"
}

// Simulation describes the acknowledged simulation state.
func (s Snapshot) Simulation() string {
	if s.Backend.Running == nil {
		return "unknown"
	}
	if !*s.Backend.Running {
		return "stopped"
	}
	if s.Backend.Traffic != nil {
		return "running (" + string(*s.Backend.Traffic) + ")"
	}
	return "running"
}
