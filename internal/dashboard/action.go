package dashboard

import (
	"fmt"

	"github.com/trafficwatch/trafficwatch/internal/protocol"
	"github.com/trafficwatch/trafficwatch/internal/series"
)

// ActionKind names an operator action.
type ActionKind string

const (
	ActionStart            ActionKind = "start"
	ActionStop             ActionKind = "stop"
	ActionNeutralize       ActionKind = "neutralize"
	ActionToggleMitigation ActionKind = "toggle_mitigation"
	ActionBlock            ActionKind = "block"
	ActionSnapshot         ActionKind = "snapshot" // no-op; returns the current state
)

// Action is an operator intent submitted to the controller loop.
type Action struct {
	Kind    ActionKind
	Traffic protocol.TrafficKind // for ActionStart
	Tick    series.Tick          // for ActionBlock
}

// Start returns an action starting a simulation of kind.
func Start(kind protocol.TrafficKind) Action {
	return Action{Kind: ActionStart, Traffic: kind}
}

// Block returns an action blocking the source of the record at tick.
func Block(tick series.Tick) Action {
	return Action{Kind: ActionBlock, Tick: tick}
}

func (a Action) String() string {
	switch a.Kind {
	case ActionStart:
		return fmt.Sprintf("start(%s)", a.Traffic)
	case ActionBlock:
		return fmt.Sprintf("block(%.1f)", float64(a.Tick))
	}
	return string(a.Kind)
}
