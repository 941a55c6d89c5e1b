package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound command names.
const (
	CmdStart           = "start"
	CmdStop            = "stop"
	CmdNeutralize      = "neutralize"
	CmdToggleRateLimit = "toggle_rate_limit"
	CmdBlockIP         = "block_ip"
)

// Command is one outbound operator command.
type Command struct {
	Name    string
	Payload any // nil for commands without a payload
}

// StartPayload is the payload of a start command.
type StartPayload struct {
	Type TrafficKind `json:"type"`
}

// ToggleRateLimitPayload is the payload of a toggle_rate_limit command.
type ToggleRateLimitPayload struct {
	Enabled bool `json:"enabled"`
}

// BlockIPPayload is the payload of a block_ip command.
type BlockIPPayload struct {
	IP string `json:"ip"`
}

func Start(kind TrafficKind) Command {
	return Command{Name: CmdStart, Payload: StartPayload{Type: kind}}
}

func Stop() Command {
	return Command{Name: CmdStop}
}

func Neutralize() Command {
	return Command{Name: CmdNeutralize}
}

func ToggleRateLimit(enabled bool) Command {
	return Command{Name: CmdToggleRateLimit, Payload: ToggleRateLimitPayload{Enabled: enabled}}
}

func BlockIP(ip string) Command {
	return Command{Name: CmdBlockIP, Payload: BlockIPPayload{IP: ip}}
}

// Envelope wraps the command for the wire.
func (c Command) Envelope() (Envelope, error) {
	env := Envelope{Event: c.Name}
	if c.Payload == nil {
		return env, nil
	}
	data, err := json.Marshal(c.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %s payload: %w", c.Name, err)
	}
	env.Data = data
	return env, nil
}

// PayloadJSON returns the payload as JSON text, or "" when there is none.
func (c Command) PayloadJSON() string {
	if c.Payload == nil {
		return ""
	}
	data, err := json.Marshal(c.Payload)
	if err != nil {
		return ""
	}
	return string(data)
}
