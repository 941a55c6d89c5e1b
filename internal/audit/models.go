package audit

import "encoding/json"

// Command delivery outcomes.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Entry represents one operator command sent (or attempted) to the backend.
type Entry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Command   string `json:"command"`
	Payload   string `json:"payload,omitempty"` // JSON object
	Status    string `json:"status"`            // sent, failed
	Error     string `json:"error,omitempty"`
}

// EntryJSON returns the JSON encoding of e, or nil on failure.
func EntryJSON(e Entry) []byte {
	b, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return b
}

// QueryOpts holds filters for command log queries.
type QueryOpts struct {
	Command string
	Status  string
	Since   string
	Limit   int
}
