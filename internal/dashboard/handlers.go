package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/trafficwatch/trafficwatch/internal/audit"
	"github.com/trafficwatch/trafficwatch/internal/control"
	"github.com/trafficwatch/trafficwatch/internal/eventlog"
	"github.com/trafficwatch/trafficwatch/internal/protocol"
	"github.com/trafficwatch/trafficwatch/internal/series"
)

type actionResponse struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Snapshot Snapshot `json:"snapshot"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = indexTmpl.Execute(w, indexPage{Snapshot: s.Latest(), Commands: s.commands != nil})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Latest())
}

// --- Actions ---

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	kind, ok := protocol.ParseTrafficKind(r.URL.Query().Get("type"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, actionResponse{
			Error:    fmt.Sprintf("type must be %q or %q", protocol.TrafficNormal, protocol.TrafficDDoS),
			Snapshot: s.Latest(),
		})
		return
	}
	s.submit(w, r, Start(kind))
}

func (s *Server) handleAction(kind ActionKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.submit(w, r, Action{Kind: kind})
	}
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	tick, err := strconv.ParseFloat(r.PathValue("tick"), 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, actionResponse{Error: "invalid tick", Snapshot: s.Latest()})
		return
	}
	s.submit(w, r, Block(series.Tick(tick).Round()))
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, a Action) {
	snap, err := s.ctrl.Submit(r.Context(), a)
	if err != nil {
		if snap.Tick == 0 && snap.Events == nil {
			snap = s.Latest()
		}
		writeJSON(w, actionStatus(err), actionResponse{Error: err.Error(), Snapshot: snap})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{OK: true, Snapshot: snap})
}

func actionStatus(err error) int {
	switch {
	case errors.Is(err, eventlog.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, control.ErrUnknownTrafficKind),
		errors.Is(err, control.ErrNoSourceIP),
		errors.Is(err, ErrUnknownAction):
		return http.StatusBadRequest
	default:
		// Local state already changed; only delivery failed.
		return http.StatusBadGateway
	}
}

// --- SSE handler ---

// startStream prepares w for server-sent events.
func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{}) // no deadline
	return flusher, true
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	// Send the current state first so new clients don't wait for a tick.
	if err := writeEvent(w, s.Latest()); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			return
		case snap := <-ch:
			if err := writeEvent(w, snap); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleCommands streams each audited command as an "event: command".
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	ch := s.commands.Subscribe()
	defer s.commands.Unsubscribe(ch)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			data := audit.EntryJSON(e)
			if data == nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: command\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}
