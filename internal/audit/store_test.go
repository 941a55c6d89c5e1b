package audit

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trafficwatch/trafficwatch/internal/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := NewStore(dbPath, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLogAndQuery(t *testing.T) {
	store := newTestStore(t)

	store.Log(Entry{
		ID:        "cmd-1",
		Timestamp: "2026-02-22T10:00:00Z",
		Command:   protocol.CmdStart,
		Payload:   `{"type":"ddos"}`,
		Status:    StatusSent,
	})
	store.Log(Entry{
		ID:        "cmd-2",
		Timestamp: "2026-02-22T10:00:05Z",
		Command:   protocol.CmdStop,
		Status:    StatusFailed,
		Error:     "not connected",
	})
	store.Flush()

	entries, err := store.Query(QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != "cmd-2" {
		t.Errorf("first entry = %q, want newest cmd-2", entries[0].ID)
	}
	if entries[0].Payload != "" {
		t.Errorf("stop payload = %q, want empty", entries[0].Payload)
	}
	if entries[0].Error != "not connected" {
		t.Errorf("error = %q", entries[0].Error)
	}
	if entries[1].Payload != `{"type":"ddos"}` {
		t.Errorf("start payload = %q", entries[1].Payload)
	}
}

func TestQueryFilters(t *testing.T) {
	store := newTestStore(t)

	for i, cmd := range []protocol.Command{
		protocol.BlockIP("10.0.0.1"),
		protocol.BlockIP("10.0.0.2"),
		protocol.Neutralize(),
	} {
		var err error
		if i == 1 {
			err = errors.New("write: broken pipe")
		}
		store.RecordCommand(cmd, err)
	}
	store.Flush()

	tests := []struct {
		name string
		opts QueryOpts
		want int
	}{
		{"all", QueryOpts{}, 3},
		{"by command", QueryOpts{Command: protocol.CmdBlockIP}, 2},
		{"failed only", QueryOpts{Status: StatusFailed}, 1},
		{"limit", QueryOpts{Limit: 1}, 1},
		{"since future", QueryOpts{Since: "2999-01-01T00:00:00Z"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := store.Query(tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != tt.want {
				t.Errorf("got %d entries, want %d", len(entries), tt.want)
			}
		})
	}
}

func TestRecordCommand(t *testing.T) {
	store := newTestStore(t)

	store.RecordCommand(protocol.ToggleRateLimit(false), nil)
	store.Flush()

	entries, err := store.Query(QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.ID == "" {
		t.Error("entry has no id")
	}
	if e.Command != protocol.CmdToggleRateLimit || e.Status != StatusSent {
		t.Errorf("entry = %+v", e)
	}
	if e.Payload != `{"enabled":false}` {
		t.Errorf("payload = %q", e.Payload)
	}
}

func TestEntryJSON(t *testing.T) {
	e := Entry{ID: "j1", Status: StatusSent}
	b := EntryJSON(e)
	if len(b) == 0 {
		t.Fatal("empty JSON")
	}
	if !strings.Contains(string(b), `"id":"j1"`) {
		t.Errorf("JSON missing id: %s", b)
	}
}

func TestHubBroadcast(t *testing.T) {
	store := newTestStore(t)
	ch := store.Hub.Subscribe()
	defer store.Hub.Unsubscribe(ch)

	store.Log(Entry{ID: "hub1", Timestamp: time.Now().UTC().Format(time.RFC3339), Command: protocol.CmdStop, Status: StatusSent})
	store.Flush()

	select {
	case e := <-ch:
		if e.ID != "hub1" {
			t.Errorf("broadcast entry ID = %q, want hub1", e.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := NewStore(dbPath, logger)
	if err != nil {
		t.Fatal(err)
	}
	store.RecordCommand(protocol.Start(protocol.TrafficNormal), nil)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = NewStore(dbPath, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	entries, err := store.Query(QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Command != protocol.CmdStart {
		t.Errorf("entries after reopen = %+v", entries)
	}
}
