package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestEmitter_AppendsJSONL(t *testing.T) {
	dir := t.TempDir()

	e, err := NewEmitter(dir, true)
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}

	e.Emit(MemoryStored, "trace-1", map[string]any{"node_id": 42})
	e.Emit(QueryPerformed, "", map[string]any{"query": "x"})
	if err := e.Flush(); err != nil {
		t.Fatal(err)
	}
	e.Close()

	path := filepath.Join(dir, "events", "memory", "events.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("event log missing at fixed path: %v", err)
	}
	defer f.Close()

	var lines []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		lines = append(lines, ev)
	}

	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	first := lines[0]
	if first.Event != MemoryStored || first.TraceID != "trace-1" {
		t.Errorf("first event = %+v", first)
	}
	if first.ComponentID != ComponentID {
		t.Errorf("component_id = %q, want %q", first.ComponentID, ComponentID)
	}
	if first.TS.IsZero() {
		t.Error("timestamp not set")
	}
	if lines[1].TraceID == "" {
		t.Error("missing trace id was not auto-generated")
	}
}

func TestEmitter_SubscribersRunSynchronously(t *testing.T) {
	e, err := NewEmitter("", true)
	if err != nil {
		t.Fatal(err)
	}

	var got []Event
	e.Subscribe(func(ev Event) { got = append(got, ev) })

	e.Emit(SessionCreated, "t", nil)
	// No synchronization needed: Emit returns only after subscribers ran.
	if len(got) != 1 || got[0].Event != SessionCreated {
		t.Fatalf("subscriber saw %+v", got)
	}
}

func TestEmitter_DisabledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEmitter(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	e.Emit(MemoryStored, "t", nil)
	e.Close()

	if _, err := os.Stat(filepath.Join(dir, "events")); !os.IsNotExist(err) {
		t.Error("disabled emitter created the events directory")
	}
}

func TestEmitter_ClosedDropsEvents(t *testing.T) {
	e, err := NewEmitter("", true)
	if err != nil {
		t.Fatal(err)
	}

	fired := false
	e.Subscribe(func(Event) { fired = true })
	e.Close()
	e.Emit(MemoryStored, "t", nil)

	if fired {
		t.Error("closed emitter still delivered events")
	}
}
