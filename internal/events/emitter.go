// Package events provides the append-only JSONL audit log for the memory
// service. One JSON object per line, written synchronously under the
// emitter's mutex; consumers tail the file or subscribe in-process.
package events

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anthropics/memory-go/pkg/types"
	"github.com/google/uuid"
)

// ComponentID identifies this service in the shared event stream.
const ComponentID = "memory_service"

// Event names emitted by the service.
const (
	MemoryStored   = "memory_stored"
	MemoryDeleted  = "memory_deleted"
	SessionCreated = "session_created"
	QueryPerformed = "query_performed"
)

// Event is one line of the JSONL log.
type Event struct {
	TS          time.Time      `json:"ts"`
	ComponentID string         `json:"component_id"`
	Level       string         `json:"level"`
	Event       string         `json:"event"`
	TraceID     string         `json:"trace_id"`
	Data        map[string]any `json:"data,omitempty"`
}

// Subscriber receives every emitted event, synchronously, in emit order.
type Subscriber func(Event)

// Emitter appends events to the log file and fans them out to in-process
// subscribers. Emit is fully synchronous: when it returns, the line has
// been handed to the OS and every subscriber has run.
type Emitter struct {
	mu          sync.Mutex
	subscribers []Subscriber
	file        *os.File
	enabled     bool
}

// NewEmitter opens (creating if necessary) the append-only event log at
// dataDir/events/memory/events.jsonl. An empty dataDir yields an emitter
// that still notifies subscribers but writes nothing; enabled=false yields
// one that neither notifies subscribers nor writes.
func NewEmitter(dataDir string, enabled bool) (*Emitter, error) {
	e := &Emitter{enabled: enabled}

	if dataDir == "" || !enabled {
		return e, nil
	}

	dir := filepath.Join(dataDir, "events", "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.WrapError("events.NewEmitter", types.ErrStorageIO, err)
	}

	file, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, types.WrapError("events.NewEmitter", types.ErrStorageIO, err)
	}
	e.file = file
	return e, nil
}

// Subscribe registers sub to receive all future events.
func (e *Emitter) Subscribe(sub Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, sub)
}

// Emit records one event. A missing trace id gets a fresh one so every
// logged line is correlatable.
func (e *Emitter) Emit(name, traceID string, data map[string]any) {
	e.EmitLevel("info", name, traceID, data)
}

// EmitLevel records one event at an explicit severity level.
func (e *Emitter) EmitLevel(level, name, traceID string, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled {
		return
	}
	if traceID == "" {
		traceID = uuid.New().String()
	}

	ev := Event{
		TS:          time.Now(),
		ComponentID: ComponentID,
		Level:       level,
		Event:       name,
		TraceID:     traceID,
		Data:        data,
	}

	for _, sub := range e.subscribers {
		sub(ev)
	}

	if e.file == nil {
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	e.file.Write(line)
	e.file.Write([]byte("\n"))
}

// Flush forces buffered log data to disk.
func (e *Emitter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return nil
	}
	return e.file.Sync()
}

// Close stops emission and closes the log file.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = false
	if e.file == nil {
		return nil
	}
	return e.file.Close()
}

// NewTraceID returns a fresh trace id for request correlation.
func NewTraceID() string {
	return uuid.New().String()
}
