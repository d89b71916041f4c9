// Package telemetry provides a JSON-lines event observer.
//
// An Observer is an explicit capability passed into the orchestrator and the
// conversation loop; there is no package-level state. Each Emit call writes
// one JSON object per line, augmented with the event name and an
// RFC3339Nano timestamp.
package telemetry

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

type Observer struct {
	mu sync.Mutex
	w  io.Writer
}

// New returns an Observer writing JSONL events to w.
func New(w io.Writer) *Observer {
	return &Observer{w: w}
}

// Nop returns an Observer that drops every event.
func Nop() *Observer {
	return &Observer{}
}

// Emit writes a single JSON line for the named event. Callers' field maps
// are never mutated. A nil Observer is safe and drops the event.
func (o *Observer) Emit(name string, fields map[string]any) {
	if o == nil || o.w == nil {
		return
	}

	m := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		m[k] = v
	}
	m["time"] = time.Now().UTC().Format(time.RFC3339Nano)
	m["event"] = name

	b, err := json.Marshal(m)
	if err != nil {
		// Keep the line; unmarshalable field values are replaced, not dropped.
		b, _ = json.Marshal(map[string]any{
			"time":          m["time"],
			"event":         name,
			"marshal_error": err.Error(),
		})
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	_, _ = o.w.Write(append(b, '\n'))
}
