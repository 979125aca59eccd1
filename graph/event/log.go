// Package event provides concrete graph.EventEmitter implementations: a
// structured-logging emitter, an in-memory buffered emitter for tests and
// dashboards, a no-op emitter, and an OpenTelemetry span emitter.
package event

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/flowforge/graphrun/graph"
)

// LogEmitter writes each ExecutionStep to a writer, either as human-readable
// key=value text or as JSONL.
//
// Example text output:
//
//	[node_start] nodeID=fetch
//	[node_complete] nodeID=fetch status=ok meta={"durationMs":12}
//
// Example JSON output (an empty status is omitted; a zero duration prints as "0s"):
//
//	{"id":"<step id>","kind":"node_start","nodeID":"fetch","duration":"0s"}
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. If writer is nil, it defaults to
// os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

func (l *LogEmitter) Emit(step graph.ExecutionStep) {
	if l.jsonMode {
		l.emitJSON(step)
	} else {
		l.emitText(step)
	}
}

func (l *LogEmitter) emitJSON(step graph.ExecutionStep) {
	data, err := json.Marshal(struct {
		ID       string         `json:"id"`
		Kind     string         `json:"kind"`
		NodeID   string         `json:"nodeID"`
		Status   string         `json:"status,omitempty"`
		Duration string         `json:"duration,omitempty"`
		Meta     map[string]any `json:"meta,omitempty"`
	}{
		ID:       step.ID,
		Kind:     string(step.Kind),
		NodeID:   step.NodeID,
		Status:   step.Status,
		Duration: step.Duration.String(),
		Meta:     step.Metadata,
	})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal step: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(step graph.ExecutionStep) {
	_, _ = fmt.Fprintf(l.writer, "[%s] nodeID=%s", step.Kind, step.NodeID)
	if step.Status != "" {
		_, _ = fmt.Fprintf(l.writer, " status=%s", step.Status)
	}
	if step.Duration > 0 {
		_, _ = fmt.Fprintf(l.writer, " duration=%s", step.Duration)
	}
	if len(step.Metadata) > 0 {
		if metaJSON, err := json.Marshal(step.Metadata); err == nil {
			_, _ = fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

// Flush is a no-op: LogEmitter writes directly through to its writer with no
// internal buffering. Wrap the writer in a bufio.Writer and flush that
// directly if buffering is needed.
func (l *LogEmitter) Flush() error {
	return nil
}
