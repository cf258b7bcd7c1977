// Package trace writes the append-only JSONL record of a blueprint run.
// Every event carries the SHA-256 of the previous line so a trace file can
// be checked for truncation or tampering with Verify.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EventType enumerates the trace event types.
type EventType string

const (
	EventRunStart       EventType = "run_start"
	EventRunComplete    EventType = "run_complete"
	EventStepStart      EventType = "step_start"
	EventStepComplete   EventType = "step_complete"
	EventOutputCaptured EventType = "output_captured"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash"`
	Data      map[string]any `json:"data,omitempty"`
}

var genesisHash = strings.Repeat("0", 64)

// Writer writes trace events to an append-only JSONL stream.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	runID    string
	prevHash string
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{w: w, runID: runID, prevHash: genesisHash}
}

// NewFileWriter creates a trace writer on a new JSONL file, creating parent
// directories as needed.
func NewFileWriter(path, runID string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	return tw, nil
}

// RunID returns the run this writer records.
func (tw *Writer) RunID() string { return tw.runID }

// Close closes the underlying file, if the writer owns one.
func (tw *Writer) Close() error {
	if tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	line, err := json.Marshal(Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     tw.runID,
		PrevHash:  tw.prevHash,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	sum := sha256.Sum256(line)
	tw.prevHash = hex.EncodeToString(sum[:])
	_, err = tw.w.Write(append(line, '\n'))
	return err
}

// EmitRunStart emits a run_start event.
func (tw *Writer) EmitRunStart(blueprint string, steps int, variables []string) error {
	return tw.Emit(EventRunStart, map[string]any{
		"blueprint": blueprint,
		"steps":     steps,
		"variables": variables,
	})
}

// EmitStepStart emits a step_start event.
func (tw *Writer) EmitStepStart(stepID, stepType string, index int) error {
	return tw.Emit(EventStepStart, map[string]any{
		"step_id": stepID,
		"type":    stepType,
		"index":   index,
	})
}

// EmitStepComplete emits a step_complete event.
func (tw *Writer) EmitStepComplete(stepID, status string, duration time.Duration, errMsg string) error {
	data := map[string]any{
		"step_id":  stepID,
		"status":   status,
		"duration": duration.String(),
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	return tw.Emit(EventStepComplete, data)
}

// EmitOutputCaptured records that a step added a variable to the bag.
// Only the name is recorded; values may be sensitive.
func (tw *Writer) EmitOutputCaptured(stepID, name string) error {
	return tw.Emit(EventOutputCaptured, map[string]any{
		"step_id":  stepID,
		"variable": name,
	})
}

// EmitRunComplete emits the closing run_complete event. chain_hash is the
// hash of the last event before it.
func (tw *Writer) EmitRunComplete(success bool, duration time.Duration, errMsg string) error {
	tw.mu.Lock()
	chain := tw.prevHash
	tw.mu.Unlock()

	data := map[string]any{
		"success":    success,
		"duration":   duration.String(),
		"chain_hash": chain,
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	return tw.Emit(EventRunComplete, data)
}
