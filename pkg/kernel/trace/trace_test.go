package trace

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriter_Emit(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "test-run-1")

	if err := tw.EmitStepStart("s1", "NAVIGATE", 0); err != nil {
		t.Fatalf("Emit error: %v", err)
	}

	var evt Event
	if err := json.Unmarshal(buf.Bytes(), &evt); err != nil {
		t.Fatalf("JSON unmarshal: %v (raw: %s)", err, buf.String())
	}
	if evt.Type != EventStepStart {
		t.Errorf("type = %q, want step_start", evt.Type)
	}
	if evt.RunID != "test-run-1" {
		t.Errorf("run_id = %q", evt.RunID)
	}
	if evt.Data["step_id"] != "s1" {
		t.Errorf("step_id = %v", evt.Data["step_id"])
	}
	if evt.PrevHash != genesisHash {
		t.Errorf("prev_hash = %q, want genesis", evt.PrevHash)
	}
}

func TestWriter_EmitStepComplete_WithError(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	if err := tw.EmitStepComplete("s1", "failed", 50*time.Millisecond, "element not found"); err != nil {
		t.Fatal(err)
	}

	var evt Event
	json.Unmarshal(buf.Bytes(), &evt)
	if evt.Data["status"] != "failed" {
		t.Errorf("status = %v", evt.Data["status"])
	}
	if evt.Data["error"] != "element not found" {
		t.Errorf("error = %v", evt.Data["error"])
	}
}

func writeRun(tw *Writer) {
	tw.EmitRunStart("portal-login", 2, []string{"portal"})
	tw.EmitStepStart("a", "NAVIGATE", 0)
	tw.EmitStepComplete("a", "completed", time.Millisecond, "")
	tw.EmitStepStart("b", "EXTRACT", 1)
	tw.EmitOutputCaptured("b", "code")
	tw.EmitStepComplete("b", "completed", time.Millisecond, "")
	tw.EmitRunComplete(true, 2*time.Millisecond, "")
}

func TestVerify_ValidChain(t *testing.T) {
	var buf bytes.Buffer
	writeRun(NewWriter(&buf, "run-1"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 7 {
		t.Fatalf("lines = %d, want 7", len(lines))
	}

	res, err := Verify(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || !res.Complete || res.BrokenAt != -1 {
		t.Errorf("result = %+v", res)
	}
	if res.EventCount != 7 || len(res.ChainHash) != 64 {
		t.Errorf("count = %d, chain = %q", res.EventCount, res.ChainHash)
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	var buf bytes.Buffer
	writeRun(NewWriter(&buf, "run-1"))

	tampered := strings.Replace(buf.String(), `"step_id":"a"`, `"step_id":"z"`, 1)
	res, err := Verify(strings.NewReader(tampered))
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("tampered trace reported valid")
	}
	if res.BrokenAt != 3 {
		t.Errorf("broken at = %d, want 3", res.BrokenAt)
	}
}

func TestVerify_Truncated(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitRunStart("x", 1, nil)
	tw.EmitStepStart("a", "WAIT", 0)

	res, err := Verify(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Complete {
		t.Errorf("result = %+v, want valid but incomplete", res)
	}
}

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "r1", "trace.jsonl")
	tw, err := NewFileWriter(path, "r1")
	if err != nil {
		t.Fatal(err)
	}
	writeRun(tw)
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	res, err := VerifyFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.EventCount != 7 {
		t.Errorf("result = %+v", res)
	}
}
