package trace

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of verifying a trace file.
type VerifyResult struct {
	EventCount int    `json:"event_count"`
	Valid      bool   `json:"valid"`
	BrokenAt   int    `json:"broken_at"` // -1 if no break
	Complete   bool   `json:"complete"`  // last event is run_complete
	ChainHash  string `json:"chain_hash,omitempty"`
	Error      string `json:"error,omitempty"`
}

// VerifyFile verifies the hash chain of a trace file.
func VerifyFile(path string) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f)
}

// Verify checks that every event's prev_hash matches the previous line.
func Verify(r io.Reader) (*VerifyResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB max line

	expected := genesisHash
	count := 0
	var last Event

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		count++

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return broken(count, fmt.Sprintf("event %d: invalid JSON: %v", count, err)), nil
		}
		if evt.PrevHash != expected {
			return broken(count, fmt.Sprintf("event %d: prev_hash mismatch (expected %s, got %s)",
				count, short(expected), short(evt.PrevHash))), nil
		}
		sum := sha256.Sum256(line)
		expected = hex.EncodeToString(sum[:])
		last = evt
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	res := &VerifyResult{EventCount: count, Valid: true, BrokenAt: -1}
	if last.Type == EventRunComplete {
		res.Complete = true
		res.ChainHash, _ = last.Data["chain_hash"].(string)
	}
	return res, nil
}

func broken(at int, msg string) *VerifyResult {
	return &VerifyResult{EventCount: at, BrokenAt: at, Error: msg}
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
