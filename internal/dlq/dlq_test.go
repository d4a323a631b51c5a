package dlq

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"transcode-worker/internal/protocol"
)

func mustWrite(t *testing.T, s *Sink, reason string) {
	t.Helper()
	err := s.Write(&protocol.DeadLetter{
		Reason:     reason,
		PayloadRef: json.RawMessage(`"ref"`),
		TS:         "2026-07-31T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestSink_AppendsNewlineDelimitedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dlq.jsonl")
	s := &Sink{Path: path, MaxBytes: 1 << 20, MaxRotations: 5, TotalMaxBytes: 1 << 20}

	mustWrite(t, s, "PARSE_ERROR")
	mustWrite(t, s, "DECODE_ERROR")

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	var lines int
	for sc.Scan() {
		var dl protocol.DeadLetter
		if err := json.Unmarshal(sc.Bytes(), &dl); err != nil {
			t.Fatalf("line %d not valid json: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}

func TestSink_RotatesAtMaxBytesAndStartsFreshActiveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dlq.jsonl")
	s := &Sink{Path: path, MaxBytes: 10, MaxRotations: 10, TotalMaxBytes: 1 << 20}

	mustWrite(t, s, "PARSE_ERROR")
	mustWrite(t, s, "PARSE_ERROR")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	var rotatedCount int
	var activePresent bool
	for _, e := range entries {
		if e.Name() == "dlq.jsonl" {
			activePresent = true
		} else {
			rotatedCount++
		}
	}
	if !activePresent {
		t.Fatal("expected fresh active file after rotation")
	}
	if rotatedCount < 1 {
		t.Fatal("expected at least one rotated file")
	}
}

func TestSink_EnforcesMaxRotations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dlq.jsonl")
	s := &Sink{Path: path, MaxBytes: 1, MaxRotations: 2, TotalMaxBytes: 1 << 20}

	for i := 0; i < 6; i++ {
		mustWrite(t, s, "PARSE_ERROR")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	var rotatedCount int
	for _, e := range entries {
		if e.Name() != "dlq.jsonl" {
			rotatedCount++
		}
	}
	if rotatedCount > 2 {
		t.Fatalf("expected at most 2 rotated files, got %d", rotatedCount)
	}
}

func TestSink_CreatesParentDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "dlq.jsonl")
	s := &Sink{Path: path, MaxBytes: 1 << 20, MaxRotations: 5, TotalMaxBytes: 1 << 20}

	mustWrite(t, s, "DECODE_ERROR")

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}
