// Package dlq implements the dead-letter queue's on-disk sink: a
// single-writer, append-only JSON-lines file with size-based rotation,
// a rotation-count cap, a total-bytes cap, and an optional age cap.
package dlq

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"transcode-worker/internal/protocol"
)

// Sink writes DeadLetter records to a rotating file. It is not
// thread-safe; callers serialize writes themselves.
type Sink struct {
	Path          string
	MaxBytes      int64
	MaxRotations  int
	TotalMaxBytes int64
	MaxAgeDays    int // 0 means unset
}

// Write appends one DeadLetter as a single JSON line, rotating the active
// file first if it has reached MaxBytes. Errors are returned to the
// caller, who is expected to log and swallow them per the pipeline's
// failure-isolation contract.
func (s *Sink) Write(dl *protocol.DeadLetter) error {
	if dir := filepath.Dir(s.Path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	if err := s.rotateIfNeeded(); err != nil {
		return err
	}
	line, err := json.Marshal(dl)
	if err != nil {
		line = []byte("{}")
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

func (s *Sink) rotateIfNeeded() error {
	info, err := os.Stat(s.Path)
	if err != nil {
		return nil // active file absent: nothing to rotate
	}
	if info.Size() < s.MaxBytes {
		return nil
	}
	stamp := time.Now().UTC().Format("20060102-150405")
	rotated := fmt.Sprintf("%s.%s", s.Path, stamp)
	if err := os.Rename(s.Path, rotated); err != nil {
		return err
	}
	return s.enforceLimits()
}

type rotatedFile struct {
	path string
	size int64
}

func (s *Sink) enforceLimits() error {
	dir := filepath.Dir(s.Path)
	if dir == "" {
		dir = "."
	}
	base := filepath.Base(s.Path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var rotated []rotatedFile
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, base+".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rotated = append(rotated, rotatedFile{path: filepath.Join(dir, name), size: info.Size()})
	}
	sort.Slice(rotated, func(i, j int) bool { return rotated[i].path < rotated[j].path })

	if s.MaxAgeDays > 0 {
		now := time.Now().UTC()
		kept := rotated[:0]
		for _, rf := range rotated {
			info, err := os.Stat(rf.path)
			if err != nil {
				continue
			}
			age := now.Sub(info.ModTime().UTC())
			if age > time.Duration(s.MaxAgeDays)*24*time.Hour {
				_ = os.Remove(rf.path)
				continue
			}
			kept = append(kept, rf)
		}
		rotated = kept
	}

	for s.MaxRotations > 0 && len(rotated) > s.MaxRotations {
		oldest := rotated[0]
		_ = os.Remove(oldest.path)
		rotated = rotated[1:]
	}

	var total int64
	for _, rf := range rotated {
		total += rf.size
	}
	for s.TotalMaxBytes > 0 && total > s.TotalMaxBytes && len(rotated) > 0 {
		oldest := rotated[0]
		_ = os.Remove(oldest.path)
		total -= oldest.size
		rotated = rotated[1:]
	}

	return nil
}
