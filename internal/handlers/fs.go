package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"transcode-worker/internal/protocol"
)

// FSHandler implements fs_blob_get/fs_blob_put under a confined base
// directory: absolute paths and parent-directory segments are rejected
// before any filesystem access is attempted.
type FSHandler struct {
	baseDir string
}

// NewFSHandler builds a handler confined to baseDir.
func NewFSHandler(baseDir string) *FSHandler {
	return &FSHandler{baseDir: baseDir}
}

func confinedPath(baseDir, rel string) (string, bool) {
	if rel == "" || filepath.IsAbs(rel) || strings.Contains(rel, "..") {
		return "", false
	}
	return filepath.Join(baseDir, rel), true
}

type fsBlobGetPayload struct {
	Path string `json:"path"`
}

// FSBlobGet implements the fs_blob_get job type.
func (h *FSHandler) FSBlobGet(_ context.Context, job protocol.Job) Outcome {
	var p fsBlobGetPayload
	if len(job.Payload) > 0 {
		_ = json.Unmarshal(job.Payload, &p)
	}
	if p.Path == "" {
		return Failure("INVALID_PATH", "Missing 'path' in payload")
	}
	full, ok := confinedPath(h.baseDir, p.Path)
	if !ok {
		return Failure("INVALID_PATH", "Path traversal or absolute path not allowed")
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return Failure("INVALID_PATH", err.Error())
	}

	return Success(map[string]any{
		"path":  p.Path,
		"bytes": base64.StdEncoding.EncodeToString(content),
		"size":  len(content),
	})
}

type fsBlobPutPayload struct {
	Path    string `json:"path"`
	Bytes   string `json:"bytes"`
	Content string `json:"content"`
}

// FSBlobPut implements the fs_blob_put job type.
func (h *FSHandler) FSBlobPut(_ context.Context, job protocol.Job) Outcome {
	var p fsBlobPutPayload
	if len(job.Payload) > 0 {
		_ = json.Unmarshal(job.Payload, &p)
	}
	if p.Path == "" {
		return Failure("INVALID_PATH", "Missing 'path' in payload")
	}
	full, ok := confinedPath(h.baseDir, p.Path)
	if !ok {
		return Failure("INVALID_PATH", "Path traversal or absolute path not allowed")
	}

	var content []byte
	switch {
	case p.Bytes != "":
		decoded, err := base64.StdEncoding.DecodeString(p.Bytes)
		if err != nil {
			return Failure("INVALID_PATH", err.Error())
		}
		content = decoded
	case p.Content != "":
		content = []byte(p.Content)
	default:
		return Failure("INVALID_PATH", "Missing 'bytes' (base64) or 'content' (string) in payload")
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Failure("INVALID_PATH", err.Error())
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return Failure("INVALID_PATH", err.Error())
	}

	return Success(map[string]any{
		"path": p.Path,
		"size": len(content),
	})
}
