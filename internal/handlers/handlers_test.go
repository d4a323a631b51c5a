package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"transcode-worker/internal/protocol"
)

func TestEcho_ReturnsPayloadVerbatim(t *testing.T) {
	job := protocol.Job{Type: "echo", Payload: json.RawMessage(`{"hello":"world"}`)}
	out := Echo(context.Background(), job)
	if out.Status != protocol.StatusSuccess {
		t.Fatalf("status = %v", out.Status)
	}
	b, _ := json.Marshal(out.Output)
	if string(b) != `{"hello":"world"}` {
		t.Errorf("output = %s", b)
	}
}

func TestSleep_HonorsMS(t *testing.T) {
	job := protocol.Job{Type: "sleep", Payload: json.RawMessage(`{"ms":10}`)}
	start := time.Now()
	out := Sleep(context.Background(), job)
	if out.Status != protocol.StatusSuccess {
		t.Fatalf("status = %v", out.Status)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("expected sleep to take at least 10ms")
	}
}

func TestSleep_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	job := protocol.Job{Type: "sleep", Payload: json.RawMessage(`{"ms":5000}`)}
	start := time.Now()
	Sleep(ctx, job)
	if time.Since(start) > 500*time.Millisecond {
		t.Error("expected cancellation to cut sleep short")
	}
}

func TestHumanApproval_DefaultsToApproved(t *testing.T) {
	job := protocol.Job{Type: "human_approval", Payload: json.RawMessage(`{}`)}
	out := HumanApproval(context.Background(), job)
	m, ok := out.Output.(map[string]any)
	if !ok || m["approved"] != true {
		t.Errorf("expected approved=true default, got %#v", out.Output)
	}
}

func TestFSHandler_RejectsAbsolutePath(t *testing.T) {
	h := NewFSHandler(t.TempDir())
	job := protocol.Job{Type: "fs_blob_get", Payload: json.RawMessage(`{"path":"/etc/passwd"}`)}
	out := h.FSBlobGet(context.Background(), job)
	if out.Status != protocol.StatusError || out.ErrorCode != "INVALID_PATH" {
		t.Fatalf("expected INVALID_PATH, got status=%v code=%v", out.Status, out.ErrorCode)
	}
}

func TestFSHandler_RejectsParentTraversal(t *testing.T) {
	h := NewFSHandler(t.TempDir())
	job := protocol.Job{Type: "fs_blob_get", Payload: json.RawMessage(`{"path":"../secret"}`)}
	out := h.FSBlobGet(context.Background(), job)
	if out.Status != protocol.StatusError || out.ErrorCode != "INVALID_PATH" {
		t.Fatalf("expected INVALID_PATH, got status=%v code=%v", out.Status, out.ErrorCode)
	}
}

func TestFSHandler_PutThenGetRoundTrips(t *testing.T) {
	h := NewFSHandler(t.TempDir())
	putJob := protocol.Job{Type: "fs_blob_put", Payload: json.RawMessage(`{"path":"a/b.txt","content":"hi"}`)}
	putOut := h.FSBlobPut(context.Background(), putJob)
	if putOut.Status != protocol.StatusSuccess {
		t.Fatalf("put failed: %v %v", putOut.ErrorCode, putOut.ErrorMessage)
	}

	getJob := protocol.Job{Type: "fs_blob_get", Payload: json.RawMessage(`{"path":"a/b.txt"}`)}
	getOut := h.FSBlobGet(context.Background(), getJob)
	if getOut.Status != protocol.StatusSuccess {
		t.Fatalf("get failed: %v %v", getOut.ErrorCode, getOut.ErrorMessage)
	}
	m := getOut.Output.(map[string]any)
	if m["size"] != 2 {
		t.Errorf("size = %v, want 2", m["size"])
	}
}

func TestQueryEval_EvaluatesExpression(t *testing.T) {
	job := protocol.Job{Type: "query_eval", Payload: json.RawMessage(`{"expression":".foo","data":{"foo":42}}`)}
	out := QueryEval(context.Background(), job)
	if out.Status != protocol.StatusSuccess {
		t.Fatalf("status = %v, code=%v msg=%v", out.Status, out.ErrorCode, out.ErrorMessage)
	}
	if v, ok := out.Output.(float64); !ok || v != 42 {
		t.Errorf("output = %#v, want 42", out.Output)
	}
}

func TestQueryEval_CompileError(t *testing.T) {
	job := protocol.Job{Type: "query_eval", Payload: json.RawMessage(`{"expression":"(((","data":{}}`)}
	out := QueryEval(context.Background(), job)
	if out.Status != protocol.StatusError || out.ErrorCode != "JMESPATH_COMPILE_ERROR" {
		t.Fatalf("expected JMESPATH_COMPILE_ERROR, got %v %v", out.Status, out.ErrorCode)
	}
}

func TestScriptPool_EvaluatesJavaScript(t *testing.T) {
	pool := NewScriptPool(2)
	job := protocol.Job{Type: "script_eval", Payload: json.RawMessage(`{"code":"1 + x","args":{"x":41}}`)}
	out := pool.ScriptEval(context.Background(), job)
	if out.Status != protocol.StatusSuccess {
		t.Fatalf("status = %v, msg = %v", out.Status, out.ErrorMessage)
	}
	if out.Output != int64(42) && out.Output != float64(42) {
		t.Errorf("output = %#v, want 42", out.Output)
	}
}

func TestScriptPool_ReportsScriptError(t *testing.T) {
	pool := NewScriptPool(1)
	job := protocol.Job{Type: "script_eval", Payload: json.RawMessage(`{"code":"not valid js ((("}`)}
	out := pool.ScriptEval(context.Background(), job)
	if out.Status != protocol.StatusError || out.ErrorCode != "SCRIPT_ERROR" {
		t.Fatalf("expected SCRIPT_ERROR, got %v %v", out.Status, out.ErrorCode)
	}
}

func TestRegistry_UnknownJobType(t *testing.T) {
	r := NewRegistry("worker-1")
	a := &protocol.Assignment{
		AssignmentID: "a1", RequestID: "r1", TenantID: "t1",
		Job: protocol.Job{Type: "quantum_compute"},
	}
	res := r.Execute(context.Background(), a)
	if res.Status != protocol.StatusError || res.ErrorCode == nil || *res.ErrorCode != "UNKNOWN_JOB_TYPE" {
		t.Fatalf("expected UNKNOWN_JOB_TYPE, got %+v", res)
	}
}

func TestRegistry_EchoSuccess(t *testing.T) {
	r := NewRegistry("worker-1")
	r.Register("echo", Echo)
	a := &protocol.Assignment{
		AssignmentID: "a1", RequestID: "r1", TenantID: "t1",
		Job: protocol.Job{Type: "echo", Payload: json.RawMessage(`{"hello":"world"}`)},
	}
	res := r.Execute(context.Background(), a)
	if res.Status != protocol.StatusSuccess {
		t.Fatalf("status = %v", res.Status)
	}
	if res.ProviderID != "worker-1" {
		t.Errorf("provider_id = %q", res.ProviderID)
	}
	if string(res.Output) != `{"hello":"world"}` {
		t.Errorf("output = %s", res.Output)
	}
}
