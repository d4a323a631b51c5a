// Package protocol defines the wire types exchanged over the bus: the
// versioned envelope, assignments, results, heartbeats, and dead-letters.
package protocol

import (
	"encoding/json"
	"fmt"
)

// EnvelopeKind tags the payload carried inside an Envelope.
type EnvelopeKind string

const (
	KindExecAssign EnvelopeKind = "exec_assign"
	KindExecResult EnvelopeKind = "exec_result"
	KindHeartbeat  EnvelopeKind = "heartbeat"
	KindDeadLetter EnvelopeKind = "dead_letter"
)

// Version is the only envelope version this worker speaks.
const Version = "v1"

// Envelope is the outer versioned wrapper around every message on the bus.
type Envelope struct {
	Version string          `json:"version"`
	Kind    EnvelopeKind    `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

// WrapAssignment wraps an assignment in an exec_assign envelope.
func WrapAssignment(a *Assignment) (*Envelope, error) { return wrap(KindExecAssign, a) }

// WrapResult wraps a result in an exec_result envelope.
func WrapResult(r *Result) (*Envelope, error) { return wrap(KindExecResult, r) }

// WrapHeartbeat wraps a heartbeat in a heartbeat envelope.
func WrapHeartbeat(h *Heartbeat) (*Envelope, error) { return wrap(KindHeartbeat, h) }

// WrapDeadLetter wraps a dead-letter in a dead_letter envelope.
func WrapDeadLetter(d *DeadLetter) (*Envelope, error) { return wrap(KindDeadLetter, d) }

func wrap(kind EnvelopeKind, v any) (*Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s payload: %w", kind, err)
	}
	return &Envelope{Version: Version, Kind: kind, Data: data}, nil
}

// Encode serializes the envelope to its wire form.
func Encode(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Job is the opaque work description inside an Assignment.
type Job struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Assignment is the unit of work delivered by the dispatcher.
type Assignment struct {
	Version      string  `json:"version"`
	AssignmentID string  `json:"assignment_id"`
	RequestID    string  `json:"request_id"`
	TenantID     string  `json:"tenant_id"`
	Job          Job     `json:"job"`
	TraceID      *string `json:"trace_id,omitempty"`
	RunID        *string `json:"run_id,omitempty"`
	FlowID       *string `json:"flow_id,omitempty"`
	StepID       *string `json:"step_id,omitempty"`
}

// Status is the terminal outcome of a handler invocation.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Result is the handler outcome published back to the bus.
type Result struct {
	Version      string          `json:"version"`
	AssignmentID string          `json:"assignment_id"`
	RequestID    string          `json:"request_id"`
	Status       Status          `json:"status"`
	ProviderID   string          `json:"provider_id"`
	JobType      string          `json:"job_type"`
	Output       json.RawMessage `json:"output,omitempty"`
	LatencyMS    int64           `json:"latency_ms"`
	Cost         float64         `json:"cost"`
	TraceID      *string         `json:"trace_id,omitempty"`
	TenantID     *string         `json:"tenant_id,omitempty"`
	RunID        *string         `json:"run_id,omitempty"`
	ErrorCode    *string         `json:"error_code,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// Heartbeat reports liveness and load for one worker.
type Heartbeat struct {
	WorkerID  string  `json:"worker_id"`
	Timestamp string  `json:"timestamp"`
	Status    string  `json:"status"`
	Load      float64 `json:"load"`
	// Telemetry is supplemental system health, not part of the wire
	// contract's required fields; consumers that don't know it ignore it.
	Telemetry *Telemetry `json:"telemetry,omitempty"`
}

// Telemetry carries optional hardware stats gathered via gopsutil.
type Telemetry struct {
	CPUPercent float64 `json:"cpu_percent"`
	RAMPercent float64 `json:"ram_percent"`
}

// DeadLetter describes an unprocessable message or publish failure.
type DeadLetter struct {
	Reason     string          `json:"reason"`
	PayloadRef json.RawMessage `json:"payload_ref"`
	TS         string          `json:"ts"`
}

// TaskState is the logging-only lifecycle label for an assignment.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskTimeout   TaskState = "timeout"
	TaskCancelled TaskState = "cancelled"
)

// MapStatusToTaskState is the total function from a terminal Result.Status
// to the TaskState logged for it.
func MapStatusToTaskState(s Status) TaskState {
	switch s {
	case StatusSuccess:
		return TaskCompleted
	case StatusError:
		return TaskFailed
	case StatusTimeout:
		return TaskTimeout
	case StatusCancelled:
		return TaskCancelled
	default:
		return TaskFailed
	}
}
