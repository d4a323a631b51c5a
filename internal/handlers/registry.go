// Package handlers implements the job-type dispatch table the pipeline
// calls to turn an Assignment into a Result. Every handler is pure from
// the registry's perspective: it receives a job and returns a five-tuple
// outcome.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"transcode-worker/internal/protocol"
)

// Outcome is the five-tuple a handler produces: status, job type is
// threaded through by the registry, so a handler need only set the rest.
type Outcome struct {
	Status       protocol.Status
	Output       any
	ErrorCode    string
	ErrorMessage string
}

func Success(output any) Outcome {
	return Outcome{Status: protocol.StatusSuccess, Output: output}
}

func Failure(code, message string) Outcome {
	return Outcome{Status: protocol.StatusError, ErrorCode: code, ErrorMessage: message}
}

// Handler executes one job and returns its outcome. ctx carries the
// per-task deadline; a handler should respect ctx.Done() wherever it
// blocks on I/O.
type Handler func(ctx context.Context, job protocol.Job) Outcome

// Registry dispatches assignment.job.type to a registered Handler.
type Registry struct {
	workerID string
	handlers map[string]Handler
}

// NewRegistry builds an empty registry for the given worker identity,
// echoed into every Result as provider_id.
func NewRegistry(workerID string) *Registry {
	return &Registry{workerID: workerID, handlers: make(map[string]Handler)}
}

// Register binds jobType to h, overwriting any prior handler.
func (r *Registry) Register(jobType string, h Handler) {
	r.handlers[jobType] = h
}

// Execute dispatches a to its handler, measuring wall-clock latency and
// populating the Result's correlation fields. It never returns an error:
// an unknown job type or handler failure is reported as a Result with
// status=error, the same path used for any other handler failure.
func (r *Registry) Execute(ctx context.Context, a *protocol.Assignment) *protocol.Result {
	start := time.Now()

	handler, ok := r.handlers[a.Job.Type]
	if !ok {
		return r.errorResult(a, start, a.Job.Type, "UNKNOWN_JOB_TYPE",
			fmt.Sprintf("Unknown job type: %s", a.Job.Type))
	}

	out := handler(ctx, a.Job)
	latency := time.Since(start).Milliseconds()

	res := &protocol.Result{
		Version:      protocol.Version,
		AssignmentID: a.AssignmentID,
		RequestID:    a.RequestID,
		Status:       out.Status,
		ProviderID:   r.workerID,
		JobType:      a.Job.Type,
		LatencyMS:    latency,
		Cost:         0,
		TraceID:      a.TraceID,
		TenantID:     &a.TenantID,
		RunID:        a.RunID,
	}

	if out.Status == protocol.StatusSuccess && out.Output != nil {
		if raw, err := json.Marshal(out.Output); err == nil {
			res.Output = raw
		}
	}
	if out.ErrorCode != "" {
		res.ErrorCode = &out.ErrorCode
	}
	if out.ErrorMessage != "" {
		res.ErrorMessage = &out.ErrorMessage
	}

	return res
}

func (r *Registry) errorResult(a *protocol.Assignment, start time.Time, jobType, code, message string) *protocol.Result {
	return &protocol.Result{
		Version:      protocol.Version,
		AssignmentID: a.AssignmentID,
		RequestID:    a.RequestID,
		Status:       protocol.StatusError,
		ProviderID:   r.workerID,
		JobType:      jobType,
		LatencyMS:    time.Since(start).Milliseconds(),
		Cost:         0,
		TraceID:      a.TraceID,
		TenantID:     &a.TenantID,
		RunID:        a.RunID,
		ErrorCode:    &code,
		ErrorMessage: &message,
	}
}

// TimeoutResult synthesizes the Result the pipeline publishes when a
// task's deadline expires before the handler returns. latencyMS is the
// configured timeout, not the elapsed wall-clock time.
func TimeoutResult(a *protocol.Assignment, workerID string, latencyMS int64) *protocol.Result {
	code := "TIMEOUT"
	message := "Task timed out"
	return &protocol.Result{
		Version:      protocol.Version,
		AssignmentID: a.AssignmentID,
		RequestID:    a.RequestID,
		Status:       protocol.StatusTimeout,
		ProviderID:   workerID,
		JobType:      a.Job.Type,
		LatencyMS:    latencyMS,
		Cost:         0,
		TraceID:      a.TraceID,
		TenantID:     &a.TenantID,
		RunID:        a.RunID,
		ErrorCode:    &code,
		ErrorMessage: &message,
	}
}
