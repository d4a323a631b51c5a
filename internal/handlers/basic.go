package handlers

import (
	"context"
	"encoding/json"
	"time"

	"transcode-worker/internal/protocol"
)

// Echo returns the job payload verbatim as output.
func Echo(_ context.Context, job protocol.Job) Outcome {
	var v any
	if len(job.Payload) > 0 {
		_ = json.Unmarshal(job.Payload, &v)
	}
	return Success(v)
}

type sleepPayload struct {
	MS int64 `json:"ms"`
}

// Sleep honors payload.ms (default 100ms), respecting ctx cancellation so
// a deadline expiring mid-sleep returns promptly instead of overrunning.
func Sleep(ctx context.Context, job protocol.Job) Outcome {
	var p sleepPayload
	p.MS = 100
	if len(job.Payload) > 0 {
		_ = json.Unmarshal(job.Payload, &p)
	}
	select {
	case <-time.After(time.Duration(p.MS) * time.Millisecond):
	case <-ctx.Done():
	}
	return Success(nil)
}

// HumanApproval is a synchronous pass-through modeling an externally
// recorded human decision echoed back unchanged.
func HumanApproval(_ context.Context, job protocol.Job) Outcome {
	var p struct {
		Approved *bool  `json:"approved"`
		Note     string `json:"note"`
	}
	if len(job.Payload) > 0 {
		_ = json.Unmarshal(job.Payload, &p)
	}
	approved := true
	if p.Approved != nil {
		approved = *p.Approved
	}
	return Success(map[string]any{"approved": approved, "note": p.Note})
}
