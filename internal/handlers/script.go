package handlers

import (
	"context"
	"encoding/json"

	"github.com/dop251/goja"

	"transcode-worker/internal/protocol"
)

// ScriptPool runs goja evaluations on a small fixed-size pool of
// long-lived goroutines, standing in for the reference implementation's
// spawn_blocking delegation of CPU-bound, non-cooperatively-cancellable
// work off the main dispatch path.
type ScriptPool struct {
	jobs chan scriptJob
}

type scriptJob struct {
	code   string
	args   map[string]any
	result chan scriptResult
}

type scriptResult struct {
	value any
	err   error
}

// NewScriptPool starts size worker goroutines. Each worker builds a fresh
// goja runtime for every script it runs, so no VM state is shared across
// scripts.
func NewScriptPool(size int) *ScriptPool {
	if size <= 0 {
		size = 4
	}
	p := &ScriptPool{jobs: make(chan scriptJob)}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *ScriptPool) worker() {
	for job := range p.jobs {
		vm := goja.New()
		for k, v := range job.args {
			_ = vm.Set(k, v)
		}
		val, err := vm.RunString(job.code)
		if err != nil {
			job.result <- scriptResult{err: err}
			continue
		}
		job.result <- scriptResult{value: val.Export()}
	}
}

// Run submits code/args to the pool and blocks until a worker evaluates
// it or ctx is cancelled.
func (p *ScriptPool) Run(ctx context.Context, code string, args map[string]any) (any, error) {
	result := make(chan scriptResult, 1)
	select {
	case p.jobs <- scriptJob{code: code, args: args, result: result}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-result:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type scriptEvalPayload struct {
	Code string         `json:"code"`
	Args map[string]any `json:"args"`
}

// ScriptEval implements the script_eval job type.
func (p *ScriptPool) ScriptEval(ctx context.Context, job protocol.Job) Outcome {
	var payload scriptEvalPayload
	if len(job.Payload) > 0 {
		_ = json.Unmarshal(job.Payload, &payload)
	}
	if payload.Code == "" {
		return Failure("MISSING_CODE", "Missing 'code' in payload")
	}

	out, err := p.Run(ctx, payload.Code, payload.Args)
	if err != nil {
		return Failure("SCRIPT_ERROR", err.Error())
	}
	return Success(out)
}
