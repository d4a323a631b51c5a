package handlers

import (
	"context"
	"encoding/json"

	"github.com/itchyny/gojq"

	"transcode-worker/internal/protocol"
)

type queryEvalPayload struct {
	Expression string          `json:"expression"`
	Data       json.RawMessage `json:"data"`
}

// QueryEval evaluates payload.expression (a jq query, standing in for the
// JMESPath-labeled job type) against payload.data.
func QueryEval(_ context.Context, job protocol.Job) Outcome {
	var p queryEvalPayload
	if len(job.Payload) > 0 {
		_ = json.Unmarshal(job.Payload, &p)
	}
	if p.Expression == "" {
		return Failure("JMESPATH_COMPILE_ERROR", "Missing 'expression' in payload")
	}

	query, err := gojq.Parse(p.Expression)
	if err != nil {
		return Failure("JMESPATH_COMPILE_ERROR", err.Error())
	}

	var data any
	if len(p.Data) > 0 {
		if err := json.Unmarshal(p.Data, &data); err != nil {
			return Failure("JMESPATH_RUNTIME_ERROR", err.Error())
		}
	}

	iter := query.Run(data)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return Failure("JMESPATH_RUNTIME_ERROR", err.Error())
		}
		results = append(results, v)
	}

	if len(results) == 1 {
		return Success(results[0])
	}
	return Success(results)
}
