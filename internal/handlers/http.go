package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"transcode-worker/internal/protocol"
)

// HTTPHandlers holds the shared HTTP client used by http_request and
// graphql_request, wrapping go-retryablehttp with a silenced default
// logger.
type HTTPHandlers struct {
	client *http.Client
}

// NewHTTPHandlers builds the shared HTTP client for both job types.
func NewHTTPHandlers() *HTTPHandlers {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0 // these handlers own their own retry/backoff loop
	rc.Logger = nil
	return &HTTPHandlers{client: rc.StandardClient()}
}

type httpRequestPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

const maxRetries = 3

// HTTPRequest implements the http_request job type: required url, default
// GET method, retried up to 3 times on 5xx or transport error with
// 100ms·2^attempt backoff.
func (h *HTTPHandlers) HTTPRequest(ctx context.Context, job protocol.Job) Outcome {
	var p httpRequestPayload
	if len(job.Payload) > 0 {
		_ = json.Unmarshal(job.Payload, &p)
	}
	if p.URL == "" {
		return Failure("MISSING_URL", "Missing 'url' in payload")
	}
	method := p.Method
	if method == "" {
		method = http.MethodGet
	}
	if !isValidMethod(method) {
		return Failure("INVALID_METHOD", fmt.Sprintf("Invalid HTTP method: %s", method))
	}

	var bodyReader func() io.Reader
	if len(p.Body) > 0 {
		raw := []byte(p.Body)
		bodyReader = func() io.Reader { return bytes.NewReader(raw) }
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		var body io.Reader
		if bodyReader != nil {
			body = bodyReader()
		}
		req, err := http.NewRequestWithContext(ctx, method, p.URL, body)
		if err != nil {
			return Failure("HTTP_REQUEST_FAILED", err.Error())
		}
		for k, v := range p.Headers {
			req.Header.Set(k, v)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				sleepBackoff(ctx, attempt)
				continue
			}
			return Failure("HTTP_REQUEST_FAILED", err.Error())
		}

		if resp.StatusCode >= 500 && attempt < maxRetries {
			resp.Body.Close()
			sleepBackoff(ctx, attempt)
			continue
		}

		out, err := buildHTTPOutput(resp)
		if err != nil {
			return Failure("HTTP_REQUEST_FAILED", err.Error())
		}
		return Success(out)
	}
	return Failure("HTTP_REQUEST_FAILED", lastErr.Error())
}

type graphqlRequestPayload struct {
	URL           string            `json:"url"`
	Query         string            `json:"query"`
	Variables     json.RawMessage   `json:"variables"`
	OperationName string            `json:"operationName"`
	Headers       map[string]string `json:"headers"`
}

// GraphQLRequest implements the graphql_request job type: required url
// and query, variables default to {}, same retry policy as http_request.
func (h *HTTPHandlers) GraphQLRequest(ctx context.Context, job protocol.Job) Outcome {
	var p graphqlRequestPayload
	if len(job.Payload) > 0 {
		_ = json.Unmarshal(job.Payload, &p)
	}
	if p.URL == "" {
		return Failure("MISSING_URL", "Missing 'url' in payload")
	}
	if p.Query == "" {
		return Failure("MISSING_QUERY", "Missing 'query' in payload")
	}
	variables := json.RawMessage(p.Variables)
	if len(variables) == 0 {
		variables = json.RawMessage("{}")
	}

	reqBody, err := json.Marshal(struct {
		Query         string          `json:"query"`
		Variables     json.RawMessage `json:"variables"`
		OperationName string          `json:"operationName,omitempty"`
	}{Query: p.Query, Variables: variables, OperationName: p.OperationName})
	if err != nil {
		return Failure("GRAPHQL_REQUEST_FAILED", err.Error())
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(reqBody))
		if err != nil {
			return Failure("GRAPHQL_REQUEST_FAILED", err.Error())
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range p.Headers {
			req.Header.Set(k, v)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				sleepBackoff(ctx, attempt)
				continue
			}
			return Failure("GRAPHQL_REQUEST_FAILED", err.Error())
		}

		if resp.StatusCode >= 500 && attempt < maxRetries {
			resp.Body.Close()
			sleepBackoff(ctx, attempt)
			continue
		}

		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return Failure("GRAPHQL_RESPONSE_PARSE_ERROR", err.Error())
		}
		var parsed any
		if err := json.Unmarshal(data, &parsed); err != nil {
			return Failure("GRAPHQL_RESPONSE_PARSE_ERROR", err.Error())
		}
		return Success(parsed)
	}
	return Failure("GRAPHQL_REQUEST_FAILED", lastErr.Error())
}

func buildHTTPOutput(resp *http.Response) (any, error) {
	defer resp.Body.Close()
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var bodyVal any
	if err := json.Unmarshal(data, &bodyVal); err != nil {
		bodyVal = string(data)
	}
	return map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    bodyVal,
	}, nil
}

func isValidMethod(m string) bool {
	switch strings.ToUpper(m) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func sleepBackoff(ctx context.Context, attempt int) {
	backoff := 100 * time.Millisecond * time.Duration(1<<uint(attempt))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
	}
}
