// Package pipeline implements the worker's main consumer loop: receive,
// decode, dedup, acquire a concurrency permit, execute under a deadline,
// and publish a result or dead-letter.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"

	"transcode-worker/internal/bus"
	"transcode-worker/internal/config"
	"transcode-worker/internal/dedup"
	"transcode-worker/internal/dlq"
	"transcode-worker/internal/handlers"
	"transcode-worker/internal/logging"
	"transcode-worker/internal/metrics"
	"transcode-worker/internal/protocol"
)

// busConn is the slice of *bus.Conn the pipeline depends on, narrowed to
// an interface so tests can exercise publish/dead-letter logic against a
// fake instead of a live NATS server.
type busConn interface {
	Publish(subject string, data []byte) error
	SubscribeSync(subject string) (*nats.Subscription, error)
}

// Pipeline owns the subscription loop, the concurrency semaphore, the
// dedup window, and the result/dead-letter publish paths.
type Pipeline struct {
	cfg      *config.Config
	conn     busConn
	registry *handlers.Registry
	dedup    *dedup.Window
	dlqSink  *dlq.Sink
	metrics  *metrics.Registry
	log      *logging.Logger

	sem     chan struct{}
	breaker *gobreaker.CircuitBreaker

	stopCh chan struct{}
}

// SetConn binds the bus connection used for subscribe/publish. Exists so
// the supervisor can build the pipeline (and the health server that
// observes it) before a bus connection exists.
func (p *Pipeline) SetConn(conn *bus.Conn) {
	p.conn = conn
}

// New builds a Pipeline. cfg.WorkerID is used as provider_id on the
// timeout Results the pipeline synthesizes. conn may be nil; call SetConn
// once a bus connection is established.
func New(cfg *config.Config, conn *bus.Conn, registry *handlers.Registry, dedupWindow *dedup.Window, dlqSink *dlq.Sink, metricsReg *metrics.Registry, log *logging.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		conn:     conn,
		registry: registry,
		dedup:    dedupWindow,
		dlqSink:  dlqSink,
		metrics:  metricsReg,
		log:      log,
		sem:      make(chan struct{}, cfg.MaxConcurrency),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "result-publish",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		stopCh: make(chan struct{}),
	}
}

// Run opens a pull-style subscription on the assign subject and drives
// the receive loop until Stop is called or ctx is cancelled. On a
// transient subscription loss (NextMsgWithContext erroring for a reason
// other than shutdown) it sleeps 1s and resubscribes, per the step-order
// contract for message receipt.
func (p *Pipeline) Run(ctx context.Context, subject string) error {
	sub, err := p.conn.SubscribeSync(subject)
	if err != nil {
		return fmt.Errorf("pipeline: subscribe: %w", err)
	}
	p.metrics.SubsActive.Set(1)
	defer func() {
		_ = sub.Unsubscribe()
		p.metrics.SubsActive.Set(0)
	}()

	for {
		select {
		case <-p.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			select {
			case <-time.After(time.Second):
			case <-p.stopCh:
				return nil
			}
			newSub, resubErr := p.conn.SubscribeSync(subject)
			if resubErr != nil {
				p.log.Error("pipeline: resubscribe failed", logging.Err(resubErr))
				continue
			}
			_ = sub.Unsubscribe()
			sub = newSub
			continue
		}

		p.handleMessage(msg)
	}
}

func (p *Pipeline) handleMessage(msg *nats.Msg) {
	a, outcome, err := protocol.DecodeAssignment(msg.Data)
	switch outcome {
	case protocol.DecodeDiscard:
		p.log.Info("pipeline: discarding unexpected envelope kind", logging.Err(err))
		return
	case protocol.DecodeError:
		p.log.Info("pipeline: envelope data decode failed", logging.Err(err))
		p.deadLetter("DECODE_ERROR", msg.Subject, len(msg.Data))
		return
	case protocol.DecodeParseError:
		p.log.Info("pipeline: payload parse failed", logging.Err(err))
		p.deadLetter("PARSE_ERROR", msg.Subject, len(msg.Data))
		return
	}

	if p.dedup.Contains(a.AssignmentID) {
		p.log.Info("Duplicate assignment detected", logging.String("assignment_id", a.AssignmentID))
		return
	}
	p.dedup.Insert(a.AssignmentID)
	p.metrics.TaskReceived.Inc()

	p.log.Info("task queued", logging.String("assignment_id", a.AssignmentID))

	select {
	case p.sem <- struct{}{}:
	default:
		p.log.Info("pipeline: backpressure, waiting for a free permit", logging.String("assignment_id", a.AssignmentID))
		select {
		case p.sem <- struct{}{}:
		case <-p.stopCh:
			return
		}
	}
	p.metrics.TasksInProgress.Set(float64(len(p.sem)))

	go p.runTask(a)
}

// AvailablePermits reports how many concurrency permits are currently
// unused.
func (p *Pipeline) AvailablePermits() int {
	return cap(p.sem) - len(p.sem)
}

// InUse reports how many concurrency permits are currently held,
// satisfying health.Status and feeding the heartbeat's load computation.
func (p *Pipeline) InUse() int {
	return len(p.sem)
}

// MaxConcurrency reports the configured concurrency ceiling.
func (p *Pipeline) MaxConcurrency() int {
	return cap(p.sem)
}

// Stop signals the receive loop to stop accepting new messages; it
// unsubscribes at the next iteration boundary.
func (p *Pipeline) Stop() {
	close(p.stopCh)
}

// Drain blocks until every outstanding permit has been returned,
// modeling "wait for in-flight tasks" from the shutdown sequence.
func (p *Pipeline) Drain() {
	for i := 0; i < cap(p.sem); i++ {
		p.sem <- struct{}{}
	}
}

func (p *Pipeline) deadLetter(reason, subject string, length int) {
	dl := &protocol.DeadLetter{
		Reason:     reason,
		PayloadRef: mustJSON(map[string]any{"subject": subject, "len": length}),
		TS:         time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.dlqSink.Write(dl); err != nil {
		p.log.Error("dlq: file write failed", logging.Err(err))
	}
	env, err := protocol.WrapDeadLetter(dl)
	if err == nil {
		if data, err := protocol.Encode(env); err == nil {
			if err := p.conn.Publish(p.cfg.DLQSubject, data); err != nil {
				p.log.Error("dlq: bus publish failed", logging.Err(err))
			}
		}
	}
	p.metrics.DLQPublishedTotal.Inc()
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func (p *Pipeline) runTask(a *protocol.Assignment) {
	defer func() {
		<-p.sem
		p.metrics.TasksInProgress.Set(float64(len(p.sem)))
	}()

	timeout := time.Duration(p.assignmentTimeoutMS(a)) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resultCh := make(chan *protocol.Result, 1)
	go func() { resultCh <- p.registry.Execute(ctx, a) }()

	var res *protocol.Result
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		res = handlers.TimeoutResult(a, p.workerID(), timeout.Milliseconds())
		p.metrics.TaskTimeout.Inc()
	}

	p.recordTerminal(res)
	p.publishResult(res)
}

func (p *Pipeline) workerID() string {
	return p.cfg.WorkerID
}

// assignmentTimeoutMS extracts the per-assignment timeout override at
// job.payload.timeout_ms, falling back to default_job_timeout_ms when
// absent or not a finite positive number.
func (p *Pipeline) assignmentTimeoutMS(a *protocol.Assignment) int64 {
	if len(a.Job.Payload) == 0 {
		return p.cfg.DefaultJobTimeoutMS
	}
	var payload struct {
		TimeoutMS *float64 `json:"timeout_ms"`
	}
	if err := json.Unmarshal(a.Job.Payload, &payload); err != nil {
		return p.cfg.DefaultJobTimeoutMS
	}
	if payload.TimeoutMS == nil || *payload.TimeoutMS <= 0 {
		return p.cfg.DefaultJobTimeoutMS
	}
	return int64(*payload.TimeoutMS)
}

func (p *Pipeline) recordTerminal(res *protocol.Result) {
	state := protocol.MapStatusToTaskState(res.Status)
	p.log.Info("task terminal",
		logging.String("assignment_id", res.AssignmentID),
		logging.String("status", string(res.Status)),
		logging.String("state", string(state)),
		logging.Int64("latency_ms", res.LatencyMS),
	)
	switch res.Status {
	case protocol.StatusSuccess:
		p.metrics.TaskCompleted.Inc()
	case protocol.StatusError:
		p.metrics.TaskFailed.Inc()
	}
	p.metrics.TaskDurationSeconds.Observe(float64(res.LatencyMS) / 1000.0)
}

func (p *Pipeline) publishResult(res *protocol.Result) {
	env, err := protocol.WrapResult(res)
	if err != nil {
		p.deadLetterForResult(res, fmt.Sprintf("serialization error: %v", err))
		return
	}
	data, err := protocol.Encode(env)
	if err != nil {
		p.deadLetterForResult(res, fmt.Sprintf("serialization error: %v", err))
		return
	}

	err = p.publishWithRetry(data)
	if err != nil {
		p.deadLetterForResult(res, "PUBLISH_ERROR")
	}
}

// publishWithRetry implements the classify->sleep->retry contract: on
// each failure classify transient (substring match on "connection",
// "timeout", "broken pipe") vs. permanent; for transient errors with
// attempt < result_publish_max_retries, sleep min(30000, 500*2^attempt)
// ms and retry; permanent errors and exhausted retries return
// immediately. A per-subject circuit breaker fails fast once the subject
// is clearly unreachable, short-circuiting further retries.
func (p *Pipeline) publishWithRetry(data []byte) error {
	const cap30s = 30 * time.Second

	var lastErr error
	for attempt := 0; attempt <= p.cfg.ResultPublishMaxRetries; attempt++ {
		_, err := p.breaker.Execute(func() (any, error) {
			return nil, p.conn.Publish(p.cfg.ResultSubject, data)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if !bus.IsTransient(err) {
			return err
		}
		if attempt == p.cfg.ResultPublishMaxRetries {
			break
		}
		backoff := 500 * time.Millisecond * time.Duration(uint64(1)<<uint(attempt))
		if backoff > cap30s {
			backoff = cap30s
		}
		time.Sleep(backoff)
	}
	return lastErr
}

func (p *Pipeline) deadLetterForResult(res *protocol.Result, reason string) {
	dl := &protocol.DeadLetter{
		Reason:     reason,
		PayloadRef: mustJSON(map[string]any{"assignment_id": res.AssignmentID, "trace_id": res.TraceID}),
		TS:         time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.dlqSink.Write(dl); err != nil {
		p.log.Error("dlq: file write failed", logging.Err(err))
	}
	env, err := protocol.WrapDeadLetter(dl)
	if err == nil {
		if data, err := protocol.Encode(env); err == nil {
			_ = p.conn.Publish(p.cfg.DLQSubject, data)
		}
	}
	p.metrics.DLQPublishedTotal.Inc()
}
