// Package heartbeat implements the worker's periodic liveness/load
// publisher: a ticker loop that wraps load and telemetry into a bus
// envelope.
package heartbeat

import (
	"context"
	"time"

	"transcode-worker/internal/logging"
	"transcode-worker/internal/monitor"
	"transcode-worker/internal/protocol"
)

// Publisher is the slice of bus.Conn a Service needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Status reports concurrency occupancy, satisfied by *pipeline.Pipeline.
type Status interface {
	InUse() int
	MaxConcurrency() int
}

// Service publishes a heartbeat envelope on a fixed interval, and on
// demand for the shutdown sequence's out-of-band draining/stopped beats.
type Service struct {
	conn     Publisher
	subject  string
	workerID string
	interval time.Duration
	status   Status
	monitor  *monitor.SystemMonitor // nil disables telemetry sampling
	log      *logging.Logger
}

// SetConn binds the bus connection used to publish. Exists so the
// supervisor can build the Service before a bus connection exists.
func (s *Service) SetConn(conn Publisher) {
	s.conn = conn
}

// New builds a Service. monitor may be nil, in which case heartbeats
// carry no Telemetry. conn may be nil; call SetConn once a bus
// connection is established.
func New(conn Publisher, subject, workerID string, interval time.Duration, status Status, mon *monitor.SystemMonitor, log *logging.Logger) *Service {
	return &Service{
		conn:     conn,
		subject:  subject,
		workerID: workerID,
		interval: interval,
		status:   status,
		monitor:  mon,
		log:      log,
	}
}

// Run ticks until ctx is cancelled. Publish failures are logged, never
// fatal; the loop keeps going. The caller is expected to publish the
// shutdown sequence's draining/stopped beats itself via PublishDraining
// and PublishStopped.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	inUse := s.status.InUse()
	max := s.status.MaxConcurrency()
	status := "idle"
	if inUse > 0 {
		status = "busy"
	}
	s.publishStatus(ctx, status, loadOf(inUse, max))
}

// PublishDraining emits the out-of-band "draining" beat the supervisor
// sends as soon as it stops accepting new assignments.
func (s *Service) PublishDraining(ctx context.Context) {
	s.publishStatus(ctx, "draining", loadOf(s.status.InUse(), s.status.MaxConcurrency()))
}

// PublishStopped emits the out-of-band "stopped" beat the supervisor
// sends immediately before exit, once every permit has been returned.
func (s *Service) PublishStopped(ctx context.Context) {
	s.publishStatus(ctx, "stopped", 0)
}

func loadOf(inUse, max int) float64 {
	if max <= 0 {
		return 0
	}
	load := float64(inUse) / float64(max)
	switch {
	case load < 0:
		return 0
	case load > 1:
		return 1
	default:
		return load
	}
}

func (s *Service) publishStatus(ctx context.Context, status string, load float64) {
	hb := &protocol.Heartbeat{
		WorkerID:  s.workerID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    status,
		Load:      load,
	}
	if s.monitor != nil {
		if stats, err := s.monitor.Sample(ctx); err == nil {
			hb.Telemetry = &protocol.Telemetry{CPUPercent: stats.CPUPercent, RAMPercent: stats.RAMPercent}
		} else {
			s.log.Error("heartbeat: telemetry sample failed", logging.Err(err))
		}
	}

	env, err := protocol.WrapHeartbeat(hb)
	if err != nil {
		s.log.Error("heartbeat: wrap failed", logging.Err(err))
		return
	}
	data, err := protocol.Encode(env)
	if err != nil {
		s.log.Error("heartbeat: encode failed", logging.Err(err))
		return
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		s.log.Error("heartbeat: publish failed", logging.Err(err))
	}
}
