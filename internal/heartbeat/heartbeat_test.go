package heartbeat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"transcode-worker/internal/logging"
	"transcode-worker/internal/protocol"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (r *recordingPublisher) Publish(subject string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, data)
	return nil
}

func (r *recordingPublisher) last() *protocol.Heartbeat {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return nil
	}
	var env protocol.Envelope
	if err := json.Unmarshal(r.msgs[len(r.msgs)-1], &env); err != nil {
		return nil
	}
	var hb protocol.Heartbeat
	_ = json.Unmarshal(env.Data, &hb)
	return &hb
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type fakeStatus struct{ inUse, max int }

func (f fakeStatus) InUse() int          { return f.inUse }
func (f fakeStatus) MaxConcurrency() int { return f.max }

func TestRun_PublishesBusyWhenPermitsHeld(t *testing.T) {
	pub := &recordingPublisher{}
	svc := New(pub, "caf.status.heartbeat.v1", "worker-1", 5*time.Millisecond, fakeStatus{inUse: 2, max: 4}, nil, logging.New("worker-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	svc.Run(ctx)

	hb := pub.last()
	if hb == nil {
		t.Fatal("expected at least one heartbeat")
	}
	if hb.Status != "busy" {
		t.Errorf("status = %q, want busy", hb.Status)
	}
	if hb.Load != 0.5 {
		t.Errorf("load = %v, want 0.5", hb.Load)
	}
}

func TestRun_PublishesIdleWhenNoPermitsHeld(t *testing.T) {
	pub := &recordingPublisher{}
	svc := New(pub, "caf.status.heartbeat.v1", "worker-1", 5*time.Millisecond, fakeStatus{inUse: 0, max: 4}, nil, logging.New("worker-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	svc.Run(ctx)

	hb := pub.last()
	if hb == nil {
		t.Fatal("expected at least one heartbeat")
	}
	if hb.Status != "idle" || hb.Load != 0 {
		t.Errorf("status = %q load = %v, want idle/0", hb.Status, hb.Load)
	}
}

func TestPublishDraining_EmitsDrainingStatus(t *testing.T) {
	pub := &recordingPublisher{}
	svc := New(pub, "caf.status.heartbeat.v1", "worker-1", time.Hour, fakeStatus{inUse: 1, max: 4}, nil, logging.New("worker-1"))
	svc.PublishDraining(context.Background())
	hb := pub.last()
	if hb == nil || hb.Status != "draining" {
		t.Fatalf("expected draining heartbeat, got %+v", hb)
	}
}

func TestPublishStopped_EmitsZeroLoad(t *testing.T) {
	pub := &recordingPublisher{}
	svc := New(pub, "caf.status.heartbeat.v1", "worker-1", time.Hour, fakeStatus{inUse: 4, max: 4}, nil, logging.New("worker-1"))
	svc.PublishStopped(context.Background())
	hb := pub.last()
	if hb == nil || hb.Status != "stopped" || hb.Load != 0 {
		t.Fatalf("expected stopped heartbeat with zero load, got %+v", hb)
	}
}

func TestLoadOf_ZeroMaxConcurrencyIsZero(t *testing.T) {
	if got := loadOf(3, 0); got != 0 {
		t.Errorf("loadOf(3,0) = %v, want 0", got)
	}
}
