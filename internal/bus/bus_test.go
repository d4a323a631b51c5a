package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("write: broken pipe"), true},
		{errors.New("EOF"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestConnect_CancelledContextReturnsError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	_, err := Connect(ctx, "nats://127.0.0.1:1", func() { attempts++ })
	if err == nil {
		t.Fatal("expected error when context is cancelled during backoff")
	}
	if attempts == 0 {
		t.Fatal("expected at least one connect attempt before cancellation")
	}
}
