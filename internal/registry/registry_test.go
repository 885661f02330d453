package registry

import (
	"context"
	"testing"
	"time"

	"github.com/jobengine/worker-core/internal/config"
	"go.uber.org/zap"
)

func TestNewReturnsNoopWhenMongoURIUnset(t *testing.T) {
	hb, err := New(config.Registry{}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := hb.(noopHeartbeater); !ok {
		t.Fatalf("expected noopHeartbeater, got %T", hb)
	}
}

func TestNoopHeartbeaterStartReturnsOnContextDone(t *testing.T) {
	hb := noopHeartbeater{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- hb.Start(ctx, "worker-1") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error from noop Start, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("noop Start did not return after context cancellation")
	}
}

func TestNoopHeartbeaterCloseIsNoop(t *testing.T) {
	hb := noopHeartbeater{}
	if err := hb.Close(context.Background()); err != nil {
		t.Fatalf("expected nil error from noop Close, got %v", err)
	}
}
