package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jobengine/worker-core/internal/actions"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"MICROSERVICE_NAME", "POLLING_INTERVAL_SECONDS", "MAX_CONCURRENT_JOBS",
		"SHUTDOWN_TIMEOUT_SECONDS", "JOB_TIMEOUT_SECONDS", "DEV_MODE",
		"ORACLE_DSN", "ORACLE_USER", "ORACLE_PASSWORD", "ORACLE_TABLE",
		"LOG_CONSOLE_JSON", "DEBUG", "HTTP_HOST", "HTTP_PORT",
		"MONGODB_URI", "MONGODB_DATABASE", "MONGODB_HEARTBEAT_SECONDS", "MONGODB_KEY_TTL_SECONDS",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}

func TestNewBuildsApplicationInDevMode(t *testing.T) {
	clearEnv(t)
	os.Setenv("MICROSERVICE_NAME", "test-app")
	os.Setenv("DEV_MODE", "true")
	os.Setenv("HTTP_PORT", "0")
	os.Setenv("POLLING_INTERVAL_SECONDS", "1")
	defer clearEnv(t)

	a, err := New(Options{
		Actions: []actions.Definition{{
			Name: "echo",
			Handler: func(ctx context.Context, input map[string]any, deps map[string]any) (any, error) {
				return input, nil
			},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error building application: %v", err)
	}
	if a.cfg.MicroserviceName != "test-app" {
		t.Fatalf("expected config to be loaded, got %+v", a.cfg)
	}
	if len(a.actions.Names()) != 1 {
		t.Fatalf("expected 1 registered action, got %d", len(a.actions.Names()))
	}
}

func TestRunStartsAndStopsOnContextCancel(t *testing.T) {
	clearEnv(t)
	os.Setenv("MICROSERVICE_NAME", "test-app")
	os.Setenv("DEV_MODE", "true")
	os.Setenv("HTTP_HOST", "127.0.0.1")
	os.Setenv("HTTP_PORT", "0")
	os.Setenv("POLLING_INTERVAL_SECONDS", "1")
	defer clearEnv(t)

	a, err := New(Options{})
	if err != nil {
		t.Fatalf("unexpected error building application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error from Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	clearEnv(t)
	os.Setenv("MICROSERVICE_NAME", "test-app")
	os.Setenv("DEV_MODE", "true")
	os.Setenv("HTTP_PORT", "0")
	defer clearEnv(t)

	a, err := New(Options{})
	if err != nil {
		t.Fatalf("unexpected error building application: %v", err)
	}

	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown should be a no-op, got: %v", err)
	}
}
