package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryPolicy{
		Attempts:       3,
		InitialBackoff: time.Millisecond,
		Multiplier:     2,
	}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	want := errors.New("persistent")
	err := Retry(context.Background(), RetryPolicy{Attempts: 2}, func() error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestRetryHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, RetryPolicy{Attempts: 5, InitialBackoff: time.Hour}, func() error {
		return errors.New("keep going")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestStartObservationInvokesHooks(t *testing.T) {
	var started, completed bool
	var gotErr error
	hooks := ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			started = true
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, d time.Duration) {
			completed = true
			gotErr = err
		},
	}
	boom := errors.New("boom")
	done := StartObservation(context.Background(), hooks, map[string]string{"env": "t"})
	done(boom)
	if !started || !completed {
		t.Fatalf("started=%v completed=%v", started, completed)
	}
	if !errors.Is(gotErr, boom) {
		t.Fatalf("completion err = %v", gotErr)
	}
}

func TestDescriptorWithCapabilities(t *testing.T) {
	d := Descriptor{Name: "env", Layer: LayerEngine, Capabilities: []string{"timers"}}
	d2 := d.WithCapabilities("transactions")
	if len(d.Capabilities) != 1 {
		t.Fatalf("original descriptor mutated: %v", d.Capabilities)
	}
	if len(d2.Capabilities) != 2 || d2.Capabilities[1] != "transactions" {
		t.Fatalf("WithCapabilities = %v", d2.Capabilities)
	}
}
