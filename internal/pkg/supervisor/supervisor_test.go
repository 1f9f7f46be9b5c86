package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastOpts(max uint64) Options {
	return Options{
		Name:            "test",
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxRestarts:     max,
	}
}

func TestRun_RestartsUntilSuccess(t *testing.T) {
	var calls int32
	err := Run(context.Background(), fastOpts(0), func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRun_GivesUpAfterBudget(t *testing.T) {
	var calls int32
	err := Run(context.Background(), fastOpts(2), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	})
	if !errors.Is(err, ErrGaveUp) {
		t.Fatalf("Expected ErrGaveUp, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected initial run plus 2 restarts, got %d", calls)
	}
}

func TestRun_RecoversPanic(t *testing.T) {
	var calls int32
	err := Run(context.Background(), fastOpts(0), func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("kaboom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, fastOpts(0), func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
