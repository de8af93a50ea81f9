package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := newEvalPool(zap.NewNop(), poolConfig{Workers: 2, QueueSize: 8, TaskTimeout: time.Second})
	p.start()
	defer p.stop()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		if err := p.submitWait(func(context.Context) error {
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("task %d failed: %v", i, err)
		}
	}
	if ran.Load() != 5 {
		t.Fatalf("ran = %d, want 5", ran.Load())
	}
	if p.completed.Load() != 5 {
		t.Errorf("completed = %d, want 5", p.completed.Load())
	}
}

func TestPoolRecoversFromPanic(t *testing.T) {
	p := newEvalPool(zap.NewNop(), poolConfig{Workers: 1, QueueSize: 8, TaskTimeout: time.Second})
	p.start()
	defer p.stop()

	done := make(chan struct{})
	p.submit(func(context.Context) error {
		defer close(done)
		panic("bad symbol")
	})
	<-done

	// The worker survives and keeps serving.
	if err := p.submitWait(func(context.Context) error { return nil }); err != nil {
		t.Fatalf("pool dead after panic: %v", err)
	}
	if p.panics.Load() != 1 {
		t.Errorf("panics = %d, want 1", p.panics.Load())
	}
}

func TestPoolCountsFailures(t *testing.T) {
	p := newEvalPool(zap.NewNop(), poolConfig{Workers: 1, QueueSize: 8, TaskTimeout: time.Second})
	p.start()
	defer p.stop()

	p.submitWait(func(context.Context) error { return errors.New("boom") })
	if p.failed.Load() != 1 {
		t.Errorf("failed = %d, want 1", p.failed.Load())
	}
}

func TestPoolRefusesWhenStopped(t *testing.T) {
	p := newEvalPool(zap.NewNop(), poolConfig{Workers: 1, QueueSize: 1, TaskTimeout: time.Second})
	if p.submit(func(context.Context) error { return nil }) {
		t.Fatal("submit before start must be refused")
	}
}
