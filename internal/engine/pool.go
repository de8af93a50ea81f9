package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// evalTask is one unit of work for the pool: a symbol evaluation or a
// maintenance job.
type evalTask func(ctx context.Context) error

// poolConfig sizes the evaluation pool. The engine evaluates a handful of
// symbols per tick, so the pool stays small.
type poolConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

func defaultPoolConfig() poolConfig {
	return poolConfig{
		Workers:     4,
		QueueSize:   64,
		TaskTimeout: 30 * time.Second,
	}
}

// evalPool runs symbol evaluations concurrently with panic recovery so one
// bad symbol cannot take down the loop.
type evalPool struct {
	logger *zap.Logger
	config poolConfig

	tasks   chan evalTask
	wg      sync.WaitGroup
	running atomic.Bool
	cancel  context.CancelFunc

	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

func newEvalPool(logger *zap.Logger, config poolConfig) *evalPool {
	if config.Workers <= 0 {
		config = defaultPoolConfig()
	}
	return &evalPool{
		logger: logger.Named("pool"),
		config: config,
		tasks:  make(chan evalTask, config.QueueSize),
	}
}

func (p *evalPool) start() {
	if p.running.Swap(true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("evaluation pool started", zap.Int("workers", p.config.Workers))
}

func (p *evalPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.execute(ctx, id, task)
		}
	}
}

func (p *evalPool) execute(ctx context.Context, id int, task evalTask) {
	taskCtx, cancel := context.WithTimeout(ctx, p.config.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("evaluation panic recovered",
				zap.Int("worker", id),
				zap.Any("panic", r),
			)
		}
	}()

	if err := task(taskCtx); err != nil {
		p.failed.Add(1)
		p.logger.Debug("evaluation task failed", zap.Error(err))
		return
	}
	p.completed.Add(1)
}

// submit queues a task, dropping it when the queue is full. Dropping an
// evaluation is safe: the next tick re-evaluates the same symbol.
func (p *evalPool) submit(task evalTask) bool {
	if !p.running.Load() {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		p.logger.Warn("evaluation queue full, task dropped")
		return false
	}
}

// submitWait queues a task and blocks until it finishes.
func (p *evalPool) submitWait(task evalTask) error {
	done := make(chan error, 1)
	if !p.submit(func(ctx context.Context) error {
		err := task(ctx)
		done <- err
		return err
	}) {
		return context.Canceled
	}
	return <-done
}

func (p *evalPool) stop() {
	if !p.running.Swap(false) {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("evaluation pool stopped",
		zap.Int64("completed", p.completed.Load()),
		zap.Int64("failed", p.failed.Load()),
		zap.Int64("panics", p.panics.Load()),
	)
}
