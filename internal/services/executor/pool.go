package executor

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
)

// task pairs a unit of blocking work with its completion channel
type task struct {
	fn   func() error
	done chan error
}

// Pool is the blocking-compute worker pool. Image decoding, kernel
// inference and tile I/O run here so the goroutines serving request
// handlers and event streams never block on CPU-bound work.
type Pool struct {
	tasks  chan task
	size   int
	ctx    context.Context
	cancel context.CancelFunc
	logger arbor.ILogger
}

// NewPool creates a compute pool with the given number of workers
func NewPool(size int, logger arbor.ILogger) *Pool {
	if size <= 0 {
		size = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		tasks:  make(chan task, size*2),
		size:   size,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Start begins the pool workers
func (p *Pool) Start() {
	p.logger.Info().
		Int("compute_workers", p.size).
		Msg("Starting compute pool")

	for i := 0; i < p.size; i++ {
		go p.worker(i)
	}
}

// Do submits fn to the pool and waits for it to finish. The calling
// goroutine blocks, but the work itself runs on a pool worker.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	t := task{fn: fn, done: make(chan error, 1)}

	select {
	case p.tasks <- t:
	case <-p.ctx.Done():
		return fmt.Errorf("compute pool is shutting down")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-p.ctx.Done():
		return fmt.Errorf("compute pool is shutting down")
	}
}

// Shutdown stops the pool; queued tasks are abandoned
func (p *Pool) Shutdown() {
	p.cancel()
	p.logger.Info().Msg("Compute pool shutdown")
}

func (p *Pool) worker(id int) {
	p.logger.Debug().Int("worker_id", id).Msg("Compute worker started")

	for {
		select {
		case t := <-p.tasks:
			t.done <- p.run(t.fn)
		case <-p.ctx.Done():
			p.logger.Debug().Int("worker_id", id).Msg("Compute worker stopping")
			return
		}
	}
}

// run executes one task with panic recovery so a bad tile cannot kill
// a pool worker
func (p *Pool) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compute task panicked: %v", r)
		}
	}()
	return fn()
}
