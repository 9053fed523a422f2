// Copyright 2025 James Ross

// Package dispatcher polls the job store at a fixed interval, claims up to
// N jobs per tick, and hands each off to a bounded worker pool (spec §4.8).
package dispatcher

import (
	"sync"

	"github.com/caseworks/reportpipeline/internal/obs"
)

// WorkerPool is a bounded task executor. Unlike the teacher's fixed-count
// goroutine-per-worker loop (internal/worker.Worker.Run), this pool is
// submission-driven: the dispatcher decides what runs, the pool only
// bounds concurrency (spec §4.8's "dispatcher must never block on pool
// saturation").
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewWorkerPool constructs a pool with the given number of concurrent slots.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{sem: make(chan struct{}, size)}
}

// FreeSlots returns the number of tasks that could be submitted right now
// without blocking.
func (p *WorkerPool) FreeSlots() int {
	return cap(p.sem) - len(p.sem)
}

// TrySubmit runs fn on a pool goroutine if a slot is free, returning false
// immediately (without running fn) otherwise.
func (p *WorkerPool) TrySubmit(fn func()) bool {
	select {
	case p.sem <- struct{}{}:
	default:
		return false
	}
	p.wg.Add(1)
	obs.WorkerActive.Inc()
	go func() {
		defer func() {
			<-p.sem
			obs.WorkerActive.Dec()
			p.wg.Done()
		}()
		fn()
	}()
	return true
}

// Wait blocks until every submitted task has returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
