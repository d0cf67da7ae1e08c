package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNoValidator is returned when the pool has no validator configured.
var ErrNoValidator = errors.New("no validator configured")

// Pool manages a pool of worker goroutines for parallel validation.
type Pool struct {
	workers    int
	jobsChan   chan Job
	resultChan chan *JobResult
	quit       chan struct{}
	validator  Validator
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
	closed     atomic.Bool

	jobsSubmitted atomic.Uint64
	jobsCompleted atomic.Uint64
}

// NewPool starts a pool with the given number of workers. If workers <= 0,
// it defaults to runtime.NumCPU(). Once ctx is cancelled, queued jobs
// report ctx.Err() and Submit refuses new ones.
func NewPool(ctx context.Context, validator Validator, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers:    workers,
		jobsChan:   make(chan Job, workers*2),
		resultChan: make(chan *JobResult, workers*2),
		quit:       make(chan struct{}),
		validator:  validator,
		ctx:        ctx,
		cancel:     cancel,
	}

	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

// Submit queues a job, blocking while the queue is full. It returns false
// once the pool is closed or cancelled.
func (p *Pool) Submit(job Job) bool {
	// select picks among ready cases at random, so a free queue slot could
	// win over an already cancelled context.
	if p.closed.Load() || p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.quit:
		return false
	case <-p.ctx.Done():
		return false
	case p.jobsChan <- job:
		p.jobsSubmitted.Add(1)
		return true
	}
}

// Results returns the channel delivering job results. It is closed once
// the pool has shut down.
func (p *Pool) Results() <-chan *JobResult {
	return p.resultChan
}

// Close stops accepting jobs, discards pending results and waits for the
// workers to exit.
func (p *Pool) Close() {
	p.shutdown(true)
	for range p.resultChan {
	}
}

// CloseAndWait stops accepting jobs, lets the workers finish the queued
// ones and returns every result not yet received from Results.
func (p *Pool) CloseAndWait() *BatchResult {
	if !p.shutdown(false) {
		return &BatchResult{}
	}

	var results []*JobResult
	var total time.Duration
	failed := 0
	for r := range p.resultChan {
		results = append(results, r)
		total += r.Duration
		if r.Err != nil {
			failed++
		}
	}
	return &BatchResult{
		Results:       results,
		TotalJobs:     int(p.jobsSubmitted.Load()),
		CompletedJobs: int(p.jobsCompleted.Load()),
		FailedJobs:    failed,
		TotalDuration: total,
	}
}

// shutdown stops the pool once. With cancel set, running jobs are
// cancelled too. It reports whether this call performed the shutdown.
func (p *Pool) shutdown(cancel bool) bool {
	first := false
	p.closeOnce.Do(func() {
		first = true
		p.closed.Store(true)
		if cancel {
			p.cancel()
		}
		close(p.quit)
		go func() {
			p.wg.Wait()
			p.cancel()
			close(p.resultChan)
		}()
	})
	return first
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobsChan:
			p.process(job)
		case <-p.quit:
			// Finish the jobs queued before the pool closed.
			for {
				select {
				case job := <-p.jobsChan:
					p.process(job)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) process(job Job) {
	result := run(p.ctx, p.validator, job)
	p.jobsCompleted.Add(1)
	p.resultChan <- result
}

// run validates one job.
func run(ctx context.Context, v Validator, job Job) *JobResult {
	start := time.Now()
	result := &JobResult{ID: job.ID, Name: job.Name, seq: job.seq}
	switch {
	case v == nil:
		result.Err = ErrNoValidator
	case ctx.Err() != nil:
		result.Err = ctx.Err()
	default:
		result.Result, result.Err = v.Validate(ctx, job.Data)
	}
	result.Duration = time.Since(start)
	return result
}
