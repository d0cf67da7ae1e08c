package worker

import (
	"context"
	"runtime"
	"time"
)

// Batch validates a slice of jobs in parallel.
type Batch struct {
	validator Validator
	workers   int
}

// NewBatch creates a batch validator. If workers <= 0, it defaults to
// runtime.NumCPU().
func NewBatch(v Validator, workers int) *Batch {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Batch{validator: v, workers: workers}
}

// Validate runs every job and returns the results in job order. Jobs not
// started before ctx is cancelled report ctx.Err().
func (b *Batch) Validate(ctx context.Context, jobs []Job) *BatchResult {
	results := make([]*JobResult, len(jobs))
	if len(jobs) <= 2 {
		for i, job := range jobs {
			results[i] = run(ctx, b.validator, job)
		}
		return summarize(results)
	}

	pool := NewPool(ctx, b.validator, min(b.workers, len(jobs)))
	go func() {
		for i, job := range jobs {
			job.seq = i
			if !pool.Submit(job) {
				break
			}
		}
		pool.shutdown(false)
	}()
	for r := range pool.Results() {
		results[r.seq] = r
	}

	// The pool refuses jobs once ctx is done.
	for i, r := range results {
		if r == nil {
			results[i] = run(ctx, b.validator, jobs[i])
		}
	}
	return summarize(results)
}

func summarize(results []*JobResult) *BatchResult {
	br := &BatchResult{Results: results, TotalJobs: len(results)}
	var total time.Duration
	for _, r := range results {
		br.CompletedJobs++
		total += r.Duration
		if r.Err != nil {
			br.FailedJobs++
		}
	}
	br.TotalDuration = total
	return br
}

// ValidateBatch validates jobs with one worker per CPU.
func ValidateBatch(ctx context.Context, v Validator, jobs []Job) *BatchResult {
	return NewBatch(v, runtime.NumCPU()).Validate(ctx, jobs)
}
