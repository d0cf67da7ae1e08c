// Package worker validates many bundles in parallel.
//
// A Pool runs a fixed set of worker goroutines fed through a job queue and
// delivers results on a channel as they complete. A Batch validates a known
// slice of bundles and returns the results in input order.
//
// Example usage:
//
//	v := worker.NewPipelineValidator(p, set, cm, settings)
//	batch := worker.NewBatch(v, 4)
//	res := batch.Validate(ctx, jobs)
//	for _, r := range res.Results {
//	    if r.Err != nil {
//	        // bundle rejected or run cancelled
//	    }
//	    // r.Result holds the unified findings
//	}
package worker
