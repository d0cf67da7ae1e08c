package worker

import (
	"time"

	"github.com/google/uuid"

	rc "github.com/gofhir/rulecheck"
)

// Job is one bundle to validate.
type Job struct {
	// ID is a unique identifier for this job.
	ID string

	// Name identifies the source of the bundle, e.g. its file name.
	Name string

	// Data is the bundle JSON.
	Data []byte

	// seq is the job's position within a Batch.
	seq int
}

// NewJob creates a job with a random ID.
func NewJob(name string, data []byte) Job {
	return Job{ID: uuid.NewString(), Name: name, Data: data}
}

// JobResult is the outcome of one job.
type JobResult struct {
	// ID and Name match the Job that produced this result.
	ID   string
	Name string

	// Result is nil when Err is set.
	Result *rc.Result

	// Err is a rejected bundle, a cancelled run or ErrNoValidator.
	Err error

	Duration time.Duration

	seq int
}

// BatchResult aggregates the results of several jobs.
type BatchResult struct {
	Results []*JobResult

	// TotalJobs is the number of jobs submitted.
	TotalJobs int

	// CompletedJobs counts jobs that ran, including failed ones.
	CompletedJobs int

	// FailedJobs counts jobs that ended with an error.
	FailedJobs int

	// TotalDuration sums the job durations.
	TotalDuration time.Duration
}

// HasErrors reports whether any job failed or produced error findings.
func (br *BatchResult) HasErrors() bool {
	for _, r := range br.Results {
		if r == nil {
			continue
		}
		if r.Err != nil {
			return true
		}
		if r.Result != nil && r.Result.HasErrors() {
			return true
		}
	}
	return false
}

// ErrorCount returns the number of error findings across all results.
func (br *BatchResult) ErrorCount() int {
	count := 0
	for _, r := range br.Results {
		if r != nil && r.Result != nil {
			count += r.Result.Counts.Error
		}
	}
	return count
}

// Passed counts jobs whose bundle passed validation.
func (br *BatchResult) Passed() int {
	n := 0
	for _, r := range br.Results {
		if r != nil && r.Err == nil && r.Result != nil && r.Result.Passed {
			n++
		}
	}
	return n
}
