// Package jobs runs batches of external units of work with bounded parallelism.
//
// A Job is an already-started external unit of work (typically a spawned
// subprocess) with a blocking wait. ExecuteParallel keeps up to maxJobs of
// them in flight at once. A failing job does not cancel its siblings; they are
// allowed to run to completion so that any cache output they produce remains
// valid for reuse, and all failures are reported together at the end.
package jobs

import (
	"context"
	"runtime"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"
	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("jobs")

// A Job is an external unit of work that has already been started.
type Job interface {
	// Wait blocks until the job completes, returning any failure.
	Wait() error
}

// JobFunc adapts a plain function to the Job interface.
type JobFunc func() error

// Wait implements Job.
func (f JobFunc) Wait() error { return f() }

// A Spawned couples a started Job with the result value it produces on success.
type Spawned[O any] struct {
	job    Job
	result O
}

// Await returns a Spawned that delivers result once job completes successfully.
func Await[O any](job Job, result O) *Spawned[O] {
	return &Spawned[O]{job: job, result: result}
}

// Completed returns a Spawned whose work is already done.
func Completed[O any](result O) *Spawned[O] {
	return &Spawned[O]{result: result}
}

// Wait blocks until the underlying job is complete and returns its result.
func (s *Spawned[O]) Wait() (O, error) {
	if s.job != nil {
		if err := s.job.Wait(); err != nil {
			var zero O
			return zero, err
		}
	}
	return s.result, nil
}

// A SpawnFunc starts the unit of work for one input.
type SpawnFunc[I, O any] func(input I) (*Spawned[O], error)

// An ErrorWrapper converts a job failure into a domain-specific error kind.
type ErrorWrapper func(err error) error

// ExecuteParallel spawns one job per input, keeping at most maxJobs in flight,
// and collects one output per input. maxJobs <= 0 means runtime.NumCPU().
//
// Output order is unspecified; callers sort by content identity afterwards.
// On failure every started job is still awaited and each failure is passed
// through wrap, then all of them are returned as one aggregated error.
func ExecuteParallel[I, O any](ctx context.Context, inputs []I, spawn SpawnFunc[I, O], wrap ErrorWrapper, maxJobs int) ([]O, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if maxJobs <= 0 {
		maxJobs = runtime.NumCPU()
	}
	sem := semaphore.NewWeighted(int64(maxJobs))
	var wg sync.WaitGroup
	var mutex sync.Mutex
	results := make([]O, 0, len(inputs))
	var errs *multierror.Error

	for _, input := range inputs {
		if err := sem.Acquire(ctx, 1); err != nil {
			mutex.Lock()
			errs = multierror.Append(errs, err)
			mutex.Unlock()
			break
		}
		wg.Add(1)
		go func(input I) {
			defer wg.Done()
			defer sem.Release(1)
			result, err := runOne(input, spawn)
			mutex.Lock()
			defer mutex.Unlock()
			if err != nil {
				log.Debug("Job failed: %s", err)
				errs = multierror.Append(errs, wrap(err))
				return
			}
			results = append(results, result)
		}(input)
	}
	wg.Wait()
	if errs != nil {
		return nil, errs.ErrorOrNil()
	}
	return results, nil
}

// runOne spawns and awaits a single input's job.
func runOne[I, O any](input I, spawn SpawnFunc[I, O]) (O, error) {
	spawned, err := spawn(input)
	if err != nil {
		var zero O
		return zero, err
	}
	return spawned.Wait()
}
