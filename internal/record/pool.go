package record

import (
	"context"
	"sync"

	"github.com/fossdd/pijul-sub000/internal/change"
)

// diffJob is one file's work item: diff its current bytes against the
// pristine's stored bytes and report back whatever hunks that produces.
type diffJob struct {
	path  string
	entry Entry
	old   []byte
}

type diffResult struct {
	path  string
	entry Entry
	hunks []change.Hunk
	err   error
}

// diffPool runs up to `workers` diffJobs concurrently, stopping early if
// ctx is canceled. Grounded on the producer/worker/stopChan shape used
// throughout the teacher's async processing paths: a buffered jobs
// channel, a fixed worker count draining it into a results channel, and a
// WaitGroup the caller waits on after closing jobs.
type diffPool struct {
	jobs    chan diffJob
	results chan diffResult
	wg      sync.WaitGroup
}

func newDiffPool(ctx context.Context, workers int, diff func(Entry, []byte) ([]change.Hunk, error)) *diffPool {
	if workers < 1 {
		workers = 1
	}
	p := &diffPool{
		jobs:    make(chan diffJob, workers*2),
		results: make(chan diffResult, workers*2),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				select {
				case <-ctx.Done():
					p.results <- diffResult{path: job.path, entry: job.entry, err: ctx.Err()}
					continue
				default:
				}
				hunks, err := diff(job.entry, job.old)
				p.results <- diffResult{path: job.path, entry: job.entry, hunks: hunks, err: err}
			}
		}()
	}
	return p
}

func (p *diffPool) submit(j diffJob) { p.jobs <- j }

// closeAndCollect closes the jobs channel, waits for every worker to
// drain, and returns all results. Must be called exactly once.
func (p *diffPool) closeAndCollect(expected int) []diffResult {
	close(p.jobs)
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
	out := make([]diffResult, 0, expected)
	for r := range p.results {
		out = append(out, r)
	}
	return out
}
