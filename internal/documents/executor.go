package documents

import "context"

// executor is the bounded document-processing pool from the concurrency
// model: a fixed number of workers drain a buffered job queue; once a job is
// accepted it runs to completion against its own background context,
// independent of whatever request context enqueued it, since document
// processing is not cancellable. A full queue makes Submit return false so
// the caller can leave the document PENDING rather than block the request.
type executor struct {
	jobs chan func(context.Context)
	done chan struct{}
}

func newExecutor(workers, queueSize int) *executor {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	e := &executor{
		jobs: make(chan func(context.Context), queueSize),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

func (e *executor) worker() {
	for job := range e.jobs {
		job(context.Background())
	}
}

// Submit enqueues job for background execution. Returns false without
// running job if the queue is full.
func (e *executor) Submit(job func(context.Context)) bool {
	select {
	case e.jobs <- job:
		return true
	default:
		return false
	}
}

// Close stops accepting new jobs; already-queued jobs still run.
func (e *executor) Close() {
	close(e.jobs)
}
