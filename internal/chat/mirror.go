package chat

import (
	"context"
	"sync"
	"time"
)

// mirrorTimeout bounds a single persistence job.
const mirrorTimeout = 30 * time.Second

// mirrorQueue runs persistence jobs one at a time in submission order, so a
// chat is always ensured before its messages are appended.
type mirrorQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []func(context.Context)
	closed bool
	done   chan struct{}

	// submitted and finished count jobs; wait compares them so it never
	// races with enqueue the way a reused WaitGroup would.
	submitted uint64
	finished  uint64
}

func newMirrorQueue() *mirrorQueue {
	q := &mirrorQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// enqueue adds a job. Jobs submitted after close are dropped.
func (q *mirrorQueue) enqueue(job func(context.Context)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.submitted++
	q.jobs = append(q.jobs, job)
	q.cond.Broadcast()
}

// wait blocks until every job submitted before the call has finished. Jobs
// enqueued while waiting do not extend the wait.
func (q *mirrorQueue) wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	target := q.submitted
	for q.finished < target {
		q.cond.Wait()
	}
}

// close drains remaining jobs and stops the worker.
func (q *mirrorQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

func (q *mirrorQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		job(ctx)
		cancel()

		q.mu.Lock()
		q.finished++
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}
