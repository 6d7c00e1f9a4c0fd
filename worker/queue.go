package worker

import (
	"context"
	"sync"
	"time"

	"github.com/freshgroup/dashboard/backend/logger"
)

// Job is a unit of background work keyed by dataset. Run's error is logged only.
type Job struct {
	Name      string
	DatasetID uint
	Run       func(ctx context.Context) error
}

// Queue runs submitted jobs one at a time on a single goroutine. A job for a
// dataset that already has one waiting is folded into the waiting one, which
// will read the same data when it runs.
type Queue struct {
	log        *logger.Logger
	jobs       chan Job
	jobTimeout time.Duration

	mu      sync.Mutex
	pending map[uint]bool
	closed  bool
	wg      sync.WaitGroup
}

// NewQueue creates a queue holding up to size waiting jobs.
func NewQueue(log *logger.Logger, size int, jobTimeout time.Duration) *Queue {
	if size < 1 {
		size = 1
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Queue{
		log:        log.With("component", "recluster_queue"),
		jobs:       make(chan Job, size),
		jobTimeout: jobTimeout,
		pending:    make(map[uint]bool),
	}
}

// Start begins processing jobs
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.loop()
	q.log.Info("Background queue started", "capacity", cap(q.jobs))
}

// Submit enqueues job without blocking. It reports false when the job was
// dropped because the queue is full or stopped.
func (q *Queue) Submit(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Warn("Queue stopped, dropping job", "job", job.Name, "dataset_id", job.DatasetID)
		return false
	}
	if q.pending[job.DatasetID] {
		q.log.Debug("Job already pending for dataset", "job", job.Name, "dataset_id", job.DatasetID)
		return true
	}
	select {
	case q.jobs <- job:
		q.pending[job.DatasetID] = true
		return true
	default:
		q.log.Warn("Queue full, dropping job", "job", job.Name, "dataset_id", job.DatasetID)
		return false
	}
}

// Stop closes the queue and waits until every accepted job has run.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	q.log.Info("Background queue stopped")
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.mu.Lock()
		delete(q.pending, job.DatasetID)
		q.mu.Unlock()
		q.run(job)
	}
}

func (q *Queue) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.jobTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("Background job panicked", "job", job.Name, "dataset_id", job.DatasetID, "panic", r)
		}
	}()
	if err := job.Run(ctx); err != nil {
		q.log.Error("Background job failed", "job", job.Name, "dataset_id", job.DatasetID, "error", err)
		return
	}
	q.log.Info("Background job finished", "job", job.Name, "dataset_id", job.DatasetID, "duration", time.Since(start))
}
