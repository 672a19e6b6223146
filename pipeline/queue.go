package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueClosed is returned when Enqueue is called after shutdown.
var ErrQueueClosed = errors.New("pipeline: queue closed")

// ErrQueueFull is returned when the job buffer has no room. Dispatch is
// best-effort; the caller's in-flight marker expires and a later request
// retries.
var ErrQueueFull = errors.New("pipeline: queue full")

type job struct {
	query        string
	relevantOnly bool
}

// Queue runs scrape jobs on a fixed pool of workers.
type Queue struct {
	runner *Runner
	jobs   chan job
	logger *slog.Logger

	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
	shutdown  chan struct{}
}

// NewQueue builds a queue with the given buffer size.
func NewQueue(runner *Runner, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		runner:   runner,
		jobs:     make(chan job, size),
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

// Start launches worker goroutines that drain the queue until Close.
func (q *Queue) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Enqueue submits a scrape job without blocking.
func (q *Queue) Enqueue(query string, relevantOnly bool) (err error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}

	// A concurrent Close can close the channel between the check above and
	// the send below.
	defer func() {
		if r := recover(); r != nil {
			err = ErrQueueClosed
		}
	}()

	select {
	case q.jobs <- job{query: query, relevantOnly: relevantOnly}:
		return nil
	case <-q.shutdown:
		return ErrQueueClosed
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for in-flight runs to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.closeOnce.Do(func() {
		close(q.shutdown)
		close(q.jobs)
	})
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for j := range q.jobs {
		if ctx.Err() != nil {
			return
		}
		if _, err := q.runner.Run(ctx, j.query, j.relevantOnly); err != nil {
			q.logger.Error("scrape job failed",
				slog.String("query", j.query),
				slog.Any("error", err))
		}
	}
}
