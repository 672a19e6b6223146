package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chavrod/shopwiz/models"
)

type stubBatches struct {
	batch *models.Batch
}

func (s *stubBatches) MostRecentBatch(_ context.Context, _ string) (*models.Batch, error) {
	return s.batch, nil
}

type countingQueue struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (q *countingQueue) Enqueue(query string, _ bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.queries = append(q.queries, query)
	return nil
}

func (q *countingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queries)
}

func newTestCache(store BatchSource, queue Dispatcher) *Cache {
	return New(store, queue, Options{
		ExpiryDays:        10,
		MaxScrapeDuration: 50 * time.Second,
	})
}

func TestCheckFreshBatchServedWithoutDispatch(t *testing.T) {
	queue := &countingQueue{}
	c := newTestCache(&stubBatches{batch: &models.Batch{
		ID:        "b1",
		Query:     "milk",
		CreatedAt: time.Now().Add(-2 * 24 * time.Hour),
	}}, queue)

	result, err := c.Check(context.Background(), "milk")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if result.NeedsRefresh {
		t.Error("NeedsRefresh = true for a two-day-old batch, want false")
	}
	if result.Batch == nil || result.Batch.ID != "b1" {
		t.Errorf("Batch = %+v, want b1", result.Batch)
	}
	if queue.count() != 0 {
		t.Errorf("dispatched %d jobs for fresh batch, want 0", queue.count())
	}
}

func TestCheckUnknownQueryDispatches(t *testing.T) {
	queue := &countingQueue{}
	c := newTestCache(&stubBatches{}, queue)

	result, err := c.Check(context.Background(), "quinoa")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !result.NeedsRefresh || !result.FirstScrape {
		t.Errorf("NeedsRefresh = %v FirstScrape = %v, want both true", result.NeedsRefresh, result.FirstScrape)
	}
	if result.Batch != nil {
		t.Errorf("Batch = %+v, want nil", result.Batch)
	}
	if result.EstimatedWait != 50*time.Second {
		t.Errorf("EstimatedWait = %v, want full scrape duration", result.EstimatedWait)
	}
	if queue.count() != 1 {
		t.Errorf("dispatched %d jobs, want 1", queue.count())
	}
}

func TestCheckStaleBatchServedAndRefreshed(t *testing.T) {
	queue := &countingQueue{}
	stale := &models.Batch{
		ID:        "old",
		Query:     "milk",
		CreatedAt: time.Now().Add(-11 * 24 * time.Hour),
	}
	c := newTestCache(&stubBatches{batch: stale}, queue)

	result, err := c.Check(context.Background(), "milk")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !result.NeedsRefresh {
		t.Error("NeedsRefresh = false for an eleven-day-old batch, want true")
	}
	if result.FirstScrape {
		t.Error("FirstScrape = true with stored batch, want false")
	}
	// Stale data is still served while the refresh runs.
	if result.Batch == nil || result.Batch.ID != "old" {
		t.Errorf("Batch = %+v, want stale batch", result.Batch)
	}
	if queue.count() != 1 {
		t.Errorf("dispatched %d jobs, want 1", queue.count())
	}
}

func TestConcurrentChecksDispatchOnce(t *testing.T) {
	queue := &countingQueue{}
	c := newTestCache(&stubBatches{}, queue)

	const callers = 20
	var wg sync.WaitGroup
	var withWait atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := c.Check(context.Background(), "eggs")
			if err != nil {
				t.Errorf("Check() error = %v", err)
				return
			}
			if result.EstimatedWait > 0 {
				withWait.Add(1)
			}
		}()
	}
	wg.Wait()

	if queue.count() != 1 {
		t.Errorf("dispatched %d jobs across %d concurrent callers, want 1", queue.count(), callers)
	}
	if int(withWait.Load()) != callers {
		t.Errorf("callers with wait estimate = %d, want %d", withWait.Load(), callers)
	}
}

func TestEstimatedWaitShrinksOverTime(t *testing.T) {
	queue := &countingQueue{}
	c := newTestCache(&stubBatches{}, queue)

	first, err := c.Check(context.Background(), "pasta")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	second, err := c.Check(context.Background(), "pasta")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if second.EstimatedWait >= first.EstimatedWait {
		t.Errorf("EstimatedWait did not shrink: first %v, second %v", first.EstimatedWait, second.EstimatedWait)
	}
	if second.EstimatedWait < 0 {
		t.Errorf("EstimatedWait = %v, want non-negative", second.EstimatedWait)
	}
}

func TestMarkerExpiryAllowsRedispatch(t *testing.T) {
	queue := &countingQueue{}
	c := New(&stubBatches{}, queue, Options{
		ExpiryDays:        10,
		MaxScrapeDuration: 40 * time.Millisecond,
	})

	if _, err := c.Check(context.Background(), "bread"); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	// Past the TTL the marker self-heals even though no run completed.
	time.Sleep(80 * time.Millisecond)
	if _, err := c.Check(context.Background(), "bread"); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	if queue.count() != 2 {
		t.Errorf("dispatched %d jobs, want 2 after marker expiry", queue.count())
	}
}

func TestLookupNeverDispatches(t *testing.T) {
	queue := &countingQueue{}
	c := newTestCache(&stubBatches{}, queue)

	result, err := c.Lookup(context.Background(), "quinoa")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !result.NeedsRefresh || !result.FirstScrape {
		t.Errorf("NeedsRefresh = %v FirstScrape = %v, want both true", result.NeedsRefresh, result.FirstScrape)
	}
	if queue.count() != 0 {
		t.Errorf("Lookup() dispatched %d jobs, want 0", queue.count())
	}
}

func TestDispatchReportsWhoStartedTheJob(t *testing.T) {
	queue := &countingQueue{}
	c := newTestCache(&stubBatches{}, queue)

	if _, started := c.Dispatch("eggs"); !started {
		t.Error("first Dispatch() started = false, want true")
	}
	if _, started := c.Dispatch("eggs"); started {
		t.Error("second Dispatch() started = true, want false")
	}
	if queue.count() != 1 {
		t.Errorf("dispatched %d jobs, want 1", queue.count())
	}
}

func TestQueueFullDoesNotFailCheck(t *testing.T) {
	queue := &countingQueue{err: context.DeadlineExceeded}
	c := newTestCache(&stubBatches{}, queue)

	result, err := c.Check(context.Background(), "flour")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !result.NeedsRefresh {
		t.Error("NeedsRefresh = false, want true despite failed dispatch")
	}
}
