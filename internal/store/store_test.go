package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddIfAbsent_WinnerTakesAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	won, err := s.AddIfAbsent(ctx, "user-1", "job-1", "hash-a")
	if err != nil {
		t.Fatalf("AddIfAbsent: %v", err)
	}
	if !won {
		t.Fatalf("expected first AddIfAbsent to win")
	}

	wonAgain, err := s.AddIfAbsent(ctx, "user-1", "job-1", "hash-a")
	if err != nil {
		t.Fatalf("AddIfAbsent second call: %v", err)
	}
	if wonAgain {
		t.Fatalf("expected second AddIfAbsent for the same hash to lose")
	}

	seen, err := s.Seen(ctx, "user-1", "job-1", "hash-a")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if !seen {
		t.Fatalf("expected hash-a to be seen")
	}
}

func TestAddIfAbsent_ConcurrentSameURLExactlyOneWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wins int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			won, err := s.AddIfAbsent(ctx, "user-1", "job-race", "shared-hash")
			if err != nil {
				t.Errorf("AddIfAbsent: %v", err)
				return
			}
			if won {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins)
	}
}

func TestIncrementProgress_AccumulatesAcrossCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.IncrementProgress(ctx, "user-1", "job-1", ProgressDelta{Discovered: 5, Queued: 3}); err != nil {
		t.Fatalf("IncrementProgress: %v", err)
	}
	if err := s.IncrementProgress(ctx, "user-1", "job-1", ProgressDelta{Queued: 2, Processed: 1}); err != nil {
		t.Fatalf("IncrementProgress: %v", err)
	}

	summary, err := s.GetProgress(ctx, "user-1", "job-1")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if summary.Discovered != 5 || summary.Queued != 5 || summary.Processed != 1 {
		t.Fatalf("unexpected progress summary: %+v", summary)
	}
}

func TestIncrementProgress_ConcurrentIncrementsNeverLost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if err := s.IncrementProgress(ctx, "user-1", "job-sum", ProgressDelta{Processed: 1}); err != nil {
				t.Errorf("IncrementProgress: %v", err)
			}
		}()
	}
	wg.Wait()

	summary, err := s.GetProgress(ctx, "user-1", "job-sum")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if summary.Processed != n {
		t.Fatalf("expected Processed=%d, got %d", n, summary.Processed)
	}
}

func TestIncrementWorkers_ReturnsRunningTotal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.IncrementWorkers(ctx, "user-1", "job-1", 1)
	if err != nil || v != 1 {
		t.Fatalf("expected 1, got %d err=%v", v, err)
	}
	v, err = s.IncrementWorkers(ctx, "user-1", "job-1", 1)
	if err != nil || v != 2 {
		t.Fatalf("expected 2, got %d err=%v", v, err)
	}
	v, err = s.IncrementWorkers(ctx, "user-1", "job-1", -1)
	if err != nil || v != 1 {
		t.Fatalf("expected 1, got %d err=%v", v, err)
	}
}

func TestEnqueueAndPopBatch_FIFOOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	items := []QueueItem{
		{URL: "https://docs.example.com/a", URLHash: "hash-a"},
		{URL: "https://docs.example.com/b", URLHash: "hash-b"},
		{URL: "https://docs.example.com/c", URLHash: "hash-c"},
	}
	if err := s.EnqueueMany(ctx, "user-1", "job-1", items); err != nil {
		t.Fatalf("EnqueueMany: %v", err)
	}

	first, err := s.PopBatch(ctx, "user-1", "job-1", 2)
	if err != nil {
		t.Fatalf("PopBatch: %v", err)
	}
	if len(first) != 2 || first[0].URLHash != "hash-a" || first[1].URLHash != "hash-b" {
		t.Fatalf("unexpected first batch: %+v", first)
	}

	second, err := s.PopBatch(ctx, "user-1", "job-1", 2)
	if err != nil {
		t.Fatalf("PopBatch: %v", err)
	}
	if len(second) != 1 || second[0].URLHash != "hash-c" {
		t.Fatalf("unexpected second batch: %+v", second)
	}

	empty, err := s.PopBatch(ctx, "user-1", "job-1", 2)
	if err != nil {
		t.Fatalf("PopBatch on empty queue: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty batch, got %+v", empty)
	}
}

func TestPopBatch_ConcurrentPoppersNeverShareAnItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const total = 100
	items := make([]QueueItem, total)
	for i := range items {
		items[i] = QueueItem{URL: fmt.Sprintf("https://docs.example.com/%d", i), URLHash: fmt.Sprintf("hash-%d", i)}
	}
	if err := s.EnqueueMany(ctx, "user-1", "job-fan", items); err != nil {
		t.Fatalf("EnqueueMany: %v", err)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := s.PopBatch(ctx, "user-1", "job-fan", 7)
				if err != nil {
					t.Errorf("PopBatch: %v", err)
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, qi := range batch {
					seen[qi.URLHash]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct items popped, got %d", total, len(seen))
	}
	for hash, count := range seen {
		if count != 1 {
			t.Fatalf("item %s popped %d times, want 1", hash, count)
		}
	}
}

func TestAppendEvent_AssignsMonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e1, err := s.AppendEvent(ctx, "user-1", "job-1", "page.discovered", nil)
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	e2, err := s.AppendEvent(ctx, "user-1", "job-1", "page.processed", nil)
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if e1.ID != 1 || e2.ID != 2 {
		t.Fatalf("expected sequential ids 1,2; got %d,%d", e1.ID, e2.ID)
	}
}

func TestEventsSince_ResumeWithoutGapsOrRepeats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var last Event
	for i := 0; i < 5; i++ {
		ev, err := s.AppendEvent(ctx, "user-1", "job-1", "page.processed", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
		if err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		last = ev
	}

	resumed, err := s.EventsSince(ctx, "user-1", "job-1", 2)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(resumed) != 3 {
		t.Fatalf("expected 3 events after cursor 2, got %d", len(resumed))
	}
	for i, ev := range resumed {
		want := uint64(3 + i)
		if ev.ID != want {
			t.Fatalf("event %d: expected id %d, got %d", i, want, ev.ID)
		}
	}
	if resumed[len(resumed)-1].ID != last.ID {
		t.Fatalf("expected last resumed event to be the most recent append")
	}

	none, err := s.EventsSince(ctx, "user-1", "job-1", last.ID)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no events past the latest id, got %d", len(none))
	}
}

func TestAwaitEvents_WakesOnAppend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	type result struct {
		events []Event
		err    error
	}
	done := make(chan result, 1)
	go func() {
		events, err := s.AwaitEvents(ctx, "user-1", "job-1", 0, 2*time.Second)
		done <- result{events, err}
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := s.AppendEvent(ctx, "user-1", "job-1", "job.started", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("AwaitEvents: %v", r.err)
		}
		if len(r.events) != 1 || r.events[0].Kind != "job.started" {
			t.Fatalf("unexpected woken events: %+v", r.events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitEvents did not wake within timeout")
	}
}

func TestAwaitEvents_TimesOutWithoutEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Now()
	events, err := s.AwaitEvents(ctx, "user-1", "job-idle", 0, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("AwaitEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatalf("expected AwaitEvents to wait out the timeout")
	}
}

func TestComplete_ExactlyOneWinnerAmongConcurrentCallers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 10
	var wins int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			won, status, err := s.Complete(ctx, "user-1", "job-race", "completed", json.RawMessage(fmt.Sprintf(`{"caller":%d}`, i)))
			if err != nil {
				t.Errorf("Complete: %v", err)
				return
			}
			if status != "completed" {
				t.Errorf("expected winning status 'completed', got %q", status)
			}
			if won {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins)
	}

	complete, status, err := s.IsComplete(ctx, "user-1", "job-race")
	if err != nil {
		t.Fatalf("IsComplete: %v", err)
	}
	if !complete || status != "completed" {
		t.Fatalf("expected job-race complete with status 'completed', got complete=%v status=%q", complete, status)
	}
}

func TestComplete_SecondDistinctStatusLosesToFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	won1, status1, err := s.Complete(ctx, "user-1", "job-1", "completed", nil)
	if err != nil || !won1 || status1 != "completed" {
		t.Fatalf("expected first caller to win with 'completed', got won=%v status=%q err=%v", won1, status1, err)
	}

	won2, status2, err := s.Complete(ctx, "user-1", "job-1", "failed", nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if won2 {
		t.Fatalf("expected second caller to lose")
	}
	if status2 != "completed" {
		t.Fatalf("expected losing caller to observe winning status 'completed', got %q", status2)
	}
}
