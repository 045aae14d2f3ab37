package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testQueue() (*Queue, *MemoryStore) {
	store := NewMemoryStore()
	return NewQueue(store, nil, discard), store
}

func TestEnqueue_Dedupe(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue()
	agentID := uuid.New()

	first, created, err := q.Enqueue(ctx, EnqueueRequest{
		AgentID: agentID,
		Tool:    "calendar.sync",
		Payload: json.RawMessage(`{"vendor_id":"v1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !created {
		t.Fatal("first enqueue must create")
	}

	// Identical payload without an explicit key dedupes to the same task.
	second, created, err := q.Enqueue(ctx, EnqueueRequest{
		AgentID: agentID,
		Tool:    "calendar.sync",
		Payload: json.RawMessage(`{"vendor_id":"v1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}
	if created {
		t.Fatal("duplicate enqueue must not create")
	}
	if second.ID != first.ID {
		t.Errorf("duplicate returned different task: %s != %s", second.ID, first.ID)
	}

	// A different payload is a new task.
	_, created, err = q.Enqueue(ctx, EnqueueRequest{
		AgentID: agentID,
		Tool:    "calendar.sync",
		Payload: json.RawMessage(`{"vendor_id":"v2"}`),
	})
	if err != nil {
		t.Fatalf("enqueue different: %v", err)
	}
	if !created {
		t.Fatal("different payload must create")
	}
}

func TestEnqueue_DedupeReleasedAfterTerminal(t *testing.T) {
	ctx := context.Background()
	q, store := testQueue()
	agentID := uuid.New()

	first, _, err := q.Enqueue(ctx, EnqueueRequest{AgentID: agentID, Tool: "support.ticket", IdempotencyKey: "K1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Complete(ctx, first.ID, StatusSuccess, ""); err != nil {
		t.Fatal(err)
	}

	_, created, err := q.Enqueue(ctx, EnqueueRequest{AgentID: agentID, Tool: "support.ticket", IdempotencyKey: "K1"})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("terminal tasks must not block re-enqueue")
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	q, store := testQueue()

	task, _, err := q.Enqueue(ctx, EnqueueRequest{AgentID: uuid.New(), Tool: "marketing.campaign", IdempotencyKey: "K1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Cancel(ctx, task.ID, "campaign scrapped"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, err := q.Get(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusDead || got.CancelReason != "campaign scrapped" {
		t.Errorf("task = %+v, want DEAD with cancel reason", got)
	}

	// Claimed tasks are not cancellable.
	task2, _, _ := q.Enqueue(ctx, EnqueueRequest{AgentID: uuid.New(), Tool: "marketing.campaign", IdempotencyKey: "K2"})
	if _, err := store.ClaimDue(ctx, "w1", 10, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	if err := q.Cancel(ctx, task2.ID, "too late"); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got: %v", err)
	}
}

func TestClaimDue_NoDoubleClaim(t *testing.T) {
	ctx := context.Background()
	q, store := testQueue()

	const total = 40
	for i := 0; i < total; i++ {
		if _, _, err := q.Enqueue(ctx, EnqueueRequest{
			AgentID:        uuid.New(),
			Tool:           "messaging.send",
			IdempotencyKey: uuid.NewString(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	// Several workers claim concurrently; claims must partition the queue.
	var mu sync.Mutex
	seen := make(map[uuid.UUID]string)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		worker := string(rune('a' + w))
		go func() {
			defer wg.Done()
			for {
				claimed, err := store.ClaimDue(ctx, worker, 5, time.Now().UTC())
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, task := range claimed {
					if prev, dup := seen[task.ID]; dup {
						t.Errorf("task %s claimed by both %s and %s", task.ID, prev, worker)
					}
					seen[task.ID] = worker
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Errorf("claimed %d tasks, want %d", len(seen), total)
	}
}

func TestClaimDue_RespectsNotBefore(t *testing.T) {
	ctx := context.Background()
	q, store := testQueue()

	if _, _, err := q.Enqueue(ctx, EnqueueRequest{
		AgentID:        uuid.New(),
		Tool:           "calendar.sync",
		IdempotencyKey: "K1",
		NotBefore:      time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	claimed, err := store.ClaimDue(ctx, "w1", 10, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed %d tasks before NotBefore", len(claimed))
	}
}

func TestReclaimStale(t *testing.T) {
	ctx := context.Background()
	q, store := testQueue()

	task, _, _ := q.Enqueue(ctx, EnqueueRequest{AgentID: uuid.New(), Tool: "calendar.sync", IdempotencyKey: "K1"})
	claimed, err := store.ClaimDue(ctx, "crashed-worker", 1, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d tasks, want 1", len(claimed))
	}

	// The worker never finishes. A cutoff past the claim time makes the
	// claim stale and hands the task back to the queue.
	n, err := store.ReclaimStale(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d, want 1", n)
	}

	got, _ := q.Get(ctx, task.ID)
	if got.Status != StatusQueued || got.ClaimedBy != "" {
		t.Errorf("reclaimed task = %+v, want QUEUED with no claimant", got)
	}
}

func TestList_Filters(t *testing.T) {
	ctx := context.Background()
	q, _ := testQueue()
	agentA := uuid.New()

	q.Enqueue(ctx, EnqueueRequest{AgentID: agentA, Tool: "bookings.create", IdempotencyKey: "K1"})
	q.Enqueue(ctx, EnqueueRequest{AgentID: agentA, Tool: "bookings.cancel", IdempotencyKey: "K2"})
	q.Enqueue(ctx, EnqueueRequest{AgentID: uuid.New(), Tool: "bookings.create", IdempotencyKey: "K3"})

	byAgent, err := q.List(ctx, Filter{AgentID: agentA})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAgent) != 2 {
		t.Errorf("agent filter returned %d tasks, want 2", len(byAgent))
	}

	byTool, err := q.List(ctx, Filter{Tool: "bookings.create"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byTool) != 2 {
		t.Errorf("tool filter returned %d tasks, want 2", len(byTool))
	}
}
