package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLedger(cfg Config) *Ledger {
	return New(NewMemoryStore(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBegin_FreshThenCached(t *testing.T) {
	ctx := context.Background()
	l := testLedger(Config{})
	payload := json.RawMessage(`{"booking_id":"789","amount":120.5}`)

	res, err := l.Begin(ctx, "finance.refund", "K1", payload)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if res.Disposition != Fresh {
		t.Fatalf("first begin disposition = %v, want Fresh", res.Disposition)
	}

	outcome := Outcome{Status: OutcomeSuccess, Result: json.RawMessage(`{"refund_id":"r-1"}`)}
	if err := l.Commit(ctx, "finance.refund", "K1", res.Fingerprint, outcome); err != nil {
		t.Fatalf("commit: %v", err)
	}

	res2, err := l.Begin(ctx, "finance.refund", "K1", payload)
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}
	if res2.Disposition != Cached {
		t.Fatalf("second begin disposition = %v, want Cached", res2.Disposition)
	}
	if string(res2.Outcome.Result) != `{"refund_id":"r-1"}` {
		t.Errorf("cached result = %s", res2.Outcome.Result)
	}
}

func TestBegin_ConflictOnDifferentPayload(t *testing.T) {
	ctx := context.Background()
	l := testLedger(Config{})

	res, err := l.Begin(ctx, "finance.refund", "K1", json.RawMessage(`{"amount":10}`))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_ = l.Commit(ctx, "finance.refund", "K1", res.Fingerprint, Outcome{Status: OutcomeSuccess})

	_, err = l.Begin(ctx, "finance.refund", "K1", json.RawMessage(`{"amount":9999}`))
	if !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got: %v", err)
	}
}

func TestBegin_FailedOutcomeIsCachedToo(t *testing.T) {
	ctx := context.Background()
	l := testLedger(Config{})
	payload := json.RawMessage(`{"vendor":"v1"}`)

	res, _ := l.Begin(ctx, "vendors.suspend", "K2", payload)
	_ = l.Commit(ctx, "vendors.suspend", "K2", res.Fingerprint, Outcome{
		Status: OutcomeFailed,
		Error:  "vendor already suspended",
	})

	res2, err := l.Begin(ctx, "vendors.suspend", "K2", payload)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if res2.Disposition != Cached || res2.Outcome.Status != OutcomeFailed {
		t.Fatalf("terminal failure must be served from cache, got %+v", res2)
	}
}

func TestAbort_ReleasesReservation(t *testing.T) {
	ctx := context.Background()
	l := testLedger(Config{InFlightWait: 100 * time.Millisecond, InFlightPoll: 10 * time.Millisecond})
	payload := json.RawMessage(`{"x":1}`)

	if _, err := l.Begin(ctx, "bookings.create", "K3", payload); err != nil {
		t.Fatalf("begin: %v", err)
	}
	// Retryable failure path: release without committing.
	if err := l.Abort(ctx, "bookings.create", "K3"); err != nil {
		t.Fatalf("abort: %v", err)
	}

	// Resubmission observes Fresh again.
	res, err := l.Begin(ctx, "bookings.create", "K3", payload)
	if err != nil {
		t.Fatalf("begin after abort: %v", err)
	}
	if res.Disposition != Fresh {
		t.Fatalf("disposition after abort = %v, want Fresh", res.Disposition)
	}
}

func TestBegin_ConcurrentCallersExactlyOneFresh(t *testing.T) {
	ctx := context.Background()
	l := testLedger(Config{InFlightWait: 2 * time.Second, InFlightPoll: 5 * time.Millisecond})
	payload := json.RawMessage(`{"booking_id":"789"}`)

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan *BeginResult, callers)
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Begin(ctx, "bookings.create", "K4", payload)
			if err != nil {
				errs <- err
				return
			}
			if res.Disposition == Fresh {
				// Simulate execution then commit so waiters observe Cached.
				time.Sleep(20 * time.Millisecond)
				_ = l.Commit(ctx, "bookings.create", "K4", res.Fingerprint, Outcome{Status: OutcomeSuccess})
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected begin error: %v", err)
	}

	fresh, cached := 0, 0
	for res := range results {
		switch res.Disposition {
		case Fresh:
			fresh++
		case Cached:
			cached++
		}
	}
	if fresh != 1 {
		t.Errorf("fresh observers = %d, want exactly 1", fresh)
	}
	if cached != callers-1 {
		t.Errorf("cached observers = %d, want %d", cached, callers-1)
	}
}

func TestSweep_RemovesExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := New(store, Config{TTL: time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := l.Begin(ctx, "pricing.update", "K5", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_ = l.Commit(ctx, "pricing.update", "K5", res.Fingerprint, Outcome{Status: OutcomeSuccess})

	time.Sleep(5 * time.Millisecond)
	n, err := l.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d records, want 1", n)
	}

	// Expired key is treated as fresh.
	res2, err := l.Begin(ctx, "pricing.update", "K5", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("begin after expiry: %v", err)
	}
	if res2.Disposition != Fresh {
		t.Errorf("disposition after expiry = %v, want Fresh", res2.Disposition)
	}
}

func TestFingerprint_NormalizesKeyOrder(t *testing.T) {
	a := Fingerprint(json.RawMessage(`{"a":1,"b":{"c":2,"d":3}}`))
	b := Fingerprint(json.RawMessage(`{"b":{"d":3,"c":2},"a":1}`))
	if a != b {
		t.Error("fingerprints of equivalent JSON must match")
	}

	c := Fingerprint(json.RawMessage(`{"a":1,"b":{"c":2,"d":4}}`))
	if a == c {
		t.Error("fingerprints of different payloads must differ")
	}
}

func TestFingerprint_EmptyPayload(t *testing.T) {
	if Fingerprint(nil) != Fingerprint(json.RawMessage(`null`)) {
		t.Error("nil payload should fingerprint as null")
	}
}
