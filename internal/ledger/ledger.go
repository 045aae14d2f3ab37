// Package ledger implements the replay-safe idempotency ledger.
// A ledger record maps (tool, idempotency key) to a cached outcome; the
// uniqueness of that pair while unexpired is the invariant that gives
// financial tools exactly-once effect under retries and concurrent callers.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Sentinel errors.
var (
	// ErrIdempotencyConflict is returned when a key is reused with a
	// different payload. Client error, never a retry signal.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")

	// ErrInFlight is returned when another caller holds the reservation
	// for the same key and has not committed within the wait window.
	// Eligible for retry.
	ErrInFlight = errors.New("invocation with this idempotency key is in flight")

	// ErrRecordNotFound is returned by stores for missing records.
	ErrRecordNotFound = errors.New("ledger record not found")
)

// OutcomeStatus is the terminal status stored for an invocation.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome is the cached result of a terminal invocation. Failed outcomes
// are stored too, so a retried failing call does not re-attempt a
// non-idempotent side effect.
type Outcome struct {
	Status OutcomeStatus   `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Record is a single ledger entry. Pending records are reservations taken
// before execution; committed records are immutable until expiry.
type Record struct {
	Tool        string
	Key         string
	Fingerprint string
	Committed   bool
	Outcome     Outcome
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Disposition is the result of Begin.
type Disposition int

const (
	// Fresh: no record exists, the caller holds the reservation and must
	// Commit or Abort.
	Fresh Disposition = iota
	// Cached: a committed record with a matching fingerprint exists; the
	// caller must not re-execute the underlying operation.
	Cached
)

// BeginResult carries the disposition and, for Cached, the stored outcome.
type BeginResult struct {
	Disposition Disposition
	Fingerprint string
	Outcome     *Outcome
}

// Store persists ledger records. Implementations must make InsertPending
// an atomic insert-if-absent so that of two concurrent callers presenting
// the same key, exactly one inserts.
type Store interface {
	// InsertPending inserts a pending record unless an unexpired record
	// for (tool, key) already exists. Returns (nil, true, nil) on insert,
	// (existing, false, nil) when a record exists.
	InsertPending(ctx context.Context, rec Record) (existing *Record, inserted bool, err error)
	// Get returns the unexpired record for (tool, key), or ErrRecordNotFound.
	Get(ctx context.Context, tool, key string) (*Record, error)
	// Commit marks the pending record committed with the given outcome.
	Commit(ctx context.Context, tool, key, fingerprint string, outcome Outcome) error
	// Delete removes the record for (tool, key). Used to release a
	// reservation after a retryable failure.
	Delete(ctx context.Context, tool, key string) error
	// DeleteExpired removes records whose ExpiresAt has passed.
	// Returns the number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Config tunes ledger behavior.
type Config struct {
	TTL           time.Duration // Record lifetime. Default: 24h.
	InFlightWait  time.Duration // How long Begin waits on a pending record. Default: 2s.
	InFlightPoll  time.Duration // Poll interval while waiting. Default: 50ms.
	SweepInterval time.Duration // GC cadence for Run. Default: 10m.
}

func (c Config) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return 24 * time.Hour
}

func (c Config) inFlightWait() time.Duration {
	if c.InFlightWait > 0 {
		return c.InFlightWait
	}
	return 2 * time.Second
}

func (c Config) inFlightPoll() time.Duration {
	if c.InFlightPoll > 0 {
		return c.InFlightPoll
	}
	return 50 * time.Millisecond
}

func (c Config) sweepInterval() time.Duration {
	if c.SweepInterval > 0 {
		return c.SweepInterval
	}
	return 10 * time.Minute
}

// Ledger coordinates Begin/Commit/Abort around a Store.
type Ledger struct {
	store  Store
	config Config
	logger *slog.Logger
}

// New creates a Ledger.
func New(store Store, cfg Config, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, config: cfg, logger: logger}
}

// Begin starts an idempotent invocation. The payload fingerprint guards
// against key reuse across logically different operations: a matching
// record with a different fingerprint is a conflict, not a cache hit.
func (l *Ledger) Begin(ctx context.Context, tool, key string, payload json.RawMessage) (*BeginResult, error) {
	fp := Fingerprint(payload)
	now := time.Now().UTC()

	existing, inserted, err := l.store.InsertPending(ctx, Record{
		Tool:        tool,
		Key:         key,
		Fingerprint: fp,
		CreatedAt:   now,
		ExpiresAt:   now.Add(l.config.ttl()),
	})
	if err != nil {
		return nil, fmt.Errorf("reserving ledger record: %w", err)
	}
	if inserted {
		return &BeginResult{Disposition: Fresh, Fingerprint: fp}, nil
	}

	if existing.Fingerprint != fp {
		return nil, fmt.Errorf("%w: tool=%s key=%s", ErrIdempotencyConflict, tool, key)
	}
	if existing.Committed {
		outcome := existing.Outcome
		return &BeginResult{Disposition: Cached, Fingerprint: fp, Outcome: &outcome}, nil
	}

	// Another caller holds the reservation. Wait briefly for its commit
	// so concurrent duplicates observe the cached outcome instead of
	// re-executing.
	return l.awaitCommit(ctx, tool, key, fp)
}

// Commit persists the terminal outcome for a reservation taken by Begin.
// Both successes and terminal failures are committed; retryable failures
// must call Abort instead so a resubmission observes Fresh.
func (l *Ledger) Commit(ctx context.Context, tool, key, fingerprint string, outcome Outcome) error {
	if err := l.store.Commit(ctx, tool, key, fingerprint, outcome); err != nil {
		return fmt.Errorf("committing ledger record: %w", err)
	}
	return nil
}

// Abort releases a reservation without recording an outcome.
func (l *Ledger) Abort(ctx context.Context, tool, key string) error {
	if err := l.store.Delete(ctx, tool, key); err != nil && !errors.Is(err, ErrRecordNotFound) {
		return fmt.Errorf("releasing ledger reservation: %w", err)
	}
	return nil
}

// Sweep removes expired records. Safe to call concurrently with Begin.
func (l *Ledger) Sweep(ctx context.Context) (int64, error) {
	n, err := l.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweeping expired ledger records: %w", err)
	}
	if n > 0 {
		l.logger.InfoContext(ctx, "ledger sweep removed expired records", slog.Int64("count", n))
	}
	return n, nil
}

// Run sweeps periodically until ctx is canceled.
func (l *Ledger) Run(ctx context.Context) {
	ticker := time.NewTicker(l.config.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Sweep(ctx); err != nil {
				l.logger.WarnContext(ctx, "ledger sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (l *Ledger) awaitCommit(ctx context.Context, tool, key, fp string) (*BeginResult, error) {
	deadline := time.Now().Add(l.config.inFlightWait())
	ticker := time.NewTicker(l.config.inFlightPoll())
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		rec, err := l.store.Get(ctx, tool, key)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				// The holder aborted: its failure was retryable. Report
				// in-flight and let the caller resubmit to observe Fresh.
				return nil, ErrInFlight
			}
			return nil, fmt.Errorf("polling ledger record: %w", err)
		}
		if rec.Committed {
			outcome := rec.Outcome
			return &BeginResult{Disposition: Cached, Fingerprint: fp, Outcome: &outcome}, nil
		}
	}
	return nil, fmt.Errorf("%w: tool=%s key=%s", ErrInFlight, tool, key)
}

// Fingerprint computes the SHA-256 hash of the normalized payload.
// Normalization sorts object keys recursively so that two JSON encodings
// of the same value fingerprint identically.
func Fingerprint(payload json.RawMessage) string {
	sum := sha256.Sum256(normalizeJSON(payload))
	return hex.EncodeToString(sum[:])
}

func normalizeJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		// Not valid JSON: fingerprint the raw bytes.
		return raw
	}
	out, err := json.Marshal(sortValue(v))
	if err != nil {
		return raw
	}
	return out
}

// sortValue rebuilds the value with deterministically ordered maps.
// encoding/json marshals map keys in sorted order, so recursion only
// needs to reach nested maps inside slices.
func sortValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := make(map[string]any, len(t))
		for _, k := range keys {
			m[k] = sortValue(t[k])
		}
		return m
	case []any:
		for i := range t {
			t[i] = sortValue(t[i])
		}
		return t
	default:
		return v
	}
}
