// Package tools defines the curated tool surface agents can invoke.
// Each tool carries a typed payload; unknown fields are rejected at
// validation so a malformed request fails before any permission or
// ledger work happens.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Tool is the interface every Karibu tool implements.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "finance.refund").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// Validate checks the payload is well-formed. Called before any
	// permission or ledger checks so invalid requests fail fast.
	Validate(payload json.RawMessage) error

	// Execute runs the tool. Errors wrapped with Retryable mark transient
	// failures eligible for re-attempt; everything else is terminal.
	Execute(ctx context.Context, payload json.RawMessage) (*Result, error)
}

// Result is the outcome of a successful tool execution.
type Result struct {
	Output  json.RawMessage `json:"output,omitempty"`
	Summary string          `json:"summary,omitempty"`
}

// retryableError marks a transient failure.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err to mark the failure transient. The task runner
// re-attempts retryable failures with backoff; unwrapped errors are
// terminal and consume the idempotency key.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err (or anything it wraps) was marked
// transient with Retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Registry holds the available tools keyed by name.
// Thread-safe for concurrent reads; writes only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeStrict unmarshals payload into v, rejecting unknown fields.
func decodeStrict(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// marshalOutput encodes a typed result for Result.Output.
func marshalOutput(v any) json.RawMessage {
	out, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return out
}
