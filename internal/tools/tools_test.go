package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeFinance struct {
	refunds int
}

func (f *fakeFinance) Charge(_ context.Context, p ChargePayload) (*PaymentResult, error) {
	return &PaymentResult{TransactionID: "tx-1", BookingID: p.BookingID, Amount: p.Amount, Currency: p.Currency, Status: "captured"}, nil
}

func (f *fakeFinance) Refund(_ context.Context, p RefundPayload) (*PaymentResult, error) {
	f.refunds++
	return &PaymentResult{TransactionID: "tx-2", BookingID: p.BookingID, Amount: p.Amount, Currency: p.Currency, Status: "refunded"}, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewRefundTool(&fakeFinance{}, discard))
	reg.Register(NewChargeTool(&fakeFinance{}, discard))

	if got := reg.Get("finance.refund"); got == nil {
		t.Fatal("registered tool not found")
	}
	if got := reg.Get("nonexistent"); got != nil {
		t.Fatal("unknown tool should return nil")
	}

	names := reg.List()
	if len(names) != 2 || names[0] != "finance.charge" || names[1] != "finance.refund" {
		t.Errorf("List() = %v, want sorted [finance.charge finance.refund]", names)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	reg := NewRegistry()
	reg.Register(NewChargeTool(&fakeFinance{}, discard))
	reg.Register(NewChargeTool(&fakeFinance{}, discard))
}

func TestValidate_RejectsUnknownFields(t *testing.T) {
	tool := NewRefundTool(&fakeFinance{}, discard)
	err := tool.Validate(json.RawMessage(`{"booking_id":"b1","amount":10,"currency":"USD","reason":"dup","extra":true}`))
	if err == nil {
		t.Fatal("unknown field must be rejected")
	}
}

func TestValidate_Cases(t *testing.T) {
	fin := &fakeFinance{}
	cases := []struct {
		name    string
		tool    Tool
		payload string
		wantErr bool
	}{
		{"refund ok", NewRefundTool(fin, discard), `{"booking_id":"b1","amount":50,"currency":"USD","reason":"dup charge"}`, false},
		{"refund missing reason", NewRefundTool(fin, discard), `{"booking_id":"b1","amount":50,"currency":"USD"}`, true},
		{"refund negative amount", NewRefundTool(fin, discard), `{"booking_id":"b1","amount":-1,"currency":"USD","reason":"x"}`, true},
		{"refund bad currency", NewRefundTool(fin, discard), `{"booking_id":"b1","amount":1,"currency":"DOLLARS","reason":"x"}`, true},
		{"charge ok", NewChargeTool(fin, discard), `{"booking_id":"b1","amount":120.5,"currency":"EUR"}`, false},
		{"charge empty payload", NewChargeTool(fin, discard), ``, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tool.Validate(json.RawMessage(tc.payload))
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestBookingValidate_Date(t *testing.T) {
	tool := NewCreateBookingTool(nil, discard)
	good := `{"vendor_id":"v1","customer_name":"Asha","customer_email":"asha@example.com","tour_date":"2026-09-01","party_size":2}`
	if err := tool.Validate(json.RawMessage(good)); err != nil {
		t.Errorf("valid booking rejected: %v", err)
	}
	bad := `{"vendor_id":"v1","customer_name":"Asha","customer_email":"asha@example.com","tour_date":"01/09/2026","party_size":2}`
	if err := tool.Validate(json.RawMessage(bad)); err == nil {
		t.Error("non-ISO date must be rejected")
	}
}

func TestExecute_Refund(t *testing.T) {
	fin := &fakeFinance{}
	tool := NewRefundTool(fin, discard)
	payload := json.RawMessage(`{"booking_id":"b9","amount":75,"currency":"USD","reason":"tour cancelled"}`)

	res, err := tool.Execute(context.Background(), payload)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if fin.refunds != 1 {
		t.Errorf("refund calls = %d, want 1", fin.refunds)
	}

	var out PaymentResult
	if err := json.Unmarshal(res.Output, &out); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if out.Status != "refunded" || out.BookingID != "b9" {
		t.Errorf("unexpected output: %+v", out)
	}
	if res.Summary == "" {
		t.Error("summary should not be empty")
	}
}

func TestRetryable(t *testing.T) {
	base := fmt.Errorf("connection reset")
	wrapped := Retryable(base)
	if !IsRetryable(wrapped) {
		t.Error("wrapped error must report retryable")
	}
	if !IsRetryable(fmt.Errorf("dispatch: %w", wrapped)) {
		t.Error("retryable must survive further wrapping")
	}
	if IsRetryable(base) {
		t.Error("plain error must not report retryable")
	}
	if !errors.Is(wrapped, base) {
		t.Error("Unwrap must reach the base error")
	}
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) must be nil")
	}
}
