package platform

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/karibuhq/karibu/internal/tools"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRefund_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/payments/refund" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var p tools.RefundPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(tools.PaymentResult{
			TransactionID: "tx-1",
			BookingID:     p.BookingID,
			Amount:        p.Amount,
			Currency:      p.Currency,
			Status:        "refunded",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", discard)
	res, err := c.Refund(context.Background(), tools.RefundPayload{
		BookingID: "b1", Amount: 50, Currency: "USD", Reason: "cancelled",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if res.Status != "refunded" || res.TransactionID != "tx-1" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name          string
		status        int
		wantRetryable bool
	}{
		{"bad request is terminal", http.StatusBadRequest, false},
		{"conflict is terminal", http.StatusConflict, false},
		{"timeout is retryable", http.StatusRequestTimeout, true},
		{"rate limited is retryable", http.StatusTooManyRequests, true},
		{"server error is retryable", http.StatusBadGateway, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "k", discard)
			_, err := c.CreateVendor(context.Background(), tools.CreateVendorPayload{Name: "v", ContactEmail: "v@example.com"})
			if err == nil {
				t.Fatal("expected error")
			}
			if tools.IsRetryable(err) != tc.wantRetryable {
				t.Errorf("IsRetryable = %v, want %v (err: %v)", tools.IsRetryable(err), tc.wantRetryable, err)
			}
		})
	}
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // Connection refused from here on.

	c := NewClient(srv.URL, "k", discard)
	_, err := c.SendMessage(context.Background(), tools.SendMessagePayload{
		Recipient: "a@example.com", Channel: "email", Body: "hi",
	})
	if !tools.IsRetryable(err) {
		t.Fatalf("network failure must be retryable, got: %v", err)
	}
}
