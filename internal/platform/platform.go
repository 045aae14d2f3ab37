// Package platform is the HTTP client for the core vendor-management API.
// It implements the upstream service surface the tools call: vendors,
// bookings, calendar, pricing, payments, marketing, support, messaging
// and text completion.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/karibuhq/karibu/internal/tools"
)

const defaultTimeout = 30 * time.Second

// Client calls the core platform API. All methods map HTTP failures to
// the retryable/terminal error taxonomy: network errors, 408, 429 and
// 5xx responses are retryable; other 4xx responses are terminal.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a platform client. baseURL has no trailing slash.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

func (c *Client) CreateVendor(ctx context.Context, p tools.CreateVendorPayload) (*tools.VendorResult, error) {
	var out tools.VendorResult
	if err := c.post(ctx, "/api/v1/vendors", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SuspendVendor(ctx context.Context, p tools.SuspendVendorPayload) (*tools.VendorResult, error) {
	var out tools.VendorResult
	if err := c.post(ctx, "/api/v1/vendors/"+p.VendorID+"/suspend", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateBooking(ctx context.Context, p tools.CreateBookingPayload) (*tools.BookingResult, error) {
	var out tools.BookingResult
	if err := c.post(ctx, "/api/v1/bookings", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelBooking(ctx context.Context, p tools.CancelBookingPayload) (*tools.BookingResult, error) {
	var out tools.BookingResult
	if err := c.post(ctx, "/api/v1/bookings/"+p.BookingID+"/cancel", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SyncCalendar(ctx context.Context, p tools.SyncCalendarPayload) (*tools.SyncCalendarResult, error) {
	var out tools.SyncCalendarResult
	if err := c.post(ctx, "/api/v1/vendors/"+p.VendorID+"/calendar/sync", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdatePricing(ctx context.Context, p tools.UpdatePricingPayload) (*tools.UpdatePricingResult, error) {
	var out tools.UpdatePricingResult
	if err := c.post(ctx, "/api/v1/pricing", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Charge(ctx context.Context, p tools.ChargePayload) (*tools.PaymentResult, error) {
	var out tools.PaymentResult
	if err := c.post(ctx, "/api/v1/payments/charge", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Refund(ctx context.Context, p tools.RefundPayload) (*tools.PaymentResult, error) {
	var out tools.PaymentResult
	if err := c.post(ctx, "/api/v1/payments/refund", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LaunchCampaign(ctx context.Context, p tools.CampaignPayload) (*tools.CampaignResult, error) {
	var out tools.CampaignResult
	if err := c.post(ctx, "/api/v1/campaigns", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) OpenTicket(ctx context.Context, p tools.TicketPayload) (*tools.TicketResult, error) {
	var out tools.TicketResult
	if err := c.post(ctx, "/api/v1/tickets", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendMessage(ctx context.Context, p tools.SendMessagePayload) (*tools.SendMessageResult, error) {
	var out tools.SendMessageResult
	if err := c.post(ctx, "/api/v1/messages", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Complete(ctx context.Context, p tools.CompletePayload) (*tools.CompleteResult, error) {
	var out tools.CompleteResult
	if err := c.post(ctx, "/api/v1/ai/complete", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "Karibu/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures are transient from the caller's view.
		return tools.Retryable(fmt.Errorf("calling %s: %w", path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("platform returned %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(respBody)))
		if retryableStatus(resp.StatusCode) {
			return tools.Retryable(err)
		}
		c.logger.WarnContext(ctx, "platform rejected request",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response from %s: %w", path, err)
		}
	}
	return nil
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

// Compile-time checks that Client satisfies the tool service surface.
var (
	_ tools.VendorService     = (*Client)(nil)
	_ tools.BookingService    = (*Client)(nil)
	_ tools.CalendarService   = (*Client)(nil)
	_ tools.PricingService    = (*Client)(nil)
	_ tools.FinanceService    = (*Client)(nil)
	_ tools.MarketingService  = (*Client)(nil)
	_ tools.SupportService    = (*Client)(nil)
	_ tools.MessagingService  = (*Client)(nil)
	_ tools.CompletionService = (*Client)(nil)
)
