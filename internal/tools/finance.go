package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// ChargePayload is the input for finance.charge.
type ChargePayload struct {
	BookingID   string  `json:"booking_id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description,omitempty"`
}

// RefundPayload is the input for finance.refund.
type RefundPayload struct {
	BookingID string  `json:"booking_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Reason    string  `json:"reason"`
}

// PaymentResult is returned by the money-moving operations.
type PaymentResult struct {
	TransactionID string  `json:"transaction_id"`
	BookingID     string  `json:"booking_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
}

// FinanceService is the upstream surface the payment tools call.
type FinanceService interface {
	Charge(ctx context.Context, p ChargePayload) (*PaymentResult, error)
	Refund(ctx context.Context, p RefundPayload) (*PaymentResult, error)
}

// ChargeTool charges a customer for a booking.
type ChargeTool struct {
	svc    FinanceService
	logger *slog.Logger
}

// NewChargeTool creates a finance.charge tool.
func NewChargeTool(svc FinanceService, logger *slog.Logger) *ChargeTool {
	return &ChargeTool{svc: svc, logger: logger}
}

func (t *ChargeTool) Name() string { return "finance.charge" }

func (t *ChargeTool) Description() string {
	return "Charge a customer's payment method for a booking."
}

func (t *ChargeTool) Validate(payload json.RawMessage) error {
	var p ChargePayload
	if err := decodeStrict(payload, &p); err != nil {
		return err
	}
	return validateMoney(p.BookingID, p.Amount, p.Currency)
}

func (t *ChargeTool) Execute(ctx context.Context, payload json.RawMessage) (*Result, error) {
	var p ChargePayload
	if err := decodeStrict(payload, &p); err != nil {
		return nil, err
	}
	res, err := t.svc.Charge(ctx, p)
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "charge processed",
		slog.String("transaction_id", res.TransactionID),
		slog.String("booking_id", p.BookingID),
		slog.Float64("amount", p.Amount),
		slog.String("currency", p.Currency),
	)
	return &Result{
		Output:  marshalOutput(res),
		Summary: fmt.Sprintf("charged %.2f %s for booking %s", p.Amount, p.Currency, p.BookingID),
	}, nil
}

// RefundTool refunds a booking payment. High-risk: moves money back to
// the customer and cannot be reversed on the platform side.
type RefundTool struct {
	svc    FinanceService
	logger *slog.Logger
}

// NewRefundTool creates a finance.refund tool.
func NewRefundTool(svc FinanceService, logger *slog.Logger) *RefundTool {
	return &RefundTool{svc: svc, logger: logger}
}

func (t *RefundTool) Name() string { return "finance.refund" }

func (t *RefundTool) Description() string {
	return "Refund a booking payment back to the customer."
}

func (t *RefundTool) Validate(payload json.RawMessage) error {
	var p RefundPayload
	if err := decodeStrict(payload, &p); err != nil {
		return err
	}
	if err := validateMoney(p.BookingID, p.Amount, p.Currency); err != nil {
		return err
	}
	if p.Reason == "" {
		return fmt.Errorf("reason is required")
	}
	return nil
}

func (t *RefundTool) Execute(ctx context.Context, payload json.RawMessage) (*Result, error) {
	var p RefundPayload
	if err := decodeStrict(payload, &p); err != nil {
		return nil, err
	}
	res, err := t.svc.Refund(ctx, p)
	if err != nil {
		return nil, err
	}
	t.logger.WarnContext(ctx, "refund processed",
		slog.String("transaction_id", res.TransactionID),
		slog.String("booking_id", p.BookingID),
		slog.Float64("amount", p.Amount),
		slog.String("currency", p.Currency),
		slog.String("reason", p.Reason),
	)
	return &Result{
		Output:  marshalOutput(res),
		Summary: fmt.Sprintf("refunded %.2f %s for booking %s", p.Amount, p.Currency, p.BookingID),
	}, nil
}

func validateMoney(bookingID string, amount float64, currency string) error {
	if bookingID == "" {
		return fmt.Errorf("booking_id is required")
	}
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if len(currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter code")
	}
	return nil
}

var (
	_ Tool = (*ChargeTool)(nil)
	_ Tool = (*RefundTool)(nil)
)
