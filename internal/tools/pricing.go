package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// UpdatePricingPayload is the input for pricing.update.
type UpdatePricingPayload struct {
	VendorID string `json:"vendor_id"`
	TourID   string `json:"tour_id,omitempty"` // Empty applies to all of the vendor's tours.
	Currency string `json:"currency"`
	Amount   float64 `json:"amount"`
}

// UpdatePricingResult reports the new published price.
type UpdatePricingResult struct {
	VendorID string  `json:"vendor_id"`
	TourID   string  `json:"tour_id,omitempty"`
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
}

// PricingService is the upstream surface the pricing tool calls.
type PricingService interface {
	UpdatePricing(ctx context.Context, p UpdatePricingPayload) (*UpdatePricingResult, error)
}

// UpdatePricingTool publishes a new price for a vendor's tour.
type UpdatePricingTool struct {
	svc    PricingService
	logger *slog.Logger
}

// NewUpdatePricingTool creates a pricing.update tool.
func NewUpdatePricingTool(svc PricingService, logger *slog.Logger) *UpdatePricingTool {
	return &UpdatePricingTool{svc: svc, logger: logger}
}

func (t *UpdatePricingTool) Name() string { return "pricing.update" }

func (t *UpdatePricingTool) Description() string {
	return "Publish a new price for a vendor's tour listing."
}

func (t *UpdatePricingTool) Validate(payload json.RawMessage) error {
	var p UpdatePricingPayload
	if err := decodeStrict(payload, &p); err != nil {
		return err
	}
	if p.VendorID == "" {
		return fmt.Errorf("vendor_id is required")
	}
	if len(p.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter code")
	}
	if p.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

func (t *UpdatePricingTool) Execute(ctx context.Context, payload json.RawMessage) (*Result, error) {
	var p UpdatePricingPayload
	if err := decodeStrict(payload, &p); err != nil {
		return nil, err
	}
	res, err := t.svc.UpdatePricing(ctx, p)
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "pricing updated",
		slog.String("vendor_id", p.VendorID),
		slog.String("currency", p.Currency),
		slog.Float64("amount", p.Amount),
	)
	return &Result{
		Output:  marshalOutput(res),
		Summary: fmt.Sprintf("updated pricing for vendor %s to %.2f %s", p.VendorID, p.Amount, p.Currency),
	}, nil
}

var _ Tool = (*UpdatePricingTool)(nil)
