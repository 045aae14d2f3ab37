package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// CreateBookingPayload is the input for bookings.create.
type CreateBookingPayload struct {
	VendorID      string `json:"vendor_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	TourDate      string `json:"tour_date"` // YYYY-MM-DD
	PartySize     int    `json:"party_size"`
	Notes         string `json:"notes,omitempty"`
}

// CancelBookingPayload is the input for bookings.cancel.
type CancelBookingPayload struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason,omitempty"`
}

// BookingResult is returned by the booking operations.
type BookingResult struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

// BookingService is the upstream surface the booking tools call.
type BookingService interface {
	CreateBooking(ctx context.Context, p CreateBookingPayload) (*BookingResult, error)
	CancelBooking(ctx context.Context, p CancelBookingPayload) (*BookingResult, error)
}

// CreateBookingTool places a booking with a vendor.
type CreateBookingTool struct {
	svc    BookingService
	logger *slog.Logger
}

// NewCreateBookingTool creates a bookings.create tool.
func NewCreateBookingTool(svc BookingService, logger *slog.Logger) *CreateBookingTool {
	return &CreateBookingTool{svc: svc, logger: logger}
}

func (t *CreateBookingTool) Name() string { return "bookings.create" }

func (t *CreateBookingTool) Description() string {
	return "Place a tour booking for a customer with a specific vendor and date."
}

func (t *CreateBookingTool) Validate(payload json.RawMessage) error {
	var p CreateBookingPayload
	if err := decodeStrict(payload, &p); err != nil {
		return err
	}
	if p.VendorID == "" {
		return fmt.Errorf("vendor_id is required")
	}
	if p.CustomerName == "" || p.CustomerEmail == "" {
		return fmt.Errorf("customer_name and customer_email are required")
	}
	if _, err := time.Parse("2006-01-02", p.TourDate); err != nil {
		return fmt.Errorf("tour_date must be YYYY-MM-DD: %w", err)
	}
	if p.PartySize < 1 {
		return fmt.Errorf("party_size must be at least 1")
	}
	return nil
}

func (t *CreateBookingTool) Execute(ctx context.Context, payload json.RawMessage) (*Result, error) {
	var p CreateBookingPayload
	if err := decodeStrict(payload, &p); err != nil {
		return nil, err
	}
	res, err := t.svc.CreateBooking(ctx, p)
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "booking created",
		slog.String("booking_id", res.BookingID),
		slog.String("vendor_id", p.VendorID),
		slog.String("tour_date", p.TourDate),
	)
	return &Result{
		Output:  marshalOutput(res),
		Summary: fmt.Sprintf("booked %s for %s on %s", res.BookingID, p.CustomerName, p.TourDate),
	}, nil
}

// CancelBookingTool cancels an existing booking.
type CancelBookingTool struct {
	svc    BookingService
	logger *slog.Logger
}

// NewCancelBookingTool creates a bookings.cancel tool.
func NewCancelBookingTool(svc BookingService, logger *slog.Logger) *CancelBookingTool {
	return &CancelBookingTool{svc: svc, logger: logger}
}

func (t *CancelBookingTool) Name() string { return "bookings.cancel" }

func (t *CancelBookingTool) Description() string {
	return "Cancel an existing booking by its identifier."
}

func (t *CancelBookingTool) Validate(payload json.RawMessage) error {
	var p CancelBookingPayload
	if err := decodeStrict(payload, &p); err != nil {
		return err
	}
	if p.BookingID == "" {
		return fmt.Errorf("booking_id is required")
	}
	return nil
}

func (t *CancelBookingTool) Execute(ctx context.Context, payload json.RawMessage) (*Result, error) {
	var p CancelBookingPayload
	if err := decodeStrict(payload, &p); err != nil {
		return nil, err
	}
	res, err := t.svc.CancelBooking(ctx, p)
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "booking cancelled",
		slog.String("booking_id", p.BookingID),
	)
	return &Result{
		Output:  marshalOutput(res),
		Summary: fmt.Sprintf("cancelled booking %s", p.BookingID),
	}, nil
}

var (
	_ Tool = (*CreateBookingTool)(nil)
	_ Tool = (*CancelBookingTool)(nil)
)
