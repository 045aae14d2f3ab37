package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// CreateVendorPayload is the input for vendors.create.
type CreateVendorPayload struct {
	Name         string `json:"name"`
	ContactEmail string `json:"contact_email"`
	Phone        string `json:"phone,omitempty"`
	Region       string `json:"region,omitempty"`
}

// SuspendVendorPayload is the input for vendors.suspend.
type SuspendVendorPayload struct {
	VendorID string `json:"vendor_id"`
	Reason   string `json:"reason"`
}

// VendorResult is returned by the vendor operations.
type VendorResult struct {
	VendorID string `json:"vendor_id"`
	Status   string `json:"status"`
}

// VendorService is the upstream surface the vendor tools call.
type VendorService interface {
	CreateVendor(ctx context.Context, p CreateVendorPayload) (*VendorResult, error)
	SuspendVendor(ctx context.Context, p SuspendVendorPayload) (*VendorResult, error)
}

// CreateVendorTool registers a new vendor on the platform.
type CreateVendorTool struct {
	svc    VendorService
	logger *slog.Logger
}

// NewCreateVendorTool creates a vendors.create tool.
func NewCreateVendorTool(svc VendorService, logger *slog.Logger) *CreateVendorTool {
	return &CreateVendorTool{svc: svc, logger: logger}
}

func (t *CreateVendorTool) Name() string { return "vendors.create" }

func (t *CreateVendorTool) Description() string {
	return "Register a new tourism vendor with contact details and region."
}

func (t *CreateVendorTool) Validate(payload json.RawMessage) error {
	var p CreateVendorPayload
	if err := decodeStrict(payload, &p); err != nil {
		return err
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.ContactEmail == "" {
		return fmt.Errorf("contact_email is required")
	}
	return nil
}

func (t *CreateVendorTool) Execute(ctx context.Context, payload json.RawMessage) (*Result, error) {
	var p CreateVendorPayload
	if err := decodeStrict(payload, &p); err != nil {
		return nil, err
	}
	res, err := t.svc.CreateVendor(ctx, p)
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "vendor created",
		slog.String("vendor_id", res.VendorID),
		slog.String("name", p.Name),
	)
	return &Result{
		Output:  marshalOutput(res),
		Summary: fmt.Sprintf("created vendor %s (%s)", res.VendorID, p.Name),
	}, nil
}

// SuspendVendorTool suspends an existing vendor. High-risk: listings go
// offline and pending bookings are frozen.
type SuspendVendorTool struct {
	svc    VendorService
	logger *slog.Logger
}

// NewSuspendVendorTool creates a vendors.suspend tool.
func NewSuspendVendorTool(svc VendorService, logger *slog.Logger) *SuspendVendorTool {
	return &SuspendVendorTool{svc: svc, logger: logger}
}

func (t *SuspendVendorTool) Name() string { return "vendors.suspend" }

func (t *SuspendVendorTool) Description() string {
	return "Suspend a vendor, taking its listings offline and freezing pending bookings."
}

func (t *SuspendVendorTool) Validate(payload json.RawMessage) error {
	var p SuspendVendorPayload
	if err := decodeStrict(payload, &p); err != nil {
		return err
	}
	if p.VendorID == "" {
		return fmt.Errorf("vendor_id is required")
	}
	if p.Reason == "" {
		return fmt.Errorf("reason is required")
	}
	return nil
}

func (t *SuspendVendorTool) Execute(ctx context.Context, payload json.RawMessage) (*Result, error) {
	var p SuspendVendorPayload
	if err := decodeStrict(payload, &p); err != nil {
		return nil, err
	}
	res, err := t.svc.SuspendVendor(ctx, p)
	if err != nil {
		return nil, err
	}
	t.logger.WarnContext(ctx, "vendor suspended",
		slog.String("vendor_id", p.VendorID),
		slog.String("reason", p.Reason),
	)
	return &Result{
		Output:  marshalOutput(res),
		Summary: fmt.Sprintf("suspended vendor %s: %s", p.VendorID, p.Reason),
	}, nil
}

var (
	_ Tool = (*CreateVendorTool)(nil)
	_ Tool = (*SuspendVendorTool)(nil)
)
