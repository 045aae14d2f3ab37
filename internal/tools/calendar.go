package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// SyncCalendarPayload is the input for calendar.sync.
type SyncCalendarPayload struct {
	VendorID    string `json:"vendor_id"`
	Provider    string `json:"provider,omitempty"` // google or ical, default google
	CalendarURL string `json:"calendar_url,omitempty"`
}

// SyncCalendarResult reports how many availability slots were refreshed.
type SyncCalendarResult struct {
	VendorID     string `json:"vendor_id"`
	SlotsUpdated int    `json:"slots_updated"`
}

// CalendarService is the upstream surface the calendar tool calls.
type CalendarService interface {
	SyncCalendar(ctx context.Context, p SyncCalendarPayload) (*SyncCalendarResult, error)
}

var calendarProviders = map[string]bool{"google": true, "ical": true}

// SyncCalendarTool refreshes a vendor's availability from its external calendar.
type SyncCalendarTool struct {
	svc    CalendarService
	logger *slog.Logger
}

// NewSyncCalendarTool creates a calendar.sync tool.
func NewSyncCalendarTool(svc CalendarService, logger *slog.Logger) *SyncCalendarTool {
	return &SyncCalendarTool{svc: svc, logger: logger}
}

func (t *SyncCalendarTool) Name() string { return "calendar.sync" }

func (t *SyncCalendarTool) Description() string {
	return "Refresh a vendor's availability slots from its external calendar feed."
}

func (t *SyncCalendarTool) Validate(payload json.RawMessage) error {
	var p SyncCalendarPayload
	if err := decodeStrict(payload, &p); err != nil {
		return err
	}
	if p.VendorID == "" {
		return fmt.Errorf("vendor_id is required")
	}
	if p.Provider != "" && !calendarProviders[p.Provider] {
		return fmt.Errorf("unsupported provider %q", p.Provider)
	}
	return nil
}

func (t *SyncCalendarTool) Execute(ctx context.Context, payload json.RawMessage) (*Result, error) {
	var p SyncCalendarPayload
	if err := decodeStrict(payload, &p); err != nil {
		return nil, err
	}
	if p.Provider == "" {
		p.Provider = "google"
	}
	res, err := t.svc.SyncCalendar(ctx, p)
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "calendar synced",
		slog.String("vendor_id", p.VendorID),
		slog.Int("slots_updated", res.SlotsUpdated),
	)
	return &Result{
		Output:  marshalOutput(res),
		Summary: fmt.Sprintf("synced calendar for vendor %s, %d slots updated", p.VendorID, res.SlotsUpdated),
	}, nil
}

var _ Tool = (*SyncCalendarTool)(nil)
