package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// CampaignPayload is the input for marketing.campaign.
type CampaignPayload struct {
	Name     string `json:"name"`
	Channel  string `json:"channel"` // email, sms or social
	Audience string `json:"audience"`
	Content  string `json:"content"`
}

// CampaignResult is returned when a campaign is launched.
type CampaignResult struct {
	CampaignID string `json:"campaign_id"`
	Status     string `json:"status"`
}

// MarketingService is the upstream surface the campaign tool calls.
type MarketingService interface {
	LaunchCampaign(ctx context.Context, p CampaignPayload) (*CampaignResult, error)
}

var campaignChannels = map[string]bool{"email": true, "sms": true, "social": true}

// LaunchCampaignTool launches a marketing campaign to a customer segment.
type LaunchCampaignTool struct {
	svc    MarketingService
	logger *slog.Logger
}

// NewLaunchCampaignTool creates a marketing.campaign tool.
func NewLaunchCampaignTool(svc MarketingService, logger *slog.Logger) *LaunchCampaignTool {
	return &LaunchCampaignTool{svc: svc, logger: logger}
}

func (t *LaunchCampaignTool) Name() string { return "marketing.campaign" }

func (t *LaunchCampaignTool) Description() string {
	return "Launch a marketing campaign to a customer segment over email, SMS or social."
}

func (t *LaunchCampaignTool) Validate(payload json.RawMessage) error {
	var p CampaignPayload
	if err := decodeStrict(payload, &p); err != nil {
		return err
	}
	if p.Name == "" || p.Content == "" {
		return fmt.Errorf("name and content are required")
	}
	if !campaignChannels[p.Channel] {
		return fmt.Errorf("channel must be one of email, sms, social")
	}
	if p.Audience == "" {
		return fmt.Errorf("audience is required")
	}
	return nil
}

func (t *LaunchCampaignTool) Execute(ctx context.Context, payload json.RawMessage) (*Result, error) {
	var p CampaignPayload
	if err := decodeStrict(payload, &p); err != nil {
		return nil, err
	}
	res, err := t.svc.LaunchCampaign(ctx, p)
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "campaign launched",
		slog.String("campaign_id", res.CampaignID),
		slog.String("channel", p.Channel),
		slog.String("audience", p.Audience),
	)
	return &Result{
		Output:  marshalOutput(res),
		Summary: fmt.Sprintf("launched campaign %q on %s", p.Name, p.Channel),
	}, nil
}

var _ Tool = (*LaunchCampaignTool)(nil)
