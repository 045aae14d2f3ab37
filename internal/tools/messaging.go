package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// SendMessagePayload is the input for messaging.send.
type SendMessagePayload struct {
	Recipient string `json:"recipient"`
	Channel   string `json:"channel"` // email, sms or whatsapp
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
}

// SendMessageResult is returned when a message is accepted for delivery.
type SendMessageResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// MessagingService is the upstream surface the messaging tool calls.
type MessagingService interface {
	SendMessage(ctx context.Context, p SendMessagePayload) (*SendMessageResult, error)
}

var messageChannels = map[string]bool{"email": true, "sms": true, "whatsapp": true}

// SendMessageTool sends a one-off message to a customer or vendor.
type SendMessageTool struct {
	svc    MessagingService
	logger *slog.Logger
}

// NewSendMessageTool creates a messaging.send tool.
func NewSendMessageTool(svc MessagingService, logger *slog.Logger) *SendMessageTool {
	return &SendMessageTool{svc: svc, logger: logger}
}

func (t *SendMessageTool) Name() string { return "messaging.send" }

func (t *SendMessageTool) Description() string {
	return "Send a one-off message to a customer or vendor over email, SMS or WhatsApp."
}

func (t *SendMessageTool) Validate(payload json.RawMessage) error {
	var p SendMessagePayload
	if err := decodeStrict(payload, &p); err != nil {
		return err
	}
	if p.Recipient == "" || p.Body == "" {
		return fmt.Errorf("recipient and body are required")
	}
	if !messageChannels[p.Channel] {
		return fmt.Errorf("channel must be one of email, sms, whatsapp")
	}
	return nil
}

func (t *SendMessageTool) Execute(ctx context.Context, payload json.RawMessage) (*Result, error) {
	var p SendMessagePayload
	if err := decodeStrict(payload, &p); err != nil {
		return nil, err
	}
	res, err := t.svc.SendMessage(ctx, p)
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "message sent",
		slog.String("message_id", res.MessageID),
		slog.String("channel", p.Channel),
	)
	return &Result{
		Output:  marshalOutput(res),
		Summary: fmt.Sprintf("sent %s message %s", p.Channel, res.MessageID),
	}, nil
}

var _ Tool = (*SendMessageTool)(nil)
