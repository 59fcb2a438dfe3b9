package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/driftware/flowengine/internal/domain"
)

// smsPayload is the sms_campaign job's type-specific data.
type smsPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// SMSCampaignProcessor delivers a single SMS or WhatsApp message.
// These jobs ride the priority queue; the retry policy there absorbs
// provider hiccups.
type SMSCampaignProcessor struct {
	sender SMSSender
	logger *slog.Logger
}

// NewSMSCampaignProcessor creates the processor for sms_campaign jobs.
func NewSMSCampaignProcessor(sender SMSSender, logger *slog.Logger) *SMSCampaignProcessor {
	return &SMSCampaignProcessor{
		sender: sender,
		logger: logger.With("processor", "sms_campaign"),
	}
}

// Validate checks the payload names a destination and a message.
func (p *SMSCampaignProcessor) Validate(ctx context.Context, job *domain.Job) error {
	var payload smsPayload
	if err := job.Payload.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("%w: malformed sms payload: %v", domain.ErrValidation, err)
	}
	if payload.To == "" {
		return fmt.Errorf("%w: missing destination number", domain.ErrValidation)
	}
	if payload.Message == "" {
		return fmt.Errorf("%w: empty message body", domain.ErrValidation)
	}
	return nil
}

// Execute sends the message.
func (p *SMSCampaignProcessor) Execute(ctx context.Context, job *domain.Job, progress ProgressFunc) (Result, error) {
	var payload smsPayload
	if err := job.Payload.UnmarshalData(&payload); err != nil {
		return Result{}, fmt.Errorf("%w: malformed sms payload: %v", domain.ErrValidation, err)
	}
	progress(20)

	if err := p.sender.SendSMS(ctx, payload.To, payload.Message); err != nil {
		return Result{}, fmt.Errorf("sms send failed: %w", err)
	}
	progress(100)

	return Result{Message: "sms sent"}, nil
}

// OnSuccess logs the delivery.
func (p *SMSCampaignProcessor) OnSuccess(ctx context.Context, job *domain.Job, result Result) {
	p.logger.Info("sms campaign message sent", "job_id", job.ID)
}

// OnFailure logs the failure.
func (p *SMSCampaignProcessor) OnFailure(ctx context.Context, job *domain.Job, jobErr error) {
	p.logger.Error("sms campaign message failed", "job_id", job.ID, "error", jobErr)
}

// chatPayload is the chat_message job's type-specific data.
type chatPayload struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}

// ChatMessageProcessor posts a message to a live chat channel. Chat is
// latency-sensitive, so these jobs ride the priority queue.
type ChatMessageProcessor struct {
	sender ChatSender
	logger *slog.Logger
}

// NewChatMessageProcessor creates the processor for chat_message jobs.
func NewChatMessageProcessor(sender ChatSender, logger *slog.Logger) *ChatMessageProcessor {
	return &ChatMessageProcessor{
		sender: sender,
		logger: logger.With("processor", "chat_message"),
	}
}

// Validate checks the payload names a channel and a message.
func (p *ChatMessageProcessor) Validate(ctx context.Context, job *domain.Job) error {
	var payload chatPayload
	if err := job.Payload.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("%w: malformed chat payload: %v", domain.ErrValidation, err)
	}
	if payload.Channel == "" {
		return fmt.Errorf("%w: missing chat channel", domain.ErrValidation)
	}
	if payload.Message == "" {
		return fmt.Errorf("%w: empty message body", domain.ErrValidation)
	}
	return nil
}

// Execute posts the message.
func (p *ChatMessageProcessor) Execute(ctx context.Context, job *domain.Job, progress ProgressFunc) (Result, error) {
	var payload chatPayload
	if err := job.Payload.UnmarshalData(&payload); err != nil {
		return Result{}, fmt.Errorf("%w: malformed chat payload: %v", domain.ErrValidation, err)
	}
	progress(20)

	if err := p.sender.SendChat(ctx, payload.Channel, payload.Message); err != nil {
		return Result{}, fmt.Errorf("chat send failed: %w", err)
	}
	progress(100)

	return Result{Message: "chat message posted"}, nil
}

// OnSuccess logs the delivery.
func (p *ChatMessageProcessor) OnSuccess(ctx context.Context, job *domain.Job, result Result) {
	p.logger.Info("chat message posted", "job_id", job.ID)
}

// OnFailure logs the failure.
func (p *ChatMessageProcessor) OnFailure(ctx context.Context, job *domain.Job, jobErr error) {
	p.logger.Error("chat message failed", "job_id", job.ID, "error", jobErr)
}
