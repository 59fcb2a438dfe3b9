package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/processor"
)

// inlineExecutor stands in for the workflow graph interpreter, which
// runs as a separate deployment. Every run completes immediately with
// its trigger data copied into the execution context, which keeps the
// queue core exercisable end to end without the interpreter.
type inlineExecutor struct {
	logger *slog.Logger
}

func newInlineExecutor(logger *slog.Logger) *inlineExecutor {
	return &inlineExecutor{logger: logger.With("component", "inline_executor")}
}

func (e *inlineExecutor) Execute(ctx context.Context, workflow *domain.Workflow, executionID uuid.UUID, triggerData map[string]interface{}) (processor.ExecutionOutcome, error) {
	e.logger.Info("executing workflow inline",
		"workflow_id", workflow.ID,
		"execution_id", executionID)
	return processor.ExecutionOutcome{
		Context:   domain.ExecutionContext{Variables: triggerData},
		Completed: true,
	}, nil
}

func (e *inlineExecutor) Resume(ctx context.Context, executionID uuid.UUID, nodeID string, resumeData map[string]interface{}) (processor.ExecutionOutcome, error) {
	e.logger.Info("resuming workflow inline",
		"execution_id", executionID,
		"node_id", nodeID)
	return processor.ExecutionOutcome{
		Context:   domain.ExecutionContext{Variables: resumeData, CurrentNodeID: nodeID},
		Completed: true,
	}, nil
}

// logDelivery implements the channel sender and sync interfaces by
// logging each delivery. Real channel integrations replace it per
// deployment; the processors only see the interfaces.
type logDelivery struct {
	logger *slog.Logger
}

func newLogDelivery(logger *slog.Logger) *logDelivery {
	return &logDelivery{logger: logger.With("component", "log_delivery")}
}

func (d *logDelivery) SendEmail(ctx context.Context, to, subject, body string) error {
	d.logger.Info("email delivered", "to", to, "subject", subject)
	return nil
}

func (d *logDelivery) SendSMS(ctx context.Context, to, message string) error {
	d.logger.Info("sms delivered", "to", to)
	return nil
}

func (d *logDelivery) SendChat(ctx context.Context, channel, message string) error {
	d.logger.Info("chat message delivered", "channel", channel)
	return nil
}

func (d *logDelivery) Sync(ctx context.Context, resource string, since time.Time) (int, error) {
	d.logger.Info("data sync requested", "resource", resource, "since", since)
	return 0, nil
}
