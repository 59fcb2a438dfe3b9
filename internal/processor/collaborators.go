package processor

import (
	"context"
	"time"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/queue"
	"github.com/google/uuid"
)

// ExecutionOutcome is what the workflow interpreter reports back after
// walking the graph. A run that parks on a wait step comes back with
// Completed=false and the node plus time to resume at.
type ExecutionOutcome struct {
	Context    domain.ExecutionContext
	Completed  bool
	WaitNodeID string
	ResumeAt   time.Time
}

// Executor is the workflow graph interpreter, consumed as an opaque
// unit. Execute starts a run from the trigger node; Resume continues a
// run parked on a wait step.
type Executor interface {
	Execute(ctx context.Context, workflow *domain.Workflow, executionID uuid.UUID, triggerData map[string]interface{}) (ExecutionOutcome, error)
	Resume(ctx context.Context, executionID uuid.UUID, nodeID string, resumeData map[string]interface{}) (ExecutionOutcome, error)
}

// Enqueuer is the slice of the job queue set processors need to queue
// follow-up work (wait-step resumptions).
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType domain.JobType, payload domain.JobPayload, opts queue.EnqueueOptions) (*domain.Job, error)
}

// EmailSender delivers a single email. Invoked only inside Execute.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers a single SMS or WhatsApp message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

// ChatSender delivers a single chat message.
type ChatSender interface {
	SendChat(ctx context.Context, channel, message string) error
}

// SyncClient pulls records from an external system into the platform.
type SyncClient interface {
	Sync(ctx context.Context, resource string, since time.Time) (int, error)
}
