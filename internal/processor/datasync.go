package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftware/flowengine/internal/domain"
)

// syncPayload is the data_sync job's type-specific data. Since is the
// high-water mark of the previous sync; zero means a full pull.
type syncPayload struct {
	Resource string    `json:"resource"`
	Since    time.Time `json:"since,omitempty"`
}

// DataSyncProcessor pulls records for one external resource into the
// platform. Syncs are incremental on the Since watermark, so re-running
// a sync only re-fetches records the previous attempt already saw.
type DataSyncProcessor struct {
	client SyncClient
	logger *slog.Logger
}

// NewDataSyncProcessor creates the processor for data_sync jobs.
func NewDataSyncProcessor(client SyncClient, logger *slog.Logger) *DataSyncProcessor {
	return &DataSyncProcessor{
		client: client,
		logger: logger.With("processor", "data_sync"),
	}
}

// Validate checks the payload names a resource.
func (p *DataSyncProcessor) Validate(ctx context.Context, job *domain.Job) error {
	var payload syncPayload
	if err := job.Payload.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("%w: malformed sync payload: %v", domain.ErrValidation, err)
	}
	if payload.Resource == "" {
		return fmt.Errorf("%w: missing sync resource", domain.ErrValidation)
	}
	return nil
}

// Execute runs the pull and reports how many records moved.
func (p *DataSyncProcessor) Execute(ctx context.Context, job *domain.Job, progress ProgressFunc) (Result, error) {
	var payload syncPayload
	if err := job.Payload.UnmarshalData(&payload); err != nil {
		return Result{}, fmt.Errorf("%w: malformed sync payload: %v", domain.ErrValidation, err)
	}
	progress(10)

	count, err := p.client.Sync(ctx, payload.Resource, payload.Since)
	if err != nil {
		return Result{}, fmt.Errorf("sync of %s failed: %w", payload.Resource, err)
	}
	progress(100)

	return Result{
		Message: "sync completed",
		Output:  map[string]interface{}{"resource": payload.Resource, "records": count},
	}, nil
}

// OnSuccess logs the record count.
func (p *DataSyncProcessor) OnSuccess(ctx context.Context, job *domain.Job, result Result) {
	p.logger.Info("data sync completed",
		"job_id", job.ID,
		"resource", result.Output["resource"],
		"records", result.Output["records"])
}

// OnFailure logs the failure; the next scheduled sync covers the gap.
func (p *DataSyncProcessor) OnFailure(ctx context.Context, job *domain.Job, jobErr error) {
	p.logger.Error("data sync failed", "job_id", job.ID, "error", jobErr)
}
