package queue

import (
	"context"
	"time"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/google/uuid"
)

// UnavailableBroker is the explicit "no broker configured" variant of
// the Broker capability. Every operation fails with
// ErrBrokerUnavailable so dependent components degrade loudly instead
// of null-checking a shared handle at each call site.
type UnavailableBroker struct {
	// Reason explains why the broker is unavailable, for logs.
	Reason string
}

var _ Broker = (*UnavailableBroker)(nil)

func (b *UnavailableBroker) Enqueue(ctx context.Context, job *domain.Job) error {
	return ErrBrokerUnavailable
}

func (b *UnavailableBroker) Lease(ctx context.Context, queue string, leaseFor time.Duration) (*LeasedJob, error) {
	return nil, ErrBrokerUnavailable
}

func (b *UnavailableBroker) RenewLease(ctx context.Context, leased *LeasedJob, leaseFor time.Duration) error {
	return ErrBrokerUnavailable
}

func (b *UnavailableBroker) Ack(ctx context.Context, leased *LeasedJob, outcome Outcome) error {
	return ErrBrokerUnavailable
}

func (b *UnavailableBroker) Retry(ctx context.Context, leased *LeasedJob, delay time.Duration) error {
	return ErrBrokerUnavailable
}

func (b *UnavailableBroker) Remove(ctx context.Context, queue string, jobID uuid.UUID) (bool, error) {
	return false, ErrBrokerUnavailable
}

func (b *UnavailableBroker) PromoteDue(ctx context.Context, queue string, limit int) (int, error) {
	return 0, ErrBrokerUnavailable
}

func (b *UnavailableBroker) ReclaimExpired(ctx context.Context, queue string, maxStalled, limit int) ([]*domain.Job, []*domain.Job, error) {
	return nil, nil, ErrBrokerUnavailable
}

func (b *UnavailableBroker) Pause(ctx context.Context, queue string) error {
	return ErrBrokerUnavailable
}

func (b *UnavailableBroker) Resume(ctx context.Context, queue string) error {
	return ErrBrokerUnavailable
}

func (b *UnavailableBroker) Paused(ctx context.Context, queue string) (bool, error) {
	return false, ErrBrokerUnavailable
}

func (b *UnavailableBroker) Stats(ctx context.Context, queue string) (QueueStats, error) {
	return QueueStats{}, ErrBrokerUnavailable
}

func (b *UnavailableBroker) Ping(ctx context.Context) (time.Duration, error) {
	return 0, ErrBrokerUnavailable
}
