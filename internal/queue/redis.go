package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBroker implements the Broker capability over Redis: a delayed
// ZSET and one ready list per priority class for each queue, a lease
// ZSET scanned by the reclaim sweep, and SETNX dedupe keys for jobKey
// idempotency.
type RedisBroker struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisBroker creates a broker over the given Redis client. All keys
// are namespaced under the prefix.
func NewRedisBroker(rdb *redis.Client, prefix string, logger *slog.Logger) *RedisBroker {
	if prefix == "" {
		prefix = "flowengine"
	}
	return &RedisBroker{
		rdb:    rdb,
		prefix: prefix,
		logger: logger.With("component", "redis_broker"),
	}
}

var _ Broker = (*RedisBroker)(nil)

// Key layout helpers. Everything for one queue lives under
// {prefix}:q:{queue}:*; dedupe keys are global because job keys must be
// unique across queues.

func (b *RedisBroker) jobKey(queue string, id uuid.UUID) string {
	return fmt.Sprintf("%s:q:%s:job:%s", b.prefix, queue, id)
}

func (b *RedisBroker) readyKey(queue string, p domain.Priority) string {
	return fmt.Sprintf("%s:q:%s:ready:%s", b.prefix, queue, p)
}

func (b *RedisBroker) readyKeys(queue string) []string {
	classes := domain.PriorityClasses()
	keys := make([]string, len(classes))
	for i, p := range classes {
		keys[i] = b.readyKey(queue, p)
	}
	return keys
}

func (b *RedisBroker) delayedKey(queue string) string {
	return fmt.Sprintf("%s:q:%s:delayed", b.prefix, queue)
}

func (b *RedisBroker) leasesKey(queue string) string {
	return fmt.Sprintf("%s:q:%s:leases", b.prefix, queue)
}

func (b *RedisBroker) tokenKey(queue string, id uuid.UUID) string {
	return fmt.Sprintf("%s:q:%s:token:%s", b.prefix, queue, id)
}

func (b *RedisBroker) pausedKey(queue string) string {
	return fmt.Sprintf("%s:q:%s:paused", b.prefix, queue)
}

func (b *RedisBroker) counterKey(queue string, outcome Outcome) string {
	return fmt.Sprintf("%s:q:%s:count:%s", b.prefix, queue, outcome)
}

func (b *RedisBroker) dedupeKey(jobKey string) string {
	return fmt.Sprintf("%s:dedupe:%s", b.prefix, jobKey)
}

func (b *RedisBroker) saveJob(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := b.rdb.Set(ctx, b.jobKey(job.Queue, job.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}

func (b *RedisBroker) loadJob(ctx context.Context, queue string, id uuid.UUID) (*domain.Job, error) {
	data, err := b.rdb.Get(ctx, b.jobKey(queue, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoJob
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Enqueue stores the job and pushes it onto the delayed set or the
// ready list for its priority class.
func (b *RedisBroker) Enqueue(ctx context.Context, job *domain.Job) error {
	if job.JobKey != "" {
		ok, err := b.rdb.SetNX(ctx, b.dedupeKey(job.JobKey), job.ID.String(), 0).Result()
		if err != nil {
			return fmt.Errorf("failed to reserve job key: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %q", domain.ErrDuplicateJob, job.JobKey)
		}
	}

	if err := b.saveJob(ctx, job); err != nil {
		return err
	}

	if !job.NotBefore.IsZero() && job.NotBefore.After(time.Now()) {
		err := b.rdb.ZAdd(ctx, b.delayedKey(job.Queue), redis.Z{
			Score:  float64(job.NotBefore.UnixMilli()),
			Member: job.ID.String(),
		}).Err()
		if err != nil {
			return fmt.Errorf("failed to enqueue delayed job: %w", err)
		}
		return nil
	}

	if err := b.rdb.LPush(ctx, b.readyKey(job.Queue, job.Priority), job.ID.String()).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Lease pops the next job, checking ready lists in priority order, and
// records a lease token plus an entry in the lease-expiry set.
func (b *RedisBroker) Lease(ctx context.Context, queue string, leaseFor time.Duration) (*LeasedJob, error) {
	paused, err := b.Paused(ctx, queue)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, ErrNoJob
	}

	// A popped ID can reference a job cancelled between push and pop;
	// skip those and try the next one, bounded to keep Lease cheap.
	for i := 0; i < 4; i++ {
		_, vals, err := b.rdb.LMPop(ctx, "RIGHT", 1, b.readyKeys(queue)...).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrNoJob
			}
			return nil, fmt.Errorf("failed to pop job: %w", err)
		}
		if len(vals) == 0 {
			return nil, ErrNoJob
		}

		id, err := uuid.Parse(vals[0])
		if err != nil {
			b.logger.Warn("dropping malformed job id from ready list", "value", vals[0], "queue", queue)
			continue
		}

		job, err := b.loadJob(ctx, queue, id)
		if err != nil {
			if errors.Is(err, ErrNoJob) {
				continue
			}
			return nil, err
		}

		token := uuid.NewString()
		expiresAt := time.Now().Add(leaseFor)

		pipe := b.rdb.TxPipeline()
		pipe.Set(ctx, b.tokenKey(queue, id), token, leaseFor)
		pipe.ZAdd(ctx, b.leasesKey(queue), redis.Z{
			Score:  float64(expiresAt.UnixMilli()),
			Member: id.String(),
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to record lease: %w", err)
		}

		return &LeasedJob{Job: job, Token: token}, nil
	}

	return nil, ErrNoJob
}

// checkToken verifies that the caller still holds the lease.
func (b *RedisBroker) checkToken(ctx context.Context, leased *LeasedJob) error {
	current, err := b.rdb.Get(ctx, b.tokenKey(leased.Job.Queue, leased.Job.ID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrLeaseLost
		}
		return fmt.Errorf("failed to check lease token: %w", err)
	}
	if current != leased.Token {
		return ErrLeaseLost
	}
	return nil
}

// RenewLease extends an active lease's token expiry and its entry in
// the lease-expiry set.
func (b *RedisBroker) RenewLease(ctx context.Context, leased *LeasedJob, leaseFor time.Duration) error {
	if err := b.checkToken(ctx, leased); err != nil {
		return err
	}

	queue := leased.Job.Queue
	expiresAt := time.Now().Add(leaseFor)
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, b.tokenKey(queue, leased.Job.ID), leased.Token, leaseFor)
	pipe.ZAdd(ctx, b.leasesKey(queue), redis.Z{
		Score:  float64(expiresAt.UnixMilli()),
		Member: leased.Job.ID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	return nil
}

// Ack terminally removes a leased job and releases its dedupe key.
func (b *RedisBroker) Ack(ctx context.Context, leased *LeasedJob, outcome Outcome) error {
	if err := b.checkToken(ctx, leased); err != nil {
		return err
	}

	job := leased.Job
	pipe := b.rdb.TxPipeline()
	pipe.Del(ctx, b.tokenKey(job.Queue, job.ID))
	pipe.ZRem(ctx, b.leasesKey(job.Queue), job.ID.String())
	pipe.Del(ctx, b.jobKey(job.Queue, job.ID))
	pipe.Incr(ctx, b.counterKey(job.Queue, outcome))
	if job.JobKey != "" {
		pipe.Del(ctx, b.dedupeKey(job.JobKey))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// Retry releases the lease and re-enqueues the job onto the delayed set
// with the given backoff delay.
func (b *RedisBroker) Retry(ctx context.Context, leased *LeasedJob, delay time.Duration) error {
	if err := b.checkToken(ctx, leased); err != nil {
		return err
	}

	job := leased.Job
	job.NotBefore = time.Now().Add(delay)
	if err := b.saveJob(ctx, job); err != nil {
		return err
	}

	pipe := b.rdb.TxPipeline()
	pipe.Del(ctx, b.tokenKey(job.Queue, job.ID))
	pipe.ZRem(ctx, b.leasesKey(job.Queue), job.ID.String())
	pipe.ZAdd(ctx, b.delayedKey(job.Queue), redis.Z{
		Score:  float64(job.NotBefore.UnixMilli()),
		Member: job.ID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}
	return nil
}

// Remove deletes a waiting or delayed job. Active jobs are left alone.
func (b *RedisBroker) Remove(ctx context.Context, queue string, jobID uuid.UUID) (bool, error) {
	id := jobID.String()

	removed := int64(0)
	for _, key := range b.readyKeys(queue) {
		n, err := b.rdb.LRem(ctx, key, 1, id).Result()
		if err != nil {
			return false, fmt.Errorf("failed to remove job from ready list: %w", err)
		}
		removed += n
		if n > 0 {
			break
		}
	}
	if removed == 0 {
		n, err := b.rdb.ZRem(ctx, b.delayedKey(queue), id).Result()
		if err != nil {
			return false, fmt.Errorf("failed to remove job from delayed set: %w", err)
		}
		removed += n
	}
	if removed == 0 {
		return false, nil
	}

	job, err := b.loadJob(ctx, queue, jobID)
	pipe := b.rdb.TxPipeline()
	pipe.Del(ctx, b.jobKey(queue, jobID))
	if err == nil && job.JobKey != "" {
		pipe.Del(ctx, b.dedupeKey(job.JobKey))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("failed to delete removed job data: %w", err)
	}
	return true, nil
}

// PromoteDue moves delayed jobs whose eligibility time has passed onto
// their ready lists.
func (b *RedisBroker) PromoteDue(ctx context.Context, queue string, limit int) (int, error) {
	now := time.Now().UnixMilli()
	ids, err := b.rdb.ZRangeByScore(ctx, b.delayedKey(queue), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan delayed set: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	promoted := 0
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			b.rdb.ZRem(ctx, b.delayedKey(queue), raw)
			continue
		}
		job, err := b.loadJob(ctx, queue, id)
		if err != nil {
			// Job data gone (cancelled); drop the orphaned member.
			b.rdb.ZRem(ctx, b.delayedKey(queue), raw)
			continue
		}

		pipe := b.rdb.TxPipeline()
		pipe.LPush(ctx, b.readyKey(queue, job.Priority), raw)
		pipe.ZRem(ctx, b.delayedKey(queue), raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return promoted, fmt.Errorf("failed to promote job: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// ReclaimExpired requeues jobs with expired leases, incrementing their
// stalled counter. Jobs over the maxStalled limit are pulled out of the
// queue entirely and returned for dead-lettering.
func (b *RedisBroker) ReclaimExpired(ctx context.Context, queue string, maxStalled, limit int) ([]*domain.Job, []*domain.Job, error) {
	now := time.Now().UnixMilli()
	ids, err := b.rdb.ZRangeByScore(ctx, b.leasesKey(queue), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan leases: %w", err)
	}

	var requeued, exhausted []*domain.Job
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			b.rdb.ZRem(ctx, b.leasesKey(queue), raw)
			continue
		}

		job, err := b.loadJob(ctx, queue, id)
		if err != nil {
			b.rdb.ZRem(ctx, b.leasesKey(queue), raw)
			continue
		}

		job.StalledCount++

		pipe := b.rdb.TxPipeline()
		pipe.Del(ctx, b.tokenKey(queue, id))
		pipe.ZRem(ctx, b.leasesKey(queue), raw)

		if job.StalledCount > maxStalled {
			pipe.Del(ctx, b.jobKey(queue, id))
			pipe.Incr(ctx, b.counterKey(queue, OutcomeFailed))
			if job.JobKey != "" {
				pipe.Del(ctx, b.dedupeKey(job.JobKey))
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return requeued, exhausted, fmt.Errorf("failed to drop stalled job: %w", err)
			}
			exhausted = append(exhausted, job)
			continue
		}

		data, err := json.Marshal(job)
		if err != nil {
			return requeued, exhausted, fmt.Errorf("failed to marshal reclaimed job: %w", err)
		}
		pipe.Set(ctx, b.jobKey(queue, id), data, 0)
		pipe.LPush(ctx, b.readyKey(queue, job.Priority), raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return requeued, exhausted, fmt.Errorf("failed to requeue stalled job: %w", err)
		}
		requeued = append(requeued, job)
	}
	return requeued, exhausted, nil
}

// Pause sets the queue's paused flag. Lease returns ErrNoJob while set.
func (b *RedisBroker) Pause(ctx context.Context, queue string) error {
	if err := b.rdb.Set(ctx, b.pausedKey(queue), "1", 0).Err(); err != nil {
		return fmt.Errorf("failed to pause queue: %w", err)
	}
	return nil
}

// Resume clears the queue's paused flag.
func (b *RedisBroker) Resume(ctx context.Context, queue string) error {
	if err := b.rdb.Del(ctx, b.pausedKey(queue)).Err(); err != nil {
		return fmt.Errorf("failed to resume queue: %w", err)
	}
	return nil
}

// Paused reports whether the queue's paused flag is set.
func (b *RedisBroker) Paused(ctx context.Context, queue string) (bool, error) {
	n, err := b.rdb.Exists(ctx, b.pausedKey(queue)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check paused flag: %w", err)
	}
	return n > 0, nil
}

// Stats gathers the queue's counters in one pipeline round trip.
func (b *RedisBroker) Stats(ctx context.Context, queue string) (QueueStats, error) {
	pipe := b.rdb.Pipeline()
	readyCmds := make([]*redis.IntCmd, 0, len(domain.PriorityClasses()))
	for _, key := range b.readyKeys(queue) {
		readyCmds = append(readyCmds, pipe.LLen(ctx, key))
	}
	delayedCmd := pipe.ZCard(ctx, b.delayedKey(queue))
	activeCmd := pipe.ZCard(ctx, b.leasesKey(queue))
	completedCmd := pipe.Get(ctx, b.counterKey(queue, OutcomeCompleted))
	failedCmd := pipe.Get(ctx, b.counterKey(queue, OutcomeFailed))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return QueueStats{}, fmt.Errorf("failed to gather stats: %w", err)
	}

	var stats QueueStats
	for _, cmd := range readyCmds {
		stats.Waiting += cmd.Val()
	}
	stats.Delayed = delayedCmd.Val()
	stats.Active = activeCmd.Val()
	stats.Completed, _ = completedCmd.Int64()
	stats.Failed, _ = failedCmd.Int64()
	return stats, nil
}

// Ping measures broker round-trip latency.
func (b *RedisBroker) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return time.Since(start), nil
}
