package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrJobNotFound is returned for unknown or expired job ids.
var ErrJobNotFound = errors.New("job not found")

const (
	keyPrefix    = "maes:jobs:"
	keyPending   = keyPrefix + "pending"
	keyDelayed   = keyPrefix + "delayed"
	keyActive    = keyPrefix + "active"
	keyCompleted = keyPrefix + "completed"
	keyFailed    = keyPrefix + "failed"
	keySeq       = keyPrefix + "seq"

	// Retention for terminal job records.
	completedTTL = 24 * time.Hour
	failedTTL    = 7 * 24 * time.Hour
	maxCompleted = 100
	maxFailed    = 50

	// prioritySpan leaves room for 1e12 enqueues per priority band while
	// keeping FIFO order within a band.
	prioritySpan = 1e12
)

// Queue is a durable FIFO-within-priority job queue on Redis. Only the queue
// mutates job state; workers drive it through Dequeue/Complete/Fail.
type Queue struct {
	rdb *redis.Client
	now func() time.Time
}

// New wraps a Redis client.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the queue clock (tests).
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

func jobKey(id string) string { return keyPrefix + "job:" + id }

// progressChannel carries live progress updates for one job.
func progressChannel(id string) string { return keyPrefix + "progress:" + id }

// Enqueue stores a job and makes it available for dequeue.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, opts Options) (*Job, error) {
	opts = opts.withDefaults()
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	job := &Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     raw,
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
		BackoffBase: opts.BackoffBase,
		Status:      JobPending,
		EnqueuedAt:  q.now(),
	}

	seq, err := q.rdb.Incr(ctx, keySeq).Result()
	if err != nil {
		return nil, err
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), jobFields(job))
	pipe.ZAdd(ctx, keyPending, redis.Z{
		Score:  float64(job.Priority)*prioritySpan + float64(seq),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("jobId", job.ID).
		Str("type", jobType).
		Int("priority", job.Priority).
		Msg("job enqueued")
	return job, nil
}

// Dequeue pops the highest-priority ready job, marking it active and
// counting the delivery attempt. Returns nil when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	if err := q.promoteDelayed(ctx); err != nil {
		return nil, err
	}

	zs, err := q.rdb.ZPopMin(ctx, keyPending, 1).Result()
	if err != nil {
		return nil, err
	}
	if len(zs) == 0 {
		return nil, nil
	}
	id, _ := zs[0].Member.(string)

	job, err := q.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			// Record expired under the pending entry; skip it.
			return nil, nil
		}
		return nil, err
	}

	now := q.now()
	job.Attempts++
	job.Status = JobActive
	job.StartedAt = &now

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(id), map[string]any{
		"status":    string(JobActive),
		"attempts":  job.Attempts,
		"startedAt": now.UnixMilli(),
	})
	pipe.ZAdd(ctx, keyActive, redis.Z{Score: float64(now.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

// promoteDelayed moves due retry jobs back onto the pending queue.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	nowMs := strconv.FormatInt(q.now().UnixMilli(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{Min: "-inf", Max: nowMs}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}
	for _, id := range ids {
		seq, err := q.rdb.Incr(ctx, keySeq).Result()
		if err != nil {
			return err
		}
		priority, _ := q.rdb.HGet(ctx, jobKey(id), "priority").Int()
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, keyDelayed, id)
		pipe.ZAdd(ctx, keyPending, redis.Z{
			Score:  float64(priority)*prioritySpan + float64(seq),
			Member: id,
		})
		pipe.HSet(ctx, jobKey(id), "status", string(JobPending))
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Complete marks a job done and applies completed retention.
func (q *Queue) Complete(ctx context.Context, id string) error {
	now := q.now()
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(id), map[string]any{
		"status":     string(JobCompleted),
		"progress":   100,
		"finishedAt": now.UnixMilli(),
	})
	pipe.ZRem(ctx, keyActive, id)
	pipe.LPush(ctx, keyCompleted, id)
	pipe.LTrim(ctx, keyCompleted, 0, maxCompleted-1)
	pipe.Expire(ctx, jobKey(id), completedTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Fail records a failed attempt. Jobs with attempts remaining are scheduled
// for retry with exponential backoff; exhausted jobs move to the dead-letter
// list with failed retention.
func (q *Queue) Fail(ctx context.Context, id string, cause error) error {
	job, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	now := q.now()

	if job.Attempts < job.MaxAttempts && !job.CancelRequested {
		delay := job.BackoffBase << (job.Attempts - 1)
		readyAt := now.Add(delay)
		pipe := q.rdb.TxPipeline()
		pipe.HSet(ctx, jobKey(id), map[string]any{
			"status": string(JobRetrying),
			"error":  cause.Error(),
		})
		pipe.ZRem(ctx, keyActive, id)
		pipe.ZAdd(ctx, keyDelayed, redis.Z{Score: float64(readyAt.UnixMilli()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		log.Ctx(ctx).Warn().
			Str("jobId", id).
			Int("attempt", job.Attempts).
			Dur("retryIn", delay).
			Err(cause).
			Msg("job attempt failed, retry scheduled")
		return nil
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(id), map[string]any{
		"status":     string(JobFailed),
		"error":      cause.Error(),
		"finishedAt": now.UnixMilli(),
	})
	pipe.ZRem(ctx, keyActive, id)
	pipe.LPush(ctx, keyFailed, id)
	pipe.LTrim(ctx, keyFailed, 0, maxFailed-1)
	pipe.Expire(ctx, jobKey(id), failedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	log.Ctx(ctx).Error().
		Str("jobId", id).
		Int("attempts", job.Attempts).
		Err(cause).
		Msg("job failed permanently")
	return nil
}

// Cancel requests cancellation. Jobs still pending or awaiting a retry are
// cancelled in place; active jobs observe the flag through their run context.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	if _, err := q.Get(ctx, id); err != nil {
		return err
	}
	removedPending, err := q.rdb.ZRem(ctx, keyPending, id).Result()
	if err != nil {
		return err
	}
	removedDelayed, err := q.rdb.ZRem(ctx, keyDelayed, id).Result()
	if err != nil {
		return err
	}
	fields := map[string]any{"cancelRequested": 1}
	if removedPending+removedDelayed > 0 {
		fields["status"] = string(JobCancelled)
		fields["finishedAt"] = q.now().UnixMilli()
	}
	if err := q.rdb.HSet(ctx, jobKey(id), fields).Err(); err != nil {
		return err
	}
	if removedPending+removedDelayed > 0 {
		return q.rdb.Expire(ctx, jobKey(id), completedTTL).Err()
	}
	return nil
}

// Acknowledge finalizes a job the worker skipped due to cancellation.
func (q *Queue) Acknowledge(ctx context.Context, id string) error {
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(id), map[string]any{
		"status":     string(JobCancelled),
		"finishedAt": q.now().UnixMilli(),
	})
	pipe.ZRem(ctx, keyActive, id)
	pipe.Expire(ctx, jobKey(id), completedTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetProgress raises the job's progress and publishes it for streamers.
// Lower values are ignored to keep progress monotonic for readers.
func (q *Queue) SetProgress(ctx context.Context, id string, progress int) error {
	current, err := q.rdb.HGet(ctx, jobKey(id), "progress").Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if progress <= current {
		return nil
	}
	if err := q.rdb.HSet(ctx, jobKey(id), "progress", progress).Err(); err != nil {
		return err
	}
	return q.rdb.Publish(ctx, progressChannel(id), progress).Err()
}

// Get loads one job record.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromFields(id, fields), nil
}

// Stats returns current queue depths.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	pending := pipe.ZCard(ctx, keyPending)
	delayed := pipe.ZCard(ctx, keyDelayed)
	active := pipe.ZCard(ctx, keyActive)
	completed := pipe.LLen(ctx, keyCompleted)
	failed := pipe.LLen(ctx, keyFailed)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:   pending.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func jobFields(j *Job) map[string]any {
	return map[string]any{
		"type":            j.Type,
		"payload":         string(j.Payload),
		"priority":        j.Priority,
		"attempts":        j.Attempts,
		"maxAttempts":     j.MaxAttempts,
		"status":          string(j.Status),
		"progress":        j.Progress,
		"error":           j.Error,
		"cancelRequested": boolToInt(j.CancelRequested),
		"backoffBaseMs":   j.BackoffBase.Milliseconds(),
		"enqueuedAt":      j.EnqueuedAt.UnixMilli(),
	}
}

func jobFromFields(id string, fields map[string]string) *Job {
	j := &Job{ID: id}
	j.Type = fields["type"]
	j.Payload = json.RawMessage(fields["payload"])
	j.Priority = atoi(fields["priority"])
	j.Attempts = atoi(fields["attempts"])
	j.MaxAttempts = atoi(fields["maxAttempts"])
	j.Status = JobStatus(fields["status"])
	j.Progress = atoi(fields["progress"])
	j.Error = fields["error"]
	j.CancelRequested = fields["cancelRequested"] == "1"
	j.BackoffBase = time.Duration(atoi64(fields["backoffBaseMs"])) * time.Millisecond
	j.EnqueuedAt = msTime(fields["enqueuedAt"])
	if t := msTime(fields["startedAt"]); !t.IsZero() {
		j.StartedAt = &t
	}
	if t := msTime(fields["finishedAt"]); !t.IsZero() {
		j.FinishedAt = &t
	}
	return j
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func atoi(s string) int { n, _ := strconv.Atoi(s); return n }

func atoi64(s string) int64 { n, _ := strconv.ParseInt(s, 10, 64); return n }

func msTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
