// Package expiry tracks OPEN-job visibility deadlines in a Redis sorted
// set and applies OPEN → EXPIRED when a job's window elapses with no
// accepted bid.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mistriworks/backend/internal/models"
)

const deadlinesKey = "jobs:visibility"

// Expirer applies the OPEN → EXPIRED transition for one job. Implemented
// by lifecycle.Controller.
type Expirer interface {
	Expire(ctx context.Context, jobID string) (models.Job, error)
}

// Deadlines is the Redis-backed deadline set.
type Deadlines struct {
	client *redis.Client
}

func NewDeadlines(client *redis.Client) *Deadlines {
	return &Deadlines{client: client}
}

// Track registers a job's visibility deadline.
func (d *Deadlines) Track(ctx context.Context, jobID string, deadline time.Time) error {
	return d.client.ZAdd(ctx, deadlinesKey, redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: jobID,
	}).Err()
}

// Forget drops a job from the deadline set, e.g. after assignment.
func (d *Deadlines) Forget(ctx context.Context, jobID string) error {
	return d.client.ZRem(ctx, deadlinesKey, jobID).Err()
}

// Due returns at most limit job ids whose deadline has passed.
func (d *Deadlines) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	return d.client.ZRangeByScore(ctx, deadlinesKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: limit,
	}).Result()
}

// Sweep expires every due OPEN job and removes it from the set. Jobs that
// were assigned (or otherwise moved on) in the meantime are removed
// without mutation. Returns the number of jobs actually expired.
func (d *Deadlines) Sweep(ctx context.Context, exp Expirer, now time.Time, limit int64) (int, error) {
	ids, err := d.Due(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("scan due deadlines: %w", err)
	}
	expired := 0
	for _, id := range ids {
		_, err := exp.Expire(ctx, id)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, models.ErrStateConflict), errors.Is(err, models.ErrNotFound):
			// Assigned, terminal, or gone; nothing to expire.
		default:
			slog.Warn("expiry sweep: job not expired", "job_id", id, "err", err)
			continue // keep it in the set for the next sweep
		}
		if err := d.Forget(ctx, id); err != nil {
			slog.Warn("expiry sweep: forget failed", "job_id", id, "err", err)
		}
	}
	return expired, nil
}
