// Package notify dispatches job state-change events, completion codes,
// and operator alerts through Redis pub/sub. Delivery is best-effort with
// bounded retry: a failed publish is logged and never rolls back the
// state transition that produced it.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mistriworks/backend/internal/models"
)

const (
	jobEventsChannel = "job.events"
	opsAlertsChannel = "ops.alerts"
	codesChannel     = "customer.codes"
)

// JobEvent is published after every successful job state transition.
type JobEvent struct {
	Type  string           `json:"type"`
	JobID string           `json:"job_id"`
	From  models.JobStatus `json:"from,omitempty"`
	To    models.JobStatus `json:"to,omitempty"`
	At    time.Time        `json:"at"`
}

// CodeMessage carries a completion code to the customer's channels.
type CodeMessage struct {
	JobID         string    `json:"job_id"`
	CustomerPhone string    `json:"customer_phone"`
	Code          string    `json:"code"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Sink is what the engines publish through. Implementations must not
// block unboundedly: engines call them outside any job lock but on the
// request path.
type Sink interface {
	PublishJobEvent(ctx context.Context, e JobEvent)
	SendCompletionCode(ctx context.Context, m CodeMessage)
	OperatorAlert(ctx context.Context, jobID, msg string)
}

// Notifier publishes over Redis with bounded retry.
type Notifier struct {
	client  *redis.Client
	retries int
}

// New builds a Notifier. retries is the number of re-attempts after the
// first failure (minimum 0).
func New(client *redis.Client, retries int) *Notifier {
	if retries < 0 {
		retries = 0
	}
	return &Notifier{client: client, retries: retries}
}

func (n *Notifier) PublishJobEvent(ctx context.Context, e JobEvent) {
	n.publish(ctx, jobEventsChannel, e)
}

func (n *Notifier) SendCompletionCode(ctx context.Context, m CodeMessage) {
	n.publish(ctx, codesChannel, m)
}

func (n *Notifier) OperatorAlert(ctx context.Context, jobID, msg string) {
	n.publish(ctx, opsAlertsChannel, map[string]string{"job_id": jobID, "alert": msg})
}

func (n *Notifier) publish(ctx context.Context, channel string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("notify: marshal payload", "channel", channel, "err", err)
		return
	}
	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				slog.Warn("notify: context cancelled", "channel", channel, "err", ctx.Err())
				return
			case <-time.After(backoff(attempt)):
			}
		}
		if lastErr = n.client.Publish(ctx, channel, body).Err(); lastErr == nil {
			return
		}
	}
	slog.Warn("notify: publish failed after retries", "channel", channel, "retries", n.retries, "err", lastErr)
}

func backoff(attempt int) time.Duration {
	d := time.Duration(float64(100*time.Millisecond) * math.Pow(2, float64(attempt-1)))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

// Nop is a Sink that discards everything. Used in tests and tools.
type Nop struct{}

func (Nop) PublishJobEvent(context.Context, JobEvent)      {}
func (Nop) SendCompletionCode(context.Context, CodeMessage) {}
func (Nop) OperatorAlert(context.Context, string, string)  {}
