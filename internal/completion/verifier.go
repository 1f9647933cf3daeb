// Package completion issues and validates the one-time completion code
// that confirms a job with the customer, gated on photo evidence.
package completion

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mistriworks/backend/internal/lifecycle"
	"github.com/mistriworks/backend/internal/models"
	"github.com/mistriworks/backend/internal/notify"
)

const (
	// DefaultCodeTTL is how long an issued code stays valid.
	DefaultCodeTTL = 15 * time.Minute
	// DefaultMaxAttempts bounds wrong-code guesses per issued code.
	DefaultMaxAttempts = 5
)

// Store is the persistence slice the verifier mutates jobs through.
type Store interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	AppendAudit(ctx context.Context, jobID, event, detail string) error
}

// SettlementHook is invoked exactly once per job after a successful
// verification commits.
type SettlementHook interface {
	OnJobCompleted(ctx context.Context, job models.Job) error
}

// Verifier issues and checks completion codes.
type Verifier struct {
	store       Store
	rdb         *redis.Client
	events      notify.Sink
	settlement  SettlementHook
	codeTTL     time.Duration
	maxAttempts int
}

// Options tune the verifier; zero values fall back to defaults.
type Options struct {
	CodeTTL     time.Duration
	MaxAttempts int
}

func NewVerifier(store Store, rdb *redis.Client, events notify.Sink, settlement SettlementHook, opts Options) *Verifier {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = DefaultCodeTTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if events == nil {
		events = notify.Nop{}
	}
	return &Verifier{
		store:       store,
		rdb:         rdb,
		events:      events,
		settlement:  settlement,
		codeTTL:     opts.CodeTTL,
		maxAttempts: opts.MaxAttempts,
	}
}

// RequestCode generates a 6-digit code for an IN_PROGRESS job with full
// photo evidence and moves it to COMPLETION_PENDING_APPROVAL. Calling it
// again before verification regenerates the code and resets the expiry,
// invalidating the prior code. The code is dispatched to the customer
// outside the mutation; delivery failure never rolls the state back.
func (v *Verifier) RequestCode(ctx context.Context, jobID, actorID string) (models.Job, error) {
	job, err := v.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.FulfillerID == nil || *job.FulfillerID != actorID {
		return models.Job{}, fmt.Errorf("only the assigned technician may request a code: %w", models.ErrUnauthorized)
	}

	from := job.Status
	switch job.Status {
	case models.StatusInProgress:
		if err := lifecycle.Apply(&job, models.StatusCompletionPending); err != nil {
			return models.Job{}, err
		}
	case models.StatusCompletionPending:
		// Resend: regenerate in place.
		if len(job.BeforePhotos) == 0 || len(job.AfterPhotos) == 0 {
			return models.Job{}, fmt.Errorf("photo evidence incomplete: %w", models.ErrPreconditionFailed)
		}
	default:
		return models.Job{}, fmt.Errorf("cannot request completion code in %s: %w", job.Status, models.ErrStateConflict)
	}

	code, err := newCode()
	if err != nil {
		return models.Job{}, fmt.Errorf("generate code: %w", err)
	}
	expires := time.Now().UTC().Add(v.codeTTL)
	job.CompletionCode = &code
	job.CodeExpiresAt = &expires

	if err := v.store.UpdateJob(ctx, &job); err != nil {
		return models.Job{}, err
	}
	v.resetAttempts(ctx, jobID)

	_ = v.store.AppendAudit(ctx, jobID, "code_issued", "expires="+expires.Format(time.RFC3339))
	v.events.SendCompletionCode(ctx, notify.CodeMessage{
		JobID:         jobID,
		CustomerPhone: job.CustomerPhone,
		Code:          code,
		ExpiresAt:     expires,
	})
	if from != job.Status {
		v.events.PublishJobEvent(ctx, notify.JobEvent{
			Type: "job.completion_pending", JobID: jobID, From: from, To: job.Status, At: time.Now().UTC(),
		})
	}
	return job, nil
}

// VerifyCode completes the job when the entered code matches and has not
// expired. Mismatches count against a bounded attempt budget; an expired
// code requires a fresh RequestCode.
func (v *Verifier) VerifyCode(ctx context.Context, jobID, enteredCode string) (models.Job, error) {
	if enteredCode == "" {
		return models.Job{}, models.Validationf("code is required")
	}
	job, err := v.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.StatusCompletionPending {
		return models.Job{}, fmt.Errorf("job is %s, not awaiting verification: %w", job.Status, models.ErrStateConflict)
	}
	if job.CompletionCode == nil || job.CodeExpiresAt == nil {
		return models.Job{}, fmt.Errorf("no active completion code: %w", models.ErrStateConflict)
	}

	now := time.Now().UTC()
	if now.After(*job.CodeExpiresAt) {
		return models.Job{}, models.ErrCodeExpired
	}
	if !v.allowAttempt(ctx, jobID) {
		return models.Job{}, fmt.Errorf("attempt limit reached, request a new code: %w", models.ErrInvalidCode)
	}
	if enteredCode != *job.CompletionCode {
		_ = v.store.AppendAudit(ctx, jobID, "code_mismatch", "")
		return models.Job{}, models.ErrInvalidCode
	}

	from := job.Status
	if err := lifecycle.Apply(&job, models.StatusCompleted); err != nil {
		return models.Job{}, err
	}
	job.VerifiedAt = &now
	job.CompletedAt = &now
	job.WarrantyStart = &now
	if err := v.store.UpdateJob(ctx, &job); err != nil {
		return models.Job{}, err
	}
	v.resetAttempts(ctx, jobID)

	_ = v.store.AppendAudit(ctx, jobID, "completed", "code verified")
	v.events.PublishJobEvent(ctx, notify.JobEvent{
		Type: "job.completed", JobID: jobID, From: from, To: job.Status, At: now,
	})

	if v.settlement != nil {
		if err := v.settlement.OnJobCompleted(ctx, job); err != nil {
			// The completion already committed; settlement is repaired
			// out of band.
			slog.Error("settlement on completion failed", "job_id", jobID, "err", err)
			v.events.OperatorAlert(ctx, jobID, "settlement failed after completion: "+err.Error())
		}
	}
	return job, nil
}

// allowAttempt consumes one verification attempt. Fails open when Redis
// is unavailable: the code TTL still bounds the window.
func (v *Verifier) allowAttempt(ctx context.Context, jobID string) bool {
	if v.rdb == nil {
		return true
	}
	key := "verify:attempts:" + jobID
	n, err := v.rdb.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("verify attempt counter unavailable", "job_id", jobID, "err", err)
		return true
	}
	if n == 1 {
		v.rdb.Expire(ctx, key, v.codeTTL)
	}
	return n <= int64(v.maxAttempts)
}

func (v *Verifier) resetAttempts(ctx context.Context, jobID string) {
	if v.rdb != nil {
		v.rdb.Del(ctx, "verify:attempts:"+jobID)
	}
}

// newCode draws a uniform 6-digit numeric code.
func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
