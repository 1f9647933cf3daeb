package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/mistriworks/backend/internal/models"
	"github.com/mistriworks/backend/internal/notify"
)

// Store is the persistence slice the controller mutates jobs through.
type Store interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	AppendAudit(ctx context.Context, jobID, event, detail string) error
}

// Controller drives job transitions that are not owned by the
// negotiation or completion engines: start of work, cancellation,
// visibility expiry, and evidence photo bookkeeping.
type Controller struct {
	store  Store
	events notify.Sink
}

func NewController(store Store, events notify.Sink) *Controller {
	if events == nil {
		events = notify.Nop{}
	}
	return &Controller{store: store, events: events}
}

// StartWork moves an ASSIGNED job to IN_PROGRESS. Only the assigned
// fulfiller may start.
func (c *Controller) StartWork(ctx context.Context, jobID, actorID string) (models.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.FulfillerID == nil || *job.FulfillerID != actorID {
		return models.Job{}, fmt.Errorf("only the assigned technician may start work: %w", models.ErrUnauthorized)
	}
	from := job.Status
	if err := Apply(&job, models.StatusInProgress); err != nil {
		return models.Job{}, err
	}
	now := time.Now().UTC()
	job.StartedAt = &now
	if err := c.store.UpdateJob(ctx, &job); err != nil {
		return models.Job{}, err
	}
	_ = c.store.AppendAudit(ctx, jobID, "work_started", "technician="+actorID)
	c.events.PublishJobEvent(ctx, notify.JobEvent{
		Type: "job.started", JobID: jobID, From: from, To: job.Status, At: now,
	})
	return job, nil
}

// Cancel terminates an ASSIGNED or IN_PROGRESS job. The poster or the
// assigned fulfiller may cancel; completed jobs cannot be.
func (c *Controller) Cancel(ctx context.Context, jobID, actorID, reason string) (models.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if actorID != job.PosterID && (job.FulfillerID == nil || *job.FulfillerID != actorID) {
		return models.Job{}, fmt.Errorf("only a party to the job may cancel: %w", models.ErrUnauthorized)
	}
	from := job.Status
	if err := Apply(&job, models.StatusCancelled); err != nil {
		return models.Job{}, err
	}
	if err := c.store.UpdateJob(ctx, &job); err != nil {
		return models.Job{}, err
	}
	_ = c.store.AppendAudit(ctx, jobID, "cancelled", fmt.Sprintf("by=%s reason=%s", actorID, reason))
	c.events.PublishJobEvent(ctx, notify.JobEvent{
		Type: "job.cancelled", JobID: jobID, From: from, To: job.Status, At: time.Now().UTC(),
	})
	return job, nil
}

// Expire applies the OPEN → EXPIRED visibility timeout. Jobs that were
// assigned in the meantime are left alone (reported via the error).
func (c *Controller) Expire(ctx context.Context, jobID string) (models.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	from := job.Status
	if err := Apply(&job, models.StatusExpired); err != nil {
		return models.Job{}, err
	}
	if err := c.store.UpdateJob(ctx, &job); err != nil {
		return models.Job{}, err
	}
	_ = c.store.AppendAudit(ctx, jobID, "expired", "visibility window elapsed")
	c.events.PublishJobEvent(ctx, notify.JobEvent{
		Type: "job.expired", JobID: jobID, From: from, To: job.Status, At: time.Now().UTC(),
	})
	return job, nil
}

// PhotoPhase selects which evidence set a photo belongs to.
type PhotoPhase string

const (
	PhotoBefore PhotoPhase = "before"
	PhotoAfter  PhotoPhase = "after"
)

// AttachPhoto appends an evidence photo URI to the job. Before-photos may
// be added from assignment on, after-photos once work has started.
// Ordering within each set is append order.
func (c *Controller) AttachPhoto(ctx context.Context, jobID, actorID string, phase PhotoPhase, uri string) (models.Job, error) {
	if uri == "" {
		return models.Job{}, models.Validationf("photo uri is required")
	}
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.FulfillerID == nil || *job.FulfillerID != actorID {
		return models.Job{}, fmt.Errorf("only the assigned technician may attach photos: %w", models.ErrUnauthorized)
	}
	switch phase {
	case PhotoBefore:
		if job.Status != models.StatusAssigned && job.Status != models.StatusInProgress {
			return models.Job{}, fmt.Errorf("cannot attach before-photo in %s: %w", job.Status, models.ErrStateConflict)
		}
		job.BeforePhotos = append(job.BeforePhotos, uri)
	case PhotoAfter:
		if job.Status != models.StatusInProgress {
			return models.Job{}, fmt.Errorf("cannot attach after-photo in %s: %w", job.Status, models.ErrStateConflict)
		}
		job.AfterPhotos = append(job.AfterPhotos, uri)
	default:
		return models.Job{}, models.Validationf("unknown photo phase %q", phase)
	}
	if err := c.store.UpdateJob(ctx, &job); err != nil {
		return models.Job{}, err
	}
	_ = c.store.AppendAudit(ctx, jobID, "photo_attached", fmt.Sprintf("phase=%s uri=%s", phase, uri))
	return job, nil
}
