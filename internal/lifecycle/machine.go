// Package lifecycle defines the job state machine.
//
// Valid status graph:
//
//	OPEN ──► ASSIGNED ──► IN_PROGRESS ──► COMPLETION_PENDING_APPROVAL ──► COMPLETED
//	  │          │              │
//	  │          └──────────────┴──► CANCELLED
//	  └──► EXPIRED
//
// COMPLETED, CANCELLED, and EXPIRED are terminal states.
package lifecycle

import (
	"fmt"

	"github.com/mistriworks/backend/internal/models"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.StatusOpen:              {models.StatusAssigned, models.StatusExpired},
	models.StatusAssigned:          {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress:        {models.StatusCompletionPending, models.StatusCancelled},
	models.StatusCompletionPending: {models.StatusCompleted},
	// COMPLETED, CANCELLED, EXPIRED are terminal: no outgoing transitions
}

// ParseStatus converts a raw string to a JobStatus, returning a
// ValidationError for unknown values.
func ParseStatus(s string) (models.JobStatus, error) {
	st := models.JobStatus(s)
	switch st {
	case models.StatusOpen, models.StatusAssigned, models.StatusInProgress,
		models.StatusCompletionPending, models.StatusCompleted,
		models.StatusCancelled, models.StatusExpired:
		return st, nil
	}
	return "", models.Validationf("unknown job status %q", s)
}

// CanTransition returns true when moving from → to is permitted by the
// state machine.
func CanTransition(from, to models.JobStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false // terminal state
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Apply moves the job to the target status after checking the transition
// table and the per-edge guards. The job is
// mutated in place; persistence (and the version bump) is the caller's
// concern. Nothing is mutated on error.
func Apply(job *models.Job, to models.JobStatus) error {
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("%s → %s: %w", job.Status, to, models.ErrInvalidTransition)
	}
	if err := guard(job, to); err != nil {
		return err
	}
	job.Status = to
	return nil
}

// guard enforces the per-edge preconditions beyond table membership.
func guard(job *models.Job, to models.JobStatus) error {
	switch to {
	case models.StatusAssigned:
		if job.Assigned() {
			return models.ErrJobAlreadyAssigned
		}
	case models.StatusCompletionPending:
		if len(job.BeforePhotos) == 0 || len(job.AfterPhotos) == 0 {
			return fmt.Errorf("photo evidence incomplete: %w", models.ErrPreconditionFailed)
		}
	case models.StatusExpired:
		if job.Assigned() {
			return fmt.Errorf("job has an accepted bid: %w", models.ErrStateConflict)
		}
	}
	return nil
}
