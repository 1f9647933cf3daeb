package lifecycle_test

import (
	"errors"
	"testing"

	"github.com/mistriworks/backend/internal/lifecycle"
	"github.com/mistriworks/backend/internal/models"
)

func TestParseStatus_ValidValues(t *testing.T) {
	valid := []string{
		"OPEN", "ASSIGNED", "IN_PROGRESS", "COMPLETION_PENDING_APPROVAL",
		"COMPLETED", "CANCELLED", "EXPIRED",
	}
	for _, s := range valid {
		got, err := lifecycle.ParseStatus(s)
		if err != nil {
			t.Errorf("ParseStatus(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseStatus(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseStatus_InvalidValue(t *testing.T) {
	if _, err := lifecycle.ParseStatus("HALF_DONE"); err == nil {
		t.Error("ParseStatus(\"HALF_DONE\") expected error, got nil")
	}
	if _, err := lifecycle.ParseStatus(""); err == nil {
		t.Error("ParseStatus(\"\") expected error, got nil")
	}
}

func TestCanTransition_ValidForward(t *testing.T) {
	cases := []struct {
		from, to models.JobStatus
	}{
		{models.StatusOpen, models.StatusAssigned},
		{models.StatusOpen, models.StatusExpired},
		{models.StatusAssigned, models.StatusInProgress},
		{models.StatusAssigned, models.StatusCancelled},
		{models.StatusInProgress, models.StatusCompletionPending},
		{models.StatusInProgress, models.StatusCancelled},
		{models.StatusCompletionPending, models.StatusCompleted},
	}
	for _, c := range cases {
		if !lifecycle.CanTransition(c.from, c.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", c.from, c.to)
		}
	}
}

func TestCanTransition_Rejected(t *testing.T) {
	cases := []struct {
		from, to models.JobStatus
	}{
		{models.StatusOpen, models.StatusInProgress},
		{models.StatusOpen, models.StatusCompleted},
		{models.StatusOpen, models.StatusCancelled},
		{models.StatusAssigned, models.StatusCompleted},
		{models.StatusInProgress, models.StatusAssigned},
		{models.StatusCompletionPending, models.StatusCancelled},
		{models.StatusCompleted, models.StatusOpen},
		{models.StatusCancelled, models.StatusOpen},
		{models.StatusExpired, models.StatusAssigned},
	}
	for _, c := range cases {
		if lifecycle.CanTransition(c.from, c.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", c.from, c.to)
		}
	}
}

func TestTerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	all := []models.JobStatus{
		models.StatusOpen, models.StatusAssigned, models.StatusInProgress,
		models.StatusCompletionPending, models.StatusCompleted,
		models.StatusCancelled, models.StatusExpired,
	}
	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			if lifecycle.CanTransition(from, to) {
				t.Errorf("terminal state %s has outgoing edge to %s", from, to)
			}
		}
	}
}

func TestApply_InvalidTransitionMutatesNothing(t *testing.T) {
	job := &models.Job{ID: "j1", Status: models.StatusOpen}
	err := lifecycle.Apply(job, models.StatusCompleted)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if job.Status != models.StatusOpen {
		t.Fatalf("status mutated on rejected transition: %s", job.Status)
	}
}

func TestApply_CompletionPendingRequiresBothPhotoSets(t *testing.T) {
	job := &models.Job{ID: "j1", Status: models.StatusInProgress}

	err := lifecycle.Apply(job, models.StatusCompletionPending)
	if !errors.Is(err, models.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed with no photos, got %v", err)
	}

	job.BeforePhotos = []string{"s3://evidence/a.jpg"}
	err = lifecycle.Apply(job, models.StatusCompletionPending)
	if !errors.Is(err, models.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed with only before photos, got %v", err)
	}

	job.AfterPhotos = []string{"s3://evidence/b.jpg"}
	if err := lifecycle.Apply(job, models.StatusCompletionPending); err != nil {
		t.Fatalf("expected success with both photo sets, got %v", err)
	}
	if job.Status != models.StatusCompletionPending {
		t.Fatalf("status = %s, want COMPLETION_PENDING_APPROVAL", job.Status)
	}
}

func TestApply_AssignRequiresNoFulfiller(t *testing.T) {
	tech := "tech-1"
	job := &models.Job{ID: "j1", Status: models.StatusOpen, FulfillerID: &tech}
	err := lifecycle.Apply(job, models.StatusAssigned)
	if !errors.Is(err, models.ErrJobAlreadyAssigned) {
		t.Fatalf("expected ErrJobAlreadyAssigned, got %v", err)
	}
}
