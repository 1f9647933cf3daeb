package completion_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mistriworks/backend/internal/completion"
	"github.com/mistriworks/backend/internal/models"
	"github.com/mistriworks/backend/internal/notify"
	"github.com/mistriworks/backend/internal/store"
)

const tech = "tech-1"

type settlementSpy struct {
	calls []models.Job
	err   error
}

func (s *settlementSpy) OnJobCompleted(_ context.Context, job models.Job) error {
	s.calls = append(s.calls, job)
	return s.err
}

func setup(t *testing.T) (*completion.Verifier, *store.Memory, *settlementSpy) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	st := store.NewMemory()
	spy := &settlementSpy{}
	v := completion.NewVerifier(st, rdb, notify.Nop{}, spy, completion.Options{})
	return v, st, spy
}

// inProgressJob seeds a job already assigned to tech and started.
func inProgressJob(t *testing.T, st *store.Memory, withPhotos bool) models.Job {
	t.Helper()
	ctx := context.Background()
	job, err := st.CreateJob(ctx, store.CreateJobParams{
		PosterID:        "dealer-1",
		Category:        "ac_repair",
		EstimatedCost:   10000,
		AllowBargaining: false,
		WarrantyDays:    7,
		CustomerPhone:   "+919800000000",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	fulfiller := tech
	price := job.EstimatedCost
	job.Status = models.StatusInProgress
	job.FulfillerID = &fulfiller
	job.FinalPrice = &price
	job.PriceLocked = true
	if withPhotos {
		job.BeforePhotos = []string{"s3://evidence/b.jpg"}
		job.AfterPhotos = []string{"s3://evidence/a.jpg"}
	}
	if err := st.UpdateJob(ctx, &job); err != nil {
		t.Fatalf("seed job state: %v", err)
	}
	return job
}

var sixDigits = regexp.MustCompile(`^\d{6}$`)

func TestRequestCode_RequiresPhotoEvidence(t *testing.T) {
	ctx := context.Background()
	v, st, _ := setup(t)
	job := inProgressJob(t, st, false)

	if _, err := v.RequestCode(ctx, job.ID, tech); !errors.Is(err, models.ErrPreconditionFailed) {
		t.Fatalf("no photos: got %v, want ErrPreconditionFailed", err)
	}

	// Add one before and one after photo; the request now succeeds.
	job, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	job.BeforePhotos = []string{"s3://evidence/b.jpg"}
	job.AfterPhotos = []string{"s3://evidence/a.jpg"}
	if err := st.UpdateJob(ctx, &job); err != nil {
		t.Fatalf("attach photos: %v", err)
	}

	before := time.Now()
	got, err := v.RequestCode(ctx, job.ID, tech)
	if err != nil {
		t.Fatalf("request code: %v", err)
	}
	if got.Status != models.StatusCompletionPending {
		t.Fatalf("status = %s, want COMPLETION_PENDING_APPROVAL", got.Status)
	}
	if got.CompletionCode == nil || !sixDigits.MatchString(*got.CompletionCode) {
		t.Fatalf("code = %v, want 6 digits", got.CompletionCode)
	}
	wantExpiry := before.Add(15 * time.Minute)
	if got.CodeExpiresAt == nil || got.CodeExpiresAt.Before(wantExpiry.Add(-time.Minute)) ||
		got.CodeExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Fatalf("expiry = %v, want ~now+15m", got.CodeExpiresAt)
	}
}

func TestRequestCode_ResendInvalidatesPriorCode(t *testing.T) {
	ctx := context.Background()
	v, st, _ := setup(t)
	job := inProgressJob(t, st, true)

	first, err := v.RequestCode(ctx, job.ID, tech)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	second, err := v.RequestCode(ctx, job.ID, tech)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if second.Status != models.StatusCompletionPending {
		t.Fatalf("status after resend = %s", second.Status)
	}
	if *first.CompletionCode == *second.CompletionCode {
		t.Skip("codes collided; 1-in-a-million draw")
	}
	if _, err := v.VerifyCode(ctx, job.ID, *first.CompletionCode); !errors.Is(err, models.ErrInvalidCode) {
		t.Fatalf("old code after resend: got %v, want ErrInvalidCode", err)
	}
}

func TestVerifyCode_CompletesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	v, st, spy := setup(t)
	job := inProgressJob(t, st, true)

	issued, err := v.RequestCode(ctx, job.ID, tech)
	if err != nil {
		t.Fatalf("request code: %v", err)
	}

	got, err := v.VerifyCode(ctx, job.ID, *issued.CompletionCode)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	if got.VerifiedAt == nil || got.CompletedAt == nil || got.WarrantyStart == nil {
		t.Fatalf("timestamps missing: verified=%v completed=%v warranty=%v",
			got.VerifiedAt, got.CompletedAt, got.WarrantyStart)
	}
	if !got.WarrantyStart.Equal(*got.CompletedAt) {
		t.Fatalf("warranty start %v != completed at %v", got.WarrantyStart, got.CompletedAt)
	}
	if len(spy.calls) != 1 {
		t.Fatalf("settlement hook called %d times, want 1", len(spy.calls))
	}

	// Repeat verification after completion is a state conflict.
	if _, err := v.VerifyCode(ctx, job.ID, *issued.CompletionCode); !errors.Is(err, models.ErrStateConflict) {
		t.Fatalf("repeat verify: got %v, want ErrStateConflict", err)
	}
	if len(spy.calls) != 1 {
		t.Fatalf("settlement hook re-fired on repeat verify")
	}
}

func TestVerifyCode_Mismatch(t *testing.T) {
	ctx := context.Background()
	v, st, _ := setup(t)
	job := inProgressJob(t, st, true)

	issued, err := v.RequestCode(ctx, job.ID, tech)
	if err != nil {
		t.Fatalf("request code: %v", err)
	}
	wrong := "000000"
	if wrong == *issued.CompletionCode {
		wrong = "000001"
	}
	if _, err := v.VerifyCode(ctx, job.ID, wrong); !errors.Is(err, models.ErrInvalidCode) {
		t.Fatalf("wrong code: got %v, want ErrInvalidCode", err)
	}
	current, _ := st.GetJob(ctx, job.ID)
	if current.Status != models.StatusCompletionPending {
		t.Fatalf("status after mismatch = %s, want COMPLETION_PENDING_APPROVAL", current.Status)
	}
}

func TestVerifyCode_AttemptLimit(t *testing.T) {
	ctx := context.Background()
	v, st, _ := setup(t)
	job := inProgressJob(t, st, true)

	issued, err := v.RequestCode(ctx, job.ID, tech)
	if err != nil {
		t.Fatalf("request code: %v", err)
	}
	wrong := "000000"
	if wrong == *issued.CompletionCode {
		wrong = "000001"
	}
	for i := 0; i < completion.DefaultMaxAttempts; i++ {
		if _, err := v.VerifyCode(ctx, job.ID, wrong); !errors.Is(err, models.ErrInvalidCode) {
			t.Fatalf("attempt %d: got %v", i+1, err)
		}
	}
	// The budget is spent: even the right code is refused until reissue.
	if _, err := v.VerifyCode(ctx, job.ID, *issued.CompletionCode); !errors.Is(err, models.ErrInvalidCode) {
		t.Fatalf("after limit: got %v, want ErrInvalidCode", err)
	}

	reissued, err := v.RequestCode(ctx, job.ID, tech)
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if _, err := v.VerifyCode(ctx, job.ID, *reissued.CompletionCode); err != nil {
		t.Fatalf("verify after reissue: %v", err)
	}
}

func TestVerifyCode_Expired(t *testing.T) {
	ctx := context.Background()
	v, st, _ := setup(t)
	job := inProgressJob(t, st, true)

	issued, err := v.RequestCode(ctx, job.ID, tech)
	if err != nil {
		t.Fatalf("request code: %v", err)
	}

	// Age the code past its TTL.
	current, _ := st.GetJob(ctx, job.ID)
	past := time.Now().UTC().Add(-time.Minute)
	current.CodeExpiresAt = &past
	if err := st.UpdateJob(ctx, &current); err != nil {
		t.Fatalf("age code: %v", err)
	}

	if _, err := v.VerifyCode(ctx, job.ID, *issued.CompletionCode); !errors.Is(err, models.ErrCodeExpired) {
		t.Fatalf("expired code: got %v, want ErrCodeExpired", err)
	}
	current, _ = st.GetJob(ctx, job.ID)
	if current.Status != models.StatusCompletionPending {
		t.Fatalf("status after expiry = %s, want COMPLETION_PENDING_APPROVAL", current.Status)
	}

	// A fresh code completes the job.
	fresh, err := v.RequestCode(ctx, job.ID, tech)
	if err != nil {
		t.Fatalf("fresh code: %v", err)
	}
	if _, err := v.VerifyCode(ctx, job.ID, *fresh.CompletionCode); err != nil {
		t.Fatalf("verify fresh code: %v", err)
	}
}

func TestRequestCode_OnlyAssignedTechnician(t *testing.T) {
	ctx := context.Background()
	v, st, _ := setup(t)
	job := inProgressJob(t, st, true)

	if _, err := v.RequestCode(ctx, job.ID, "tech-2"); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("stranger request: got %v, want ErrUnauthorized", err)
	}
}
