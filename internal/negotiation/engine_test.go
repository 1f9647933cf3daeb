package negotiation_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mistriworks/backend/internal/models"
	"github.com/mistriworks/backend/internal/negotiation"
	"github.com/mistriworks/backend/internal/notify"
	"github.com/mistriworks/backend/internal/store"
)

const (
	dealer = "dealer-1"
	tech   = "tech-1"
)

func newEngine(t *testing.T) (*negotiation.Engine, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	return negotiation.NewEngine(st, notify.Nop{}, 2), st
}

func openJob(t *testing.T, st *store.Memory, estimated int64, bargaining bool) models.Job {
	t.Helper()
	job, err := st.CreateJob(context.Background(), store.CreateJobParams{
		PosterID:        dealer,
		Category:        "ac_repair",
		EstimatedCost:   estimated,
		AllowBargaining: bargaining,
		WarrantyDays:    7,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

// Scenario: estimated 5000, technician bids 4500 (round 1), dealer
// counters 4800 (round 2, cap reached), any further counter fails, and
// the technician accepting locks 4800.
func TestNegotiation_RoundCapScenario(t *testing.T) {
	ctx := context.Background()
	eng, st := newEngine(t)
	job := openJob(t, st, 5000, true)

	b1, err := eng.SubmitBid(ctx, job.ID, tech, 4500, "rate for split AC")
	if err != nil {
		t.Fatalf("initial bid: %v", err)
	}
	if b1.IsCounterOffer || b1.RoundNumber != 1 {
		t.Fatalf("initial bid: counter=%v round=%d, want initial round 1", b1.IsCounterOffer, b1.RoundNumber)
	}

	b2, err := eng.SubmitBid(ctx, job.ID, dealer, 4800, "meet in the middle")
	if err != nil {
		t.Fatalf("dealer counter: %v", err)
	}
	if !b2.IsCounterOffer || b2.RoundNumber != 2 {
		t.Fatalf("dealer counter: counter=%v round=%d, want counter round 2", b2.IsCounterOffer, b2.RoundNumber)
	}

	if _, err := eng.SubmitBid(ctx, job.ID, tech, 4600, "final"); !errors.Is(err, models.ErrNegotiationCapExceeded) {
		t.Fatalf("third round attempt: got %v, want ErrNegotiationCapExceeded", err)
	}

	got, err := eng.AcceptBid(ctx, b2.ID, tech)
	if err != nil {
		t.Fatalf("accept counter: %v", err)
	}
	if got.FinalPrice == nil || *got.FinalPrice != 4800 {
		t.Fatalf("final price = %v, want 4800", got.FinalPrice)
	}
	if !got.PriceLocked || got.Status != models.StatusAssigned {
		t.Fatalf("job locked=%v status=%s, want locked ASSIGNED", got.PriceLocked, got.Status)
	}
	if got.FulfillerID == nil || *got.FulfillerID != tech {
		t.Fatalf("fulfiller = %v, want %s", got.FulfillerID, tech)
	}
	if got.NegotiationRounds > 2 {
		t.Fatalf("negotiation rounds %d exceeds cap", got.NegotiationRounds)
	}

	// The technician's original bid was consumed by the counter chain.
	stored, err := st.GetBid(ctx, b1.ID)
	if err != nil {
		t.Fatalf("get bid: %v", err)
	}
	if stored.Status == models.BidPending {
		t.Fatalf("countered bid still pending")
	}
}

func TestSubmitBid_Guards(t *testing.T) {
	ctx := context.Background()
	eng, st := newEngine(t)
	job := openJob(t, st, 5000, true)

	if _, err := eng.SubmitBid(ctx, job.ID, tech, 0, ""); !models.IsValidation(err) {
		t.Errorf("zero price: got %v, want ValidationError", err)
	}
	if _, err := eng.SubmitBid(ctx, job.ID, tech, -100, ""); !models.IsValidation(err) {
		t.Errorf("negative price: got %v, want ValidationError", err)
	}
	if _, err := eng.SubmitBid(ctx, job.ID, dealer, 4800, ""); !models.IsValidation(err) {
		t.Errorf("poster countering nothing: got %v, want ValidationError", err)
	}

	fixed := openJob(t, st, 3000, false)
	if _, err := eng.SubmitBid(ctx, fixed.ID, tech, 2500, ""); !errors.Is(err, models.ErrStateConflict) {
		t.Errorf("bargaining disabled: got %v, want ErrStateConflict", err)
	}
}

func TestSubmitBid_AfterAssignmentFails(t *testing.T) {
	ctx := context.Background()
	eng, st := newEngine(t)
	job := openJob(t, st, 5000, true)

	bid, err := eng.SubmitBid(ctx, job.ID, tech, 4500, "")
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := eng.AcceptBid(ctx, bid.ID, dealer); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := eng.SubmitBid(ctx, job.ID, "tech-2", 4000, ""); !errors.Is(err, models.ErrJobAlreadyAssigned) {
		t.Fatalf("bid after assignment: got %v, want ErrJobAlreadyAssigned", err)
	}
}

func TestRejectBid_KeepsJobOpen(t *testing.T) {
	ctx := context.Background()
	eng, st := newEngine(t)
	job := openJob(t, st, 5000, true)

	bid, err := eng.SubmitBid(ctx, job.ID, tech, 4500, "")
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := eng.RejectBid(ctx, bid.ID, dealer); err != nil {
		t.Fatalf("reject: %v", err)
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != models.StatusOpen {
		t.Fatalf("job status %s after reject, want OPEN", got.Status)
	}
	// Further bidding continues within the remaining budget.
	if _, err := eng.SubmitBid(ctx, job.ID, tech, 4700, "revised"); err != nil {
		t.Fatalf("re-bid after reject: %v", err)
	}
}

func TestAcceptBid_Authorization(t *testing.T) {
	ctx := context.Background()
	eng, st := newEngine(t)
	job := openJob(t, st, 5000, true)

	bid, err := eng.SubmitBid(ctx, job.ID, tech, 4500, "")
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := eng.AcceptBid(ctx, bid.ID, tech); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("self-accept: got %v, want ErrUnauthorized", err)
	}
	if _, err := eng.AcceptBid(ctx, bid.ID, "tech-2"); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("third party accept: got %v, want ErrUnauthorized", err)
	}
}

// Two concurrent accepts on the same job: exactly one ASSIGNED, the other
// gets ErrJobAlreadyAssigned.
func TestAcceptBid_ConcurrentAcceptsOneWinner(t *testing.T) {
	ctx := context.Background()
	eng, st := newEngine(t)
	job := openJob(t, st, 5000, true)

	b1, err := eng.SubmitBid(ctx, job.ID, tech, 4500, "")
	if err != nil {
		t.Fatalf("bid 1: %v", err)
	}
	b2, err := eng.SubmitBid(ctx, job.ID, "tech-2", 4600, "")
	if err != nil {
		t.Fatalf("bid 2: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, bidID := range []string{b1.ID, b2.ID} {
		wg.Add(1)
		go func(i int, bidID string) {
			defer wg.Done()
			_, errs[i] = eng.AcceptBid(ctx, bidID, dealer)
		}(i, bidID)
	}
	wg.Wait()

	winners, losers := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, models.ErrJobAlreadyAssigned):
			losers++
		default:
			t.Fatalf("unexpected accept error: %v", err)
		}
	}
	if winners != 1 || losers != 1 {
		t.Fatalf("winners=%d losers=%d, want exactly one of each", winners, losers)
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != models.StatusAssigned || !got.Assigned() {
		t.Fatalf("job status=%s assigned=%v after race", got.Status, got.Assigned())
	}
}

func TestAcceptDirect_FixedPrice(t *testing.T) {
	ctx := context.Background()
	eng, st := newEngine(t)
	job := openJob(t, st, 3000, false)

	got, err := eng.AcceptDirect(ctx, job.ID, tech)
	if err != nil {
		t.Fatalf("direct accept: %v", err)
	}
	if got.FinalPrice == nil || *got.FinalPrice != 3000 {
		t.Fatalf("final price = %v, want estimated 3000", got.FinalPrice)
	}
	if got.Status != models.StatusAssigned || !got.PriceLocked {
		t.Fatalf("status=%s locked=%v, want ASSIGNED locked", got.Status, got.PriceLocked)
	}

	if _, err := eng.AcceptDirect(ctx, job.ID, "tech-2"); !errors.Is(err, models.ErrJobAlreadyAssigned) {
		t.Fatalf("second direct accept: got %v, want ErrJobAlreadyAssigned", err)
	}
}
