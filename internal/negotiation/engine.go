// Package negotiation manages bid submission, counter-offers, the hard
// round cap, and the race-safe accept path that assigns a job.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mistriworks/backend/internal/lifecycle"
	"github.com/mistriworks/backend/internal/models"
	"github.com/mistriworks/backend/internal/notify"
)

// DefaultRoundCap bounds negotiation on every job: once the counter
// reaches it, only accept or reject remain legal.
const DefaultRoundCap = 2

// Store is the persistence slice the engine needs. Both the Postgres and
// the in-memory store satisfy it.
type Store interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	GetBid(ctx context.Context, id string) (models.Bid, error)
	ListBidsByJob(ctx context.Context, jobID string) ([]models.Bid, error)
	InsertBid(ctx context.Context, bid *models.Bid, job *models.Job) error
	AcceptBid(ctx context.Context, job *models.Job, bid *models.Bid) error
	UpdateBidStatus(ctx context.Context, bidID string, status models.BidStatus) error
	AppendAudit(ctx context.Context, jobID, event, detail string) error
}

// Engine is the negotiation state machine over one job's bids.
type Engine struct {
	store    Store
	events   notify.Sink
	roundCap int
}

func NewEngine(store Store, events notify.Sink, roundCap int) *Engine {
	if roundCap <= 0 {
		roundCap = DefaultRoundCap
	}
	if events == nil {
		events = notify.Nop{}
	}
	return &Engine{store: store, events: events, roundCap: roundCap}
}

// SubmitBid records a price proposal on an OPEN job. A submission by a
// party already in the conversation (or by the poster answering a pending
// bid) is a counter-offer: it consumes a negotiation round and marks the
// answered bid COUNTERED. The first bid from a technician is an initial
// bid and opens round 1.
func (e *Engine) SubmitBid(ctx context.Context, jobID, bidderID string, price int64, reason string) (models.Bid, error) {
	if bidderID == "" {
		return models.Bid{}, models.Validationf("bidder id is required")
	}
	if price <= 0 {
		return models.Bid{}, models.Validationf("offered price must be positive, got %d", price)
	}

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Bid{}, err
	}
	if job.Status != models.StatusOpen || job.Assigned() {
		return models.Bid{}, models.ErrJobAlreadyAssigned
	}
	if !job.AllowBargaining {
		return models.Bid{}, fmt.Errorf("bargaining disabled, accept the posted price: %w", models.ErrStateConflict)
	}

	bids, err := e.store.ListBidsByJob(ctx, jobID)
	if err != nil {
		return models.Bid{}, err
	}

	isCounter, parent, err := classify(&job, bids, bidderID)
	if err != nil {
		return models.Bid{}, err
	}

	bid := models.Bid{
		ID:           uuid.New().String(),
		JobID:        jobID,
		BidderID:     bidderID,
		OfferedPrice: price,
		Reason:       reason,
		Status:       models.BidPending,
		CreatedAt:    time.Now().UTC(),
	}
	if isCounter {
		if job.NegotiationRounds >= e.roundCap {
			return models.Bid{}, models.ErrNegotiationCapExceeded
		}
		job.NegotiationRounds++
		bid.IsCounterOffer = true
		bid.RoundNumber = job.NegotiationRounds
		if parent != nil {
			bid.ParentBidID = &parent.ID
		}
	} else {
		bid.RoundNumber = 1
		if job.NegotiationRounds < 1 {
			job.NegotiationRounds = 1
		}
	}

	if err := e.store.InsertBid(ctx, &bid, &job); err != nil {
		return models.Bid{}, err
	}

	event := "bid_submitted"
	if bid.IsCounterOffer {
		event = "counter_offer"
	}
	_ = e.store.AppendAudit(ctx, jobID, event,
		fmt.Sprintf("bidder=%s price=%d round=%d", bidderID, price, bid.RoundNumber))
	e.events.PublishJobEvent(ctx, notify.JobEvent{
		Type: "job." + event, JobID: jobID, From: job.Status, To: job.Status, At: time.Now().UTC(),
	})
	return bid, nil
}

// classify decides whether a submission continues the conversation.
// Returns the pending bid it answers, when one exists.
func classify(job *models.Job, bids []models.Bid, bidderID string) (bool, *models.Bid, error) {
	var latestPending *models.Bid
	inConversation := false
	for i := range bids {
		b := &bids[i]
		if b.Status == models.BidPending {
			latestPending = b
		}
		if b.BidderID == bidderID && (b.Status == models.BidPending || b.Status == models.BidCountered) {
			inConversation = true
		}
	}

	if bidderID == job.PosterID {
		if latestPending == nil || latestPending.BidderID == bidderID {
			return false, nil, models.Validationf("poster has no pending bid to counter")
		}
		return true, latestPending, nil
	}
	if inConversation || (latestPending != nil && latestPending.BidderID == job.PosterID) {
		return true, latestPending, nil
	}
	return false, nil, nil
}

// AcceptBid locks the price and assigns the job to the technician side of
// the accepted bid, atomically expiring every other open bid. Of two
// concurrent accepts on one job exactly one commits; the loser gets
// ErrJobAlreadyAssigned.
func (e *Engine) AcceptBid(ctx context.Context, bidID, acceptingPartyID string) (models.Job, error) {
	if acceptingPartyID == "" {
		return models.Job{}, models.Validationf("accepting party id is required")
	}
	bid, err := e.store.GetBid(ctx, bidID)
	if err != nil {
		return models.Job{}, err
	}
	job, err := e.store.GetJob(ctx, bid.JobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.StatusOpen || job.Assigned() {
		return models.Job{}, models.ErrJobAlreadyAssigned
	}
	if bid.Status != models.BidPending {
		return models.Job{}, fmt.Errorf("bid is %s: %w", bid.Status, models.ErrStateConflict)
	}
	if acceptingPartyID == bid.BidderID {
		return models.Job{}, fmt.Errorf("cannot accept own bid: %w", models.ErrUnauthorized)
	}

	fulfillerID, err := e.fulfillerFor(ctx, &job, &bid, acceptingPartyID)
	if err != nil {
		return models.Job{}, err
	}

	from := job.Status
	if err := lifecycle.Apply(&job, models.StatusAssigned); err != nil {
		return models.Job{}, err
	}
	price := bid.OfferedPrice
	job.FinalPrice = &price
	job.PriceLocked = true
	job.FulfillerID = &fulfillerID

	if err := e.store.AcceptBid(ctx, &job, &bid); err != nil {
		return models.Job{}, e.loseAcceptRace(ctx, job.ID, err)
	}

	_ = e.store.AppendAudit(ctx, job.ID, "bid_accepted",
		fmt.Sprintf("bid=%s by=%s final_price=%d fulfiller=%s", bid.ID, acceptingPartyID, price, fulfillerID))
	e.events.PublishJobEvent(ctx, notify.JobEvent{
		Type: "job.assigned", JobID: job.ID, From: from, To: job.Status, At: time.Now().UTC(),
	})
	return job, nil
}

// fulfillerFor resolves which technician the assignment goes to. A bid
// from a technician assigns them; a poster's counter-offer, when
// accepted, assigns the technician who takes it, verified against the
// counter-chain when one exists.
func (e *Engine) fulfillerFor(ctx context.Context, job *models.Job, bid *models.Bid, acceptingPartyID string) (string, error) {
	if bid.BidderID != job.PosterID {
		// Technician's bid: only the poster may accept it.
		if acceptingPartyID != job.PosterID {
			return "", fmt.Errorf("only the poster may accept this bid: %w", models.ErrUnauthorized)
		}
		return bid.BidderID, nil
	}
	// Poster's counter-offer: the accepting technician takes the job.
	if bid.ParentBidID != nil {
		parent, err := e.store.GetBid(ctx, *bid.ParentBidID)
		if err == nil && parent.BidderID != acceptingPartyID {
			return "", fmt.Errorf("counter-offer addressed to another technician: %w", models.ErrUnauthorized)
		}
	}
	return acceptingPartyID, nil
}

// loseAcceptRace maps a version conflict during accept onto the definitive
// error: if a concurrent accept won, JobAlreadyAssigned; otherwise the
// conflict stands and the caller re-reads. A committed assignment that
// left the job without a fulfiller is an irrecoverable inconsistency.
func (e *Engine) loseAcceptRace(ctx context.Context, jobID string, err error) error {
	if !errors.Is(err, models.ErrStateConflict) {
		return err
	}
	current, readErr := e.store.GetJob(ctx, jobID)
	if readErr != nil {
		return err
	}
	if current.Status == models.StatusAssigned && !current.Assigned() {
		e.events.OperatorAlert(ctx, jobID, "assigned job has no fulfiller")
	}
	if current.Assigned() || current.Status != models.StatusOpen {
		return models.ErrJobAlreadyAssigned
	}
	return err
}

// RejectBid declines a pending bid. The job stays OPEN and negotiation
// may continue within the remaining round budget.
func (e *Engine) RejectBid(ctx context.Context, bidID, actorID string) error {
	bid, err := e.store.GetBid(ctx, bidID)
	if err != nil {
		return err
	}
	if bid.Status != models.BidPending {
		return fmt.Errorf("bid is %s: %w", bid.Status, models.ErrStateConflict)
	}
	if actorID == bid.BidderID {
		return fmt.Errorf("cannot reject own bid: %w", models.ErrUnauthorized)
	}
	if err := e.store.UpdateBidStatus(ctx, bidID, models.BidRejected); err != nil {
		return err
	}
	_ = e.store.AppendAudit(ctx, bid.JobID, "bid_rejected",
		fmt.Sprintf("bid=%s by=%s", bidID, actorID))
	return nil
}

// AcceptDirect assigns an OPEN job at its posted estimated cost without
// any bid. This is the only legal assignment path when bargaining is
// disabled, and is always available as a shortcut.
func (e *Engine) AcceptDirect(ctx context.Context, jobID, fulfillerID string) (models.Job, error) {
	if fulfillerID == "" {
		return models.Job{}, models.Validationf("fulfiller id is required")
	}
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if fulfillerID == job.PosterID {
		return models.Job{}, fmt.Errorf("poster cannot fulfill own job: %w", models.ErrUnauthorized)
	}
	if job.Status != models.StatusOpen || job.Assigned() {
		return models.Job{}, models.ErrJobAlreadyAssigned
	}

	from := job.Status
	if err := lifecycle.Apply(&job, models.StatusAssigned); err != nil {
		return models.Job{}, err
	}
	price := job.EstimatedCost
	job.FinalPrice = &price
	job.PriceLocked = true
	job.FulfillerID = &fulfillerID
	if err := e.store.AcceptBid(ctx, &job, nil); err != nil {
		return models.Job{}, e.loseAcceptRace(ctx, job.ID, err)
	}

	_ = e.store.AppendAudit(ctx, job.ID, "direct_accept",
		fmt.Sprintf("fulfiller=%s price=%d", fulfillerID, price))
	e.events.PublishJobEvent(ctx, notify.JobEvent{
		Type: "job.assigned", JobID: job.ID, From: from, To: job.Status, At: time.Now().UTC(),
	})
	return job, nil
}
