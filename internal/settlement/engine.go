// Package settlement computes commission and payout on completion and
// manages the warranty-hold release schedule, including disputes and the
// simpler T+N product-order cycle.
package settlement

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mistriworks/backend/internal/models"
	"github.com/mistriworks/backend/internal/notify"
)

// Store is the persistence slice the engine works against.
type Store interface {
	GetEarningsByJob(ctx context.Context, jobID string) (models.Earnings, error)
	CreateEarnings(ctx context.Context, e models.Earnings) error
	ReleaseDue(ctx context.Context, now time.Time) ([]models.Earnings, error)
	MarkDisputed(ctx context.Context, jobID, reason string, now time.Time) error
	ResolveDispute(ctx context.Context, jobID string, release bool, now time.Time) (models.Earnings, error)
	AppendAudit(ctx context.Context, jobID, event, detail string) error
}

// RateResolver is the external commission policy, keyed by category and
// region.
type RateResolver interface {
	CommissionRate(ctx context.Context, category, region string) (float64, error)
}

// StaticRates resolves from a category table with per-region overrides
// and a fallback flat rate.
type StaticRates struct {
	ByCategory map[string]float64
	ByRegion   map[string]float64
	Default    float64
}

func (r StaticRates) CommissionRate(_ context.Context, category, region string) (float64, error) {
	if rate, ok := r.ByRegion[region]; ok {
		return rate, nil
	}
	if rate, ok := r.ByCategory[category]; ok {
		return rate, nil
	}
	return r.Default, nil
}

// Engine owns the earnings ledger.
type Engine struct {
	store           Store
	rates           RateResolver
	events          notify.Sink
	productHoldDays int
}

func NewEngine(store Store, rates RateResolver, events notify.Sink, productHoldDays int) *Engine {
	if productHoldDays <= 0 {
		productHoldDays = 7
	}
	if events == nil {
		events = notify.Nop{}
	}
	return &Engine{store: store, rates: rates, events: events, productHoldDays: productHoldDays}
}

// OnJobCompleted creates the ON_HOLD earnings row for a freshly
// completed job: commission from the policy resolver, payout held until
// completedAt + warrantyDays.
func (e *Engine) OnJobCompleted(ctx context.Context, job models.Job) error {
	if job.Status != models.StatusCompleted || job.CompletedAt == nil {
		e.events.OperatorAlert(ctx, job.ID, "settlement requested for non-completed job")
		return fmt.Errorf("job %s is not completed: %w", job.ID, models.ErrStateConflict)
	}
	if job.FinalPrice == nil || job.FulfillerID == nil {
		e.events.OperatorAlert(ctx, job.ID, "completed job missing final price or fulfiller")
		return fmt.Errorf("job %s has no locked price or fulfiller: %w", job.ID, models.ErrStateConflict)
	}

	rate, err := e.rates.CommissionRate(ctx, job.Category, job.Region)
	if err != nil {
		return fmt.Errorf("resolve commission rate: %w", err)
	}
	commission := roundHalfUp(float64(*job.FinalPrice) * rate)
	earnings := models.Earnings{
		JobID:            job.ID,
		PayeeID:          *job.FulfillerID,
		Source:           models.SourceJob,
		FinalPrice:       *job.FinalPrice,
		CommissionRate:   rate,
		CommissionAmount: commission,
		NetPayout:        *job.FinalPrice - commission,
		Status:           models.EarningsOnHold,
		HoldReleaseDate:  job.CompletedAt.AddDate(0, 0, job.WarrantyDays),
		CreatedAt:        time.Now().UTC(),
	}
	if err := e.store.CreateEarnings(ctx, earnings); err != nil {
		return err
	}
	_ = e.store.AppendAudit(ctx, job.ID, "earnings_held",
		fmt.Sprintf("net=%d commission=%d release=%s", earnings.NetPayout,
			earnings.CommissionAmount, earnings.HoldReleaseDate.Format(time.RFC3339)))
	return nil
}

// OnOrderDelivered opens the product-order settlement cycle: a fixed
// T+N-day hold from delivery instead of a warranty window. The same
// release sweep picks the row up.
func (e *Engine) OnOrderDelivered(ctx context.Context, orderID, payeeID string, amount int64, deliveredAt time.Time) error {
	if amount <= 0 {
		return models.Validationf("order amount must be positive, got %d", amount)
	}
	if orderID == "" || payeeID == "" {
		return models.Validationf("order id and payee id are required")
	}
	rate, err := e.rates.CommissionRate(ctx, "product_order", "")
	if err != nil {
		return fmt.Errorf("resolve commission rate: %w", err)
	}
	commission := roundHalfUp(float64(amount) * rate)
	earnings := models.Earnings{
		JobID:            orderID,
		PayeeID:          payeeID,
		Source:           models.SourceProductOrder,
		FinalPrice:       amount,
		CommissionRate:   rate,
		CommissionAmount: commission,
		NetPayout:        amount - commission,
		Status:           models.EarningsOnHold,
		HoldReleaseDate:  deliveredAt.AddDate(0, 0, e.productHoldDays),
		CreatedAt:        time.Now().UTC(),
	}
	if err := e.store.CreateEarnings(ctx, earnings); err != nil {
		return err
	}
	_ = e.store.AppendAudit(ctx, orderID, "earnings_held",
		fmt.Sprintf("source=product_order net=%d release=%s", earnings.NetPayout,
			earnings.HoldReleaseDate.Format(time.RFC3339)))
	return nil
}

// SweepReleases releases every held payout whose window elapsed with no
// open dispute. Re-running the sweep leaves already-released rows alone.
func (e *Engine) SweepReleases(ctx context.Context, now time.Time) ([]models.Earnings, error) {
	released, err := e.store.ReleaseDue(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, r := range released {
		_ = e.store.AppendAudit(ctx, r.JobID, "earnings_released",
			fmt.Sprintf("net=%d", r.NetPayout))
		e.events.PublishJobEvent(ctx, notify.JobEvent{
			Type: "earnings.released", JobID: r.JobID, At: now.UTC(),
		})
	}
	return released, nil
}

// ReportDispute suspends a payout still inside its hold window. Only a
// party to the job may raise it.
func (e *Engine) ReportDispute(ctx context.Context, job models.Job, actorID, reason string) error {
	if actorID != job.PosterID && (job.FulfillerID == nil || *job.FulfillerID != actorID) {
		return fmt.Errorf("only a party to the job may dispute: %w", models.ErrUnauthorized)
	}
	if err := e.store.MarkDisputed(ctx, job.ID, reason, time.Now()); err != nil {
		return err
	}
	_ = e.store.AppendAudit(ctx, job.ID, "dispute_opened",
		fmt.Sprintf("by=%s reason=%s", actorID, reason))
	e.events.PublishJobEvent(ctx, notify.JobEvent{
		Type: "earnings.disputed", JobID: job.ID, At: time.Now().UTC(),
	})
	return nil
}

// ResolveDispute is driven by the external resolution collaborator:
// release pays the technician, otherwise the amount is forfeited.
func (e *Engine) ResolveDispute(ctx context.Context, jobID string, release bool) (models.Earnings, error) {
	earnings, err := e.store.ResolveDispute(ctx, jobID, release, time.Now())
	if err != nil {
		return models.Earnings{}, err
	}
	_ = e.store.AppendAudit(ctx, jobID, "dispute_resolved",
		fmt.Sprintf("released=%v", release))
	return earnings, nil
}

// Earnings returns the ledger row for a job.
func (e *Engine) Earnings(ctx context.Context, jobID string) (models.Earnings, error) {
	return e.store.GetEarningsByJob(ctx, jobID)
}

func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}
