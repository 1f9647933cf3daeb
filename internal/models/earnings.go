package models

import "time"

// EarningsStatus tracks a payout through the warranty-hold window.
type EarningsStatus string

const (
	EarningsOnHold   EarningsStatus = "ON_HOLD"
	EarningsReleased EarningsStatus = "RELEASED"
	EarningsDisputed EarningsStatus = "DISPUTED"
	EarningsForfeit  EarningsStatus = "FORFEITED"
)

// EarningsSource distinguishes the two settlement cycles: job payouts
// held for the warranty window, product-order payouts held T+N from
// delivery.
type EarningsSource string

const (
	SourceJob          EarningsSource = "JOB"
	SourceProductOrder EarningsSource = "PRODUCT_ORDER"
)

// Earnings is the ledger row created when a job completes (or a product
// order is delivered). Amounts are int64 minor units.
type Earnings struct {
	JobID            string         `json:"job_id"`
	PayeeID          string         `json:"payee_id"`
	Source           EarningsSource `json:"source"`
	FinalPrice       int64          `json:"final_price"`
	CommissionRate   float64        `json:"commission_rate"`
	CommissionAmount int64          `json:"commission_amount"`
	NetPayout        int64          `json:"net_payout"`
	Status           EarningsStatus `json:"status"`
	HoldReleaseDate  time.Time      `json:"hold_release_date"`
	ReleasedDate     *time.Time     `json:"released_date,omitempty"`
	DisputeReason    string         `json:"dispute_reason,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}
