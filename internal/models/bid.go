package models

import "time"

// BidStatus enumerates the lifecycle of a single price proposal.
type BidStatus string

const (
	BidPending   BidStatus = "PENDING"
	BidAccepted  BidStatus = "ACCEPTED"
	BidRejected  BidStatus = "REJECTED"
	BidCountered BidStatus = "COUNTERED"
	BidExpired   BidStatus = "EXPIRED"
)

// Bid is one proposed price from either party on a job. Counter-offers
// reference the bid they answer through ParentBidID, forming a chain.
type Bid struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	BidderID       string    `json:"bidder_id"`
	OfferedPrice   int64     `json:"offered_price"`
	Reason         string    `json:"reason,omitempty"`
	IsCounterOffer bool      `json:"is_counter_offer"`
	RoundNumber    int       `json:"round_number"`
	Status         BidStatus `json:"status"`
	ParentBidID    *string   `json:"parent_bid_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
