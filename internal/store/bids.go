package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mistriworks/backend/internal/models"
)

const bidColumns = `id, job_id, bidder_id, offered_price, reason,
	is_counter_offer, round_number, status, parent_bid_id, created_at`

// InsertBid appends a bid and persists the job's negotiation bookkeeping
// (round counter, version bump) in one transaction. When the bid counters
// an earlier one, the parent is marked COUNTERED in the same transaction.
func (s *Postgres) InsertBid(ctx context.Context, bid *models.Bid, job *models.Job) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO bids (id, job_id, bidder_id, offered_price, reason,
			is_counter_offer, round_number, status, parent_bid_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, bid.ID, bid.JobID, bid.BidderID, bid.OfferedPrice, bid.Reason,
		bid.IsCounterOffer, bid.RoundNumber, bid.Status, bid.ParentBidID, bid.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bid: %w", err)
	}

	if bid.ParentBidID != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE bids SET status = $2 WHERE id = $1 AND status = $3
		`, *bid.ParentBidID, models.BidCountered, models.BidPending); err != nil {
			return fmt.Errorf("mark parent countered: %w", err)
		}
	}

	if err := s.updateJob(ctx, tx, job); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AcceptBid commits an assignment decision: the (already mutated) job row
// is written under its version guard, the winning bid flips to ACCEPTED,
// and every sibling PENDING bid expires. Exactly one of two concurrent
// accepts can commit; the loser sees ErrStateConflict from the version
// guard.
func (s *Postgres) AcceptBid(ctx context.Context, job *models.Job, bid *models.Bid) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.updateJob(ctx, tx, job); err != nil {
		return err
	}
	if bid != nil {
		tag, err := tx.Exec(ctx, `
			UPDATE bids SET status = $2 WHERE id = $1 AND status = $3
		`, bid.ID, models.BidAccepted, models.BidPending)
		if err != nil {
			return fmt.Errorf("accept bid: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("bid %s no longer pending: %w", bid.ID, models.ErrStateConflict)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE bids SET status = $3 WHERE job_id = $1 AND id <> $2 AND status IN ($4, $5)
		`, job.ID, bid.ID, models.BidExpired, models.BidPending, models.BidCountered); err != nil {
			return fmt.Errorf("expire sibling bids: %w", err)
		}
		bid.Status = models.BidAccepted
	} else {
		// Direct accept of the posted price: no winning bid, everything
		// still open on the job expires.
		if _, err := tx.Exec(ctx, `
			UPDATE bids SET status = $2 WHERE job_id = $1 AND status IN ($3, $4)
		`, job.ID, models.BidExpired, models.BidPending, models.BidCountered); err != nil {
			return fmt.Errorf("expire open bids: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetBid fetches a bid by id.
func (s *Postgres) GetBid(ctx context.Context, id string) (models.Bid, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)
	bid, err := scanBid(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Bid{}, models.ErrNotFound
	}
	return bid, err
}

// ListBidsByJob returns every bid on a job, oldest first.
func (s *Postgres) ListBidsByJob(ctx context.Context, jobID string) ([]models.Bid, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+bidColumns+` FROM bids WHERE job_id = $1 ORDER BY created_at
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query bids: %w", err)
	}
	defer rows.Close()

	bids := make([]models.Bid, 0)
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

// UpdateBidStatus sets the status of a single bid.
func (s *Postgres) UpdateBidStatus(ctx context.Context, bidID string, status models.BidStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE bids SET status = $2 WHERE id = $1`, bidID, status)
	if err != nil {
		return fmt.Errorf("update bid status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func scanBid(row pgx.Row) (models.Bid, error) {
	var b models.Bid
	if err := row.Scan(&b.ID, &b.JobID, &b.BidderID, &b.OfferedPrice, &b.Reason,
		&b.IsCounterOffer, &b.RoundNumber, &b.Status, &b.ParentBidID, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Bid{}, err
		}
		return models.Bid{}, fmt.Errorf("scan bid: %w", err)
	}
	return b, nil
}
