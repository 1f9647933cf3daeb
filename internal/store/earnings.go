package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mistriworks/backend/internal/models"
)

const earningsColumns = `job_id, payee_id, source, final_price, commission_rate,
	commission_amount, net_payout, status, hold_release_date, released_date,
	dispute_reason, created_at`

// CreateEarnings inserts a ledger row. A second insert for the same job is
// a conflict, keeping settlement idempotent per job.
func (s *Postgres) CreateEarnings(ctx context.Context, e models.Earnings) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO earnings (job_id, payee_id, source, final_price, commission_rate,
			commission_amount, net_payout, status, hold_release_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id) DO NOTHING
	`, e.JobID, e.PayeeID, e.Source, e.FinalPrice, e.CommissionRate,
		e.CommissionAmount, e.NetPayout, e.Status, e.HoldReleaseDate, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert earnings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("earnings for job %s already exist: %w", e.JobID, models.ErrStateConflict)
	}
	return nil
}

// GetEarningsByJob fetches the ledger row for a job.
func (s *Postgres) GetEarningsByJob(ctx context.Context, jobID string) (models.Earnings, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+earningsColumns+` FROM earnings WHERE job_id = $1`, jobID)
	e, err := scanEarnings(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Earnings{}, models.ErrNotFound
	}
	return e, err
}

// ReleaseDue atomically claims and releases every ON_HOLD row whose hold
// window has elapsed. Rows another sweep already released are not matched,
// so re-running is a no-op for them.
func (s *Postgres) ReleaseDue(ctx context.Context, now time.Time) ([]models.Earnings, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE earnings SET status = $1, released_date = $2
		WHERE status = $3 AND hold_release_date <= $2
		RETURNING `+earningsColumns+`
	`, models.EarningsReleased, now.UTC(), models.EarningsOnHold)
	if err != nil {
		return nil, fmt.Errorf("release due earnings: %w", err)
	}
	defer rows.Close()

	released := make([]models.Earnings, 0)
	for rows.Next() {
		e, err := scanEarnings(rows)
		if err != nil {
			return nil, err
		}
		released = append(released, e)
	}
	return released, rows.Err()
}

// MarkDisputed flips an ON_HOLD row to DISPUTED. Fails once the hold has
// already been released or the window has elapsed.
func (s *Postgres) MarkDisputed(ctx context.Context, jobID, reason string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE earnings SET status = $2, dispute_reason = $3
		WHERE job_id = $1 AND status = $4 AND hold_release_date > $5
	`, jobID, models.EarningsDisputed, reason, models.EarningsOnHold, now.UTC())
	if err != nil {
		return fmt.Errorf("mark disputed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("earnings for job %s not disputable: %w", jobID, models.ErrStateConflict)
	}
	return nil
}

// ResolveDispute finishes a DISPUTED row: released to the payee or
// forfeited. The external resolution collaborator drives this.
func (s *Postgres) ResolveDispute(ctx context.Context, jobID string, release bool, now time.Time) (models.Earnings, error) {
	target := models.EarningsForfeit
	var releasedAt *time.Time
	if release {
		target = models.EarningsReleased
		utc := now.UTC()
		releasedAt = &utc
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE earnings SET status = $2, released_date = $3
		WHERE job_id = $1 AND status = $4
		RETURNING `+earningsColumns+`
	`, jobID, target, releasedAt, models.EarningsDisputed)
	e, err := scanEarnings(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Earnings{}, fmt.Errorf("no open dispute for job %s: %w", jobID, models.ErrStateConflict)
	}
	return e, err
}

func scanEarnings(row pgx.Row) (models.Earnings, error) {
	var e models.Earnings
	if err := row.Scan(&e.JobID, &e.PayeeID, &e.Source, &e.FinalPrice,
		&e.CommissionRate, &e.CommissionAmount, &e.NetPayout, &e.Status,
		&e.HoldReleaseDate, &e.ReleasedDate, &e.DisputeReason, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Earnings{}, err
		}
		return models.Earnings{}, fmt.Errorf("scan earnings: %w", err)
	}
	return e, nil
}
