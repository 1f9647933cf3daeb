package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mistriworks/backend/internal/models"
)

const jobColumns = `id, job_number, status, priority, poster_id, fulfiller_id,
	customer_name, customer_phone, lat, lng, address, category, region,
	estimated_cost, final_price, price_locked, allow_bargaining, negotiation_rounds,
	completion_code, code_expires_at, verified_at, warranty_days, warranty_start,
	before_photos, after_photos, scheduled_at, started_at, completed_at,
	version, created_at, updated_at`

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	PosterID        string
	Priority        string
	CustomerName    string
	CustomerPhone   string
	Location        models.Location
	Category        string
	Region          string
	EstimatedCost   int64
	AllowBargaining bool
	WarrantyDays    int
	ScheduledAt     *time.Time
}

// CreateJob inserts an OPEN job row and returns it.
func (s *Postgres) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	if p.Priority == "" {
		p.Priority = "default"
	}
	id := uuid.New().String()
	now := time.Now().UTC()
	job := models.Job{
		ID:              id,
		JobNumber:       newJobNumber(id),
		Status:          models.StatusOpen,
		Priority:        p.Priority,
		PosterID:        p.PosterID,
		CustomerName:    p.CustomerName,
		CustomerPhone:   p.CustomerPhone,
		Location:        p.Location,
		Category:        p.Category,
		Region:          p.Region,
		EstimatedCost:   p.EstimatedCost,
		AllowBargaining: p.AllowBargaining,
		WarrantyDays:    p.WarrantyDays,
		ScheduledAt:     p.ScheduledAt,
		BeforePhotos:    []string{},
		AfterPhotos:     []string{},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, job_number, status, priority, poster_id,
			customer_name, customer_phone, lat, lng, address, category, region,
			estimated_cost, allow_bargaining, warranty_days, scheduled_at,
			version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, $17, $17)
	`, job.ID, job.JobNumber, job.Status, job.Priority, job.PosterID,
		job.CustomerName, job.CustomerPhone, job.Location.Lat, job.Location.Lng,
		job.Location.Address, job.Category, job.Region, job.EstimatedCost,
		job.AllowBargaining, job.WarrantyDays, job.ScheduledAt, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by id.
func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, models.ErrNotFound
	}
	return job, err
}

// UpdateJob persists every mutable job field guarded by the optimistic
// version column. On success job.Version is bumped in place; if a
// concurrent writer got there first the update matches no row and
// ErrStateConflict is returned.
func (s *Postgres) UpdateJob(ctx context.Context, job *models.Job) error {
	return s.updateJob(ctx, s.pool, job)
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx so versioned
// job updates can run standalone or inside a transaction.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Postgres) updateJob(ctx context.Context, q pgxQuerier, job *models.Job) error {
	before, err := json.Marshal(job.BeforePhotos)
	if err != nil {
		return fmt.Errorf("marshal before photos: %w", err)
	}
	after, err := json.Marshal(job.AfterPhotos)
	if err != nil {
		return fmt.Errorf("marshal after photos: %w", err)
	}
	now := time.Now().UTC()
	tag, err := q.Exec(ctx, `
		UPDATE jobs SET
			status = $3, fulfiller_id = $4, final_price = $5, price_locked = $6,
			negotiation_rounds = $7, completion_code = $8, code_expires_at = $9,
			verified_at = $10, warranty_start = $11, before_photos = $12,
			after_photos = $13, started_at = $14, completed_at = $15,
			version = version + 1, updated_at = $16
		WHERE id = $1 AND version = $2
	`, job.ID, job.Version, job.Status, job.FulfillerID, job.FinalPrice,
		job.PriceLocked, job.NegotiationRounds, job.CompletionCode,
		job.CodeExpiresAt, job.VerifiedAt, job.WarrantyStart, before, after,
		job.StartedAt, job.CompletedAt, now)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s version %d is stale: %w", job.ID, job.Version, models.ErrStateConflict)
	}
	job.Version++
	job.UpdatedAt = now
	return nil
}

// ListOpenJobsByCategory returns OPEN jobs whose category is in the set,
// newest first. The matching filter does radius/ordering in memory.
func (s *Postgres) ListOpenJobsByCategory(ctx context.Context, categories []string) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND category = ANY($2)
		ORDER BY created_at DESC
	`, models.StatusOpen, categories)
	if err != nil {
		return nil, fmt.Errorf("query open jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// AppendAudit adds an audit row.
func (s *Postgres) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}

// ListAudit returns the audit trail for a job, oldest first.
func (s *Postgres) ListAudit(ctx context.Context, jobID string) ([]models.AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, event, detail, ts FROM audit_logs WHERE job_id = $1 ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	out := make([]models.AuditLog, 0)
	for rows.Next() {
		var a models.AuditLog
		if err := rows.Scan(&a.JobID, &a.Event, &a.Detail, &a.Recorded); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var before, after []byte
	if err := row.Scan(&job.ID, &job.JobNumber, &job.Status, &job.Priority,
		&job.PosterID, &job.FulfillerID, &job.CustomerName, &job.CustomerPhone,
		&job.Location.Lat, &job.Location.Lng, &job.Location.Address,
		&job.Category, &job.Region, &job.EstimatedCost, &job.FinalPrice,
		&job.PriceLocked, &job.AllowBargaining, &job.NegotiationRounds,
		&job.CompletionCode, &job.CodeExpiresAt, &job.VerifiedAt,
		&job.WarrantyDays, &job.WarrantyStart, &before, &after,
		&job.ScheduledAt, &job.StartedAt, &job.CompletedAt,
		&job.Version, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, err
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if err := json.Unmarshal(before, &job.BeforePhotos); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal before photos: %w", err)
	}
	if err := json.Unmarshal(after, &job.AfterPhotos); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal after photos: %w", err)
	}
	return job, nil
}

func newJobNumber(id string) string {
	return "SJ-" + strings.ToUpper(id[:8])
}
