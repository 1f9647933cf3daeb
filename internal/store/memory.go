package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mistriworks/backend/internal/models"
)

// Memory is an in-process implementation of the same operations the
// Postgres store exposes. It backs the engine tests and local development
// without a database, with the same version-guard semantics.
type Memory struct {
	mu       sync.Mutex
	jobs     map[string]models.Job
	bids     map[string]models.Bid
	earnings map[string]models.Earnings
	audit    []models.AuditLog
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:     make(map[string]models.Job),
		bids:     make(map[string]models.Bid),
		earnings: make(map[string]models.Earnings),
	}
}

func (m *Memory) CreateJob(_ context.Context, p CreateJobParams) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

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
	m.jobs[id] = job
	return job, nil
}

func (m *Memory) GetJob(_ context.Context, id string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, models.ErrNotFound
	}
	return job, nil
}

func (m *Memory) UpdateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateJobLocked(job)
}

func (m *Memory) updateJobLocked(job *models.Job) error {
	current, ok := m.jobs[job.ID]
	if !ok {
		return models.ErrNotFound
	}
	if current.Version != job.Version {
		return fmt.Errorf("job %s version %d is stale: %w", job.ID, job.Version, models.ErrStateConflict)
	}
	job.Version++
	job.UpdatedAt = time.Now().UTC()
	m.jobs[job.ID] = *job
	return nil
}

func (m *Memory) ListOpenJobsByCategory(_ context.Context, categories []string) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}
	jobs := make([]models.Job, 0)
	for _, job := range m.jobs {
		if job.Status != models.StatusOpen {
			continue
		}
		if _, ok := set[job.Category]; !ok {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

func (m *Memory) InsertBid(_ context.Context, bid *models.Bid, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = time.Now().UTC()
	}
	if err := m.updateJobLocked(job); err != nil {
		return err
	}
	if bid.ParentBidID != nil {
		if parent, ok := m.bids[*bid.ParentBidID]; ok && parent.Status == models.BidPending {
			parent.Status = models.BidCountered
			m.bids[parent.ID] = parent
		}
	}
	m.bids[bid.ID] = *bid
	return nil
}

func (m *Memory) AcceptBid(_ context.Context, job *models.Job, bid *models.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bid != nil {
		stored, ok := m.bids[bid.ID]
		if !ok {
			return models.ErrNotFound
		}
		if stored.Status != models.BidPending {
			return fmt.Errorf("bid %s no longer pending: %w", bid.ID, models.ErrStateConflict)
		}
	}
	if err := m.updateJobLocked(job); err != nil {
		return err
	}
	for id, other := range m.bids {
		if other.JobID != job.ID {
			continue
		}
		if other.Status != models.BidPending && other.Status != models.BidCountered {
			continue
		}
		if bid != nil && id == bid.ID {
			continue
		}
		other.Status = models.BidExpired
		m.bids[id] = other
	}
	if bid != nil {
		stored := m.bids[bid.ID]
		stored.Status = models.BidAccepted
		m.bids[bid.ID] = stored
		bid.Status = models.BidAccepted
	}
	return nil
}

func (m *Memory) GetBid(_ context.Context, id string) (models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bid, ok := m.bids[id]
	if !ok {
		return models.Bid{}, models.ErrNotFound
	}
	return bid, nil
}

func (m *Memory) ListBidsByJob(_ context.Context, jobID string) ([]models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bids := make([]models.Bid, 0)
	for _, b := range m.bids {
		if b.JobID == jobID {
			bids = append(bids, b)
		}
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].CreatedAt.Before(bids[j].CreatedAt) })
	return bids, nil
}

func (m *Memory) UpdateBidStatus(_ context.Context, bidID string, status models.BidStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bid, ok := m.bids[bidID]
	if !ok {
		return models.ErrNotFound
	}
	bid.Status = status
	m.bids[bidID] = bid
	return nil
}

func (m *Memory) CreateEarnings(_ context.Context, e models.Earnings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.earnings[e.JobID]; ok {
		return fmt.Errorf("earnings for job %s already exist: %w", e.JobID, models.ErrStateConflict)
	}
	m.earnings[e.JobID] = e
	return nil
}

func (m *Memory) GetEarningsByJob(_ context.Context, jobID string) (models.Earnings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.earnings[jobID]
	if !ok {
		return models.Earnings{}, models.ErrNotFound
	}
	return e, nil
}

func (m *Memory) ReleaseDue(_ context.Context, now time.Time) ([]models.Earnings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	released := make([]models.Earnings, 0)
	utc := now.UTC()
	for id, e := range m.earnings {
		if e.Status != models.EarningsOnHold || e.HoldReleaseDate.After(utc) {
			continue
		}
		e.Status = models.EarningsReleased
		t := utc
		e.ReleasedDate = &t
		m.earnings[id] = e
		released = append(released, e)
	}
	return released, nil
}

func (m *Memory) MarkDisputed(_ context.Context, jobID, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.earnings[jobID]
	if !ok || e.Status != models.EarningsOnHold || !e.HoldReleaseDate.After(now.UTC()) {
		return fmt.Errorf("earnings for job %s not disputable: %w", jobID, models.ErrStateConflict)
	}
	e.Status = models.EarningsDisputed
	e.DisputeReason = reason
	m.earnings[jobID] = e
	return nil
}

func (m *Memory) ResolveDispute(_ context.Context, jobID string, release bool, now time.Time) (models.Earnings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.earnings[jobID]
	if !ok || e.Status != models.EarningsDisputed {
		return models.Earnings{}, fmt.Errorf("no open dispute for job %s: %w", jobID, models.ErrStateConflict)
	}
	if release {
		e.Status = models.EarningsReleased
		t := now.UTC()
		e.ReleasedDate = &t
	} else {
		e.Status = models.EarningsForfeit
	}
	m.earnings[jobID] = e
	return e, nil
}

func (m *Memory) AppendAudit(_ context.Context, jobID, event, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, models.AuditLog{
		JobID: jobID, Event: event, Detail: detail, Recorded: time.Now().UTC(),
	})
	return nil
}

func (m *Memory) ListAudit(_ context.Context, jobID string) ([]models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditLog, 0)
	for _, a := range m.audit {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out, nil
}
