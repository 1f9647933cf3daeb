package models

import (
	"time"
)

// JobStatus enumerates job lifecycle states persisted in Postgres.
type JobStatus string

const (
	StatusOpen              JobStatus = "OPEN"
	StatusAssigned          JobStatus = "ASSIGNED"
	StatusInProgress        JobStatus = "IN_PROGRESS"
	StatusCompletionPending JobStatus = "COMPLETION_PENDING_APPROVAL"
	StatusCompleted         JobStatus = "COMPLETED"
	StatusCancelled         JobStatus = "CANCELLED"
	StatusExpired           JobStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// Location is a WGS84 point plus the human-readable address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// Job is a service job posted by a dealer and fulfilled by a technician.
// Prices are int64 minor units (paise). Version is the optimistic-lock
// column: every mutating UPDATE is guarded by it.
type Job struct {
	ID                string     `json:"id"`
	JobNumber         string     `json:"job_number"`
	Status            JobStatus  `json:"status"`
	Priority          string     `json:"priority"`
	PosterID          string     `json:"poster_id"`
	FulfillerID       *string    `json:"fulfiller_id,omitempty"`
	CustomerName      string     `json:"customer_name"`
	CustomerPhone     string     `json:"customer_phone"`
	Location          Location   `json:"location"`
	Category          string     `json:"category"`
	Region            string     `json:"region"`
	EstimatedCost     int64      `json:"estimated_cost"`
	FinalPrice        *int64     `json:"final_price,omitempty"`
	PriceLocked       bool       `json:"price_locked"`
	AllowBargaining   bool       `json:"allow_bargaining"`
	NegotiationRounds int        `json:"negotiation_rounds"`
	CompletionCode    *string    `json:"-"`
	CodeExpiresAt     *time.Time `json:"code_expires_at,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	WarrantyDays      int        `json:"warranty_days"`
	WarrantyStart     *time.Time `json:"warranty_start_date,omitempty"`
	BeforePhotos      []string   `json:"before_photos"`
	AfterPhotos       []string   `json:"after_photos"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Assigned reports whether a fulfiller currently holds this job.
func (j *Job) Assigned() bool { return j.FulfillerID != nil }

// AuditLog is an append-only activity row, one per transition or decision.
type AuditLog struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
