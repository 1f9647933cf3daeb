// Package api exposes the job marketplace over HTTP. Actor identity
// arrives on the X-Actor-ID header; authorization itself lives in the
// engines.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mistriworks/backend/internal/completion"
	"github.com/mistriworks/backend/internal/config"
	"github.com/mistriworks/backend/internal/expiry"
	"github.com/mistriworks/backend/internal/lifecycle"
	"github.com/mistriworks/backend/internal/location"
	"github.com/mistriworks/backend/internal/matching"
	"github.com/mistriworks/backend/internal/models"
	"github.com/mistriworks/backend/internal/negotiation"
	"github.com/mistriworks/backend/internal/photos"
	"github.com/mistriworks/backend/internal/ratelimit"
	"github.com/mistriworks/backend/internal/settlement"
	"github.com/mistriworks/backend/internal/store"
	"github.com/mistriworks/backend/internal/telemetry"
)

// maxPhotoBytes bounds a single evidence photo upload.
const maxPhotoBytes = 10 << 20

// Store is the persistence surface the handlers read and create through.
// Mutations beyond creation go through the engines.
type Store interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListBidsByJob(ctx context.Context, jobID string) ([]models.Bid, error)
	ListAudit(ctx context.Context, jobID string) ([]models.AuditLog, error)
}

// Server wires HTTP handlers for the marketplace API.
type Server struct {
	cfg         config.Config
	store       Store
	matcher     *matching.Filter
	negotiator  *negotiation.Engine
	jobs        *lifecycle.Controller
	verifier    *completion.Verifier
	settlements *settlement.Engine
	ingestor    *photos.Ingestor
	tracker     *location.Tracker
	deadlines   *expiry.Deadlines
	limiter     *ratelimit.Limiter
}

// New constructs the API server. tracker, deadlines, and limiter may be
// nil; the corresponding features degrade to no-ops.
func New(
	cfg config.Config,
	st Store,
	matcher *matching.Filter,
	negotiator *negotiation.Engine,
	jobs *lifecycle.Controller,
	verifier *completion.Verifier,
	settlements *settlement.Engine,
	ingestor *photos.Ingestor,
	tracker *location.Tracker,
	deadlines *expiry.Deadlines,
	limiter *ratelimit.Limiter,
) *Server {
	return &Server{
		cfg:         cfg,
		store:       st,
		matcher:     matcher,
		negotiator:  negotiator,
		jobs:        jobs,
		verifier:    verifier,
		settlements: settlements,
		ingestor:    ingestor,
		tracker:     tracker,
		deadlines:   deadlines,
		limiter:     limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs/open", s.handleFindOpen)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/jobs/{id}/audit", s.handleAudit)

	r.Post("/jobs/{id}/bids", s.handleSubmitBid)
	r.Get("/jobs/{id}/bids", s.handleListBids)
	r.Post("/bids/{id}/accept", s.handleAcceptBid)
	r.Post("/bids/{id}/reject", s.handleRejectBid)
	r.Post("/jobs/{id}/accept-direct", s.handleAcceptDirect)

	r.Post("/jobs/{id}/start", s.handleStart)
	r.Post("/jobs/{id}/cancel", s.handleCancel)
	r.Post("/jobs/{id}/photos/{phase}", s.handleUploadPhoto)

	r.Post("/jobs/{id}/completion-code", s.handleRequestCode)
	r.Post("/jobs/{id}/verify", s.handleVerifyCode)

	r.Get("/jobs/{id}/earnings", s.handleEarnings)
	r.Post("/jobs/{id}/dispute", s.handleDispute)

	r.Post("/jobs/{id}/location", s.handleUpdateLocation)
	r.Get("/jobs/{id}/location", s.handleGetLocation)

	return r
}

func actorFromRequest(r *http.Request) string {
	return r.Header.Get("X-Actor-ID")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "dur", time.Since(start))
	})
}

type createJobRequest struct {
	CustomerName    string          `json:"customer_name"`
	CustomerPhone   string          `json:"customer_phone"`
	Location        models.Location `json:"location"`
	Category        string          `json:"category"`
	Region          string          `json:"region"`
	Priority        string          `json:"priority"`
	EstimatedCost   int64           `json:"estimated_cost"`
	AllowBargaining bool            `json:"allow_bargaining"`
	WarrantyDays    int             `json:"warranty_days"`
	ScheduledAt     *time.Time      `json:"scheduled_at"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if actor == "" {
		writeError(w, models.Validationf("X-Actor-ID header is required"))
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Validationf("invalid json: %v", err))
		return
	}
	if req.Category == "" {
		writeError(w, models.Validationf("category is required"))
		return
	}
	if req.EstimatedCost <= 0 {
		writeError(w, models.Validationf("estimated_cost must be positive, got %d", req.EstimatedCost))
		return
	}
	if req.WarrantyDays <= 0 {
		req.WarrantyDays = s.cfg.DefaultWarrantyDays
	}

	job, err := s.store.CreateJob(r.Context(), store.CreateJobParams{
		PosterID:        actor,
		Priority:        req.Priority,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		Location:        req.Location,
		Category:        req.Category,
		Region:          req.Region,
		EstimatedCost:   req.EstimatedCost,
		AllowBargaining: req.AllowBargaining,
		WarrantyDays:    req.WarrantyDays,
		ScheduledAt:     req.ScheduledAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if s.deadlines != nil && s.cfg.VisibilityWindow > 0 {
		_ = s.deadlines.Track(r.Context(), job.ID, time.Now().Add(s.cfg.VisibilityWindow))
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListAudit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type openJobMatch struct {
	Job        models.Job `json:"job"`
	DistanceKm float64    `json:"distance_km"`
}

func (s *Server) handleFindOpen(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	radius, err3 := strconv.ParseFloat(q.Get("radius_km"), 64)
	if err1 != nil || err2 != nil || err3 != nil {
		writeError(w, models.Validationf("lat, lng and radius_km must be numbers"))
		return
	}
	skills := strings.Split(q.Get("skills"), ",")
	filtered := skills[:0]
	for _, sk := range skills {
		if sk = strings.TrimSpace(sk); sk != "" {
			filtered = append(filtered, sk)
		}
	}

	seq, err := s.matcher.FindOpenJobs(r.Context(), models.Location{Lat: lat, Lng: lng}, radius, filtered)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]openJobMatch, 0)
	for m, err := range seq {
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, openJobMatch{Job: m.Job, DistanceKm: m.DistanceKm})
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": out})
}

type submitBidRequest struct {
	Price  int64  `json:"price"`
	Reason string `json:"reason"`
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if actor == "" {
		writeError(w, models.Validationf("X-Actor-ID header is required"))
		return
	}
	if s.limiter != nil {
		allowed, err := s.limiter.AllowBidder(r.Context(), actor)
		if err == nil && !allowed {
			telemetry.RateLimitRejects.Inc()
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			return
		}
	}
	var req submitBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Validationf("invalid json: %v", err))
		return
	}

	bid, err := s.negotiator.SubmitBid(r.Context(), chi.URLParam(r, "id"), actor, req.Price, req.Reason)
	if err != nil {
		if errors.Is(err, models.ErrNegotiationCapExceeded) {
			telemetry.CapRejections.Inc()
		}
		writeError(w, err)
		return
	}
	telemetry.BidsSubmitted.Inc()
	writeJSON(w, http.StatusCreated, bid)
}

func (s *Server) handleListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := s.store.ListBidsByJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": bids})
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if actor == "" {
		writeError(w, models.Validationf("X-Actor-ID header is required"))
		return
	}
	job, err := s.negotiator.AcceptBid(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	telemetry.BidsAccepted.Inc()
	if s.deadlines != nil {
		_ = s.deadlines.Forget(r.Context(), job.ID)
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRejectBid(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if actor == "" {
		writeError(w, models.Validationf("X-Actor-ID header is required"))
		return
	}
	if err := s.negotiator.RejectBid(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
		writeError(w, err)
		return
	}
	telemetry.BidsRejected.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleAcceptDirect(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if actor == "" {
		writeError(w, models.Validationf("X-Actor-ID header is required"))
		return
	}
	job, err := s.negotiator.AcceptDirect(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	telemetry.BidsAccepted.Inc()
	if s.deadlines != nil {
		_ = s.deadlines.Forget(r.Context(), job.ID)
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.StartWork(r.Context(), chi.URLParam(r, "id"), actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	job, err := s.jobs.Cancel(r.Context(), chi.URLParam(r, "id"), actorFromRequest(r), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	telemetry.JobsCancelled.Inc()
	if s.deadlines != nil {
		_ = s.deadlines.Forget(r.Context(), job.ID)
	}
	writeJSON(w, http.StatusOK, job)
}

// handleUploadPhoto ingests the raw image body, stores it, and attaches
// the resulting URI to the job's before/after evidence set.
func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	phase := lifecycle.PhotoPhase(chi.URLParam(r, "phase"))
	if phase != lifecycle.PhotoBefore && phase != lifecycle.PhotoAfter {
		writeError(w, models.Validationf("unknown photo phase %q", phase))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPhotoBytes))
	if err != nil {
		writeError(w, models.Validationf("read photo body: %v", err))
		return
	}
	uri, err := s.ingestor.Ingest(r.Context(), jobID, string(phase), body)
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.jobs.AttachPhoto(r.Context(), jobID, actorFromRequest(r), phase, uri)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	job, err := s.verifier.RequestCode(r.Context(), chi.URLParam(r, "id"), actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	telemetry.CodesIssued.Inc()
	writeJSON(w, http.StatusOK, job)
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Validationf("invalid json: %v", err))
		return
	}
	job, err := s.verifier.VerifyCode(r.Context(), chi.URLParam(r, "id"), req.Code)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCode) || errors.Is(err, models.ErrCodeExpired) {
			telemetry.CodeFailures.Inc()
		}
		writeError(w, err)
		return
	}
	telemetry.JobsCompleted.Inc()
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	e, err := s.settlements.Earnings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.settlements.ReportDispute(r.Context(), job, actorFromRequest(r), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	telemetry.DisputesOpened.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "disputed"})
}

type locationUpdate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, models.ErrNotFound)
		return
	}
	jobID := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	actor := actorFromRequest(r)
	if job.FulfillerID == nil || *job.FulfillerID != actor {
		writeError(w, models.ErrUnauthorized)
		return
	}
	var req locationUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Validationf("invalid json: %v", err))
		return
	}
	if err := s.tracker.Update(r.Context(), jobID, req.Lat, req.Lng); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, models.ErrNotFound)
		return
	}
	p, err := s.tracker.Latest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
