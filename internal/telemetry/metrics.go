package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	BidsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_bids_submitted_total", Help: "Bids and counter-offers submitted"})
	BidsAccepted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_bids_accepted_total", Help: "Bids accepted (incl. direct accepts)"})
	BidsRejected     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_bids_rejected_total", Help: "Bids rejected"})
	CapRejections    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_negotiation_cap_rejections_total", Help: "Submissions rejected by the round cap"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_completed_total", Help: "Jobs verified complete"})
	JobsCancelled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_cancelled_total", Help: "Jobs cancelled"})
	JobsExpired      = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_expired_total", Help: "OPEN jobs expired by the visibility sweep"})
	CodesIssued      = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_completion_codes_issued_total", Help: "Completion codes issued or resent"})
	CodeFailures     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_completion_code_failures_total", Help: "Invalid or expired code attempts"})
	EarningsReleased = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_earnings_released_total", Help: "Earnings rows released by the sweep"})
	DisputesOpened   = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_disputes_opened_total", Help: "Payout disputes opened"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_rate_limit_rejects_total", Help: "Bid submissions rejected by the rate limiter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			BidsSubmitted,
			BidsAccepted,
			BidsRejected,
			CapRejections,
			JobsCompleted,
			JobsCancelled,
			JobsExpired,
			CodesIssued,
			CodeFailures,
			EarningsReleased,
			DisputesOpened,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
