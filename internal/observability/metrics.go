package observability

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce           sync.Once
	apiRequestsTotal       *prometheus.CounterVec
	apiLatencySeconds      *prometheus.HistogramVec
	apiErrorsTotal         *prometheus.CounterVec
	feedbackDecisionsTotal *prometheus.CounterVec
	feedbackCacheTotal     *prometheus.CounterVec
	submissionIntakeTotal  *prometheus.CounterVec
	gradingRunsTotal       *prometheus.CounterVec
	gradingDuration        prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the grader.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		feedbackDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedback_decisions_total",
			Help: "Feedback visibility decisions by requested category and outcome.",
		}, []string{"category", "outcome"})

		feedbackCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedback_cache_total",
			Help: "Feedback cache lookups by result.",
		}, []string{"result"})

		submissionIntakeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "submissions_intake_total",
			Help: "Submission attempts by intake outcome.",
		}, []string{"outcome"})

		gradingRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_runs_total",
			Help: "Completed grading runs by final submission status.",
		}, []string{"status"})

		gradingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grading_duration_seconds",
			Help:    "Wall clock time spent grading one submission.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			feedbackDecisionsTotal,
			feedbackCacheTotal,
			submissionIntakeTotal,
			gradingRunsTotal,
			gradingDuration,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// FeedbackDecisions counts engine decisions.
func FeedbackDecisions() *prometheus.CounterVec {
	RegisterMetrics()
	return feedbackDecisionsTotal
}

// FeedbackCache counts cache hits and misses for rendered feedback.
func FeedbackCache() *prometheus.CounterVec {
	RegisterMetrics()
	return feedbackCacheTotal
}

// SubmissionIntake counts accepted and rejected submissions.
func SubmissionIntake() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionIntakeTotal
}

// GradingRuns counts finished grading runs.
func GradingRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingRunsTotal
}

// GradingDuration observes how long grading took.
func GradingDuration() prometheus.Histogram {
	RegisterMetrics()
	return gradingDuration
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	return adaptor.HTTPHandler(promhttp.Handler())
}
