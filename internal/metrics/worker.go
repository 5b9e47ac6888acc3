package metrics

import "time"

// Attempt outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeSkipped   = "skipped"
)

// AttemptFinished records one processing attempt.
func AttemptFinished(outcome string, duration time.Duration) {
	JobAttempts.WithLabelValues(outcome).Inc()
	JobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// AICall records one AI service call.
func AICall(status string, duration time.Duration) {
	AIAPICalls.WithLabelValues(status).Inc()
	AIAPIDuration.Observe(duration.Seconds())
}

// QueueStats publishes queue sizes.
func QueueStats(ready, delayed, inFlight, dead int64) {
	QueueDepth.WithLabelValues("ready").Set(float64(ready))
	QueueDepth.WithLabelValues("delayed").Set(float64(delayed))
	QueueDepth.WithLabelValues("in_flight").Set(float64(inFlight))
	QueueDepth.WithLabelValues("dead").Set(float64(dead))
}
