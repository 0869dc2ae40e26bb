package metrics

import (
	"strconv"
	"time"
)

// Fetch outcomes
const (
	OutcomeApplied       = "applied"
	OutcomeStale         = "stale"
	OutcomeFailed        = "failed"
	OutcomeUnknownAnchor = "unknown_anchor"
)

// Reheat causes
const (
	CauseReplace = "replace"
	CauseMerge   = "merge"
	CauseDrag    = "drag"
	CauseManual  = "manual"
)

// RecordTick records one simulation tick and how long it took.
func RecordTick(elapsed time.Duration) {
	TicksTotal.Inc()
	TickDuration.Observe(elapsed.Seconds())
}

// RecordSettle counts a transition into the settled state.
func RecordSettle() {
	SettlesTotal.Inc()
}

// RecordReheat counts a reheat with its cause.
func RecordReheat(cause string) {
	ReheatsTotal.WithLabelValues(cause).Inc()
}

// RecordFetch counts a resolved gesture fetch.
func RecordFetch(gesture, outcome string) {
	FetchOutcomes.WithLabelValues(gesture, outcome).Inc()
}

// RecordDroppedLinks adds n malformed links to the running total.
func RecordDroppedLinks(n int) {
	if n > 0 {
		DroppedLinksTotal.Add(float64(n))
	}
}

// RecordBackendRequest counts one backend call. result is "ok" or an error class.
func RecordBackendRequest(endpoint, result string) {
	BackendRequests.WithLabelValues(endpoint, result).Inc()
}

// RecordHTTPRequest counts one served HTTP request.
func RecordHTTPRequest(method, route string, status int) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// RecordRateLimited counts a gesture refused by the session limiter.
func RecordRateLimited(transport string) {
	RateLimitedGestures.WithLabelValues(transport).Inc()
}
