package internaldefs

import (
	"github.com/MrEthical07/authsession"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   authsession.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram.
type HistogramDef struct {
	ID   authsession.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authsession.MetricLoginSuccess, Name: "authsession_login_success_total", Help: "Successful sign-ins."},
	{ID: authsession.MetricLoginFailure, Name: "authsession_login_failure_total", Help: "Failed sign-ins."},
	{ID: authsession.MetricLogout, Name: "authsession_logout_total", Help: "Sign-outs."},
	{ID: authsession.MetricRegisterSuccess, Name: "authsession_register_success_total", Help: "Successful sign-ups."},
	{ID: authsession.MetricRegisterFailure, Name: "authsession_register_failure_total", Help: "Failed sign-ups."},
	{ID: authsession.MetricRefreshCall, Name: "authsession_refresh_calls_total", Help: "Refresh requests sent to the backend."},
	{ID: authsession.MetricRefreshWaiter, Name: "authsession_refresh_shared_total", Help: "Callers served by a shared refresh flight."},
	{ID: authsession.MetricRefreshSuccess, Name: "authsession_refresh_success_total", Help: "Successful refreshes."},
	{ID: authsession.MetricRefreshFailure, Name: "authsession_refresh_failure_total", Help: "Failed refreshes."},
	{ID: authsession.MetricTokenExtractionFailure, Name: "authsession_token_extraction_failure_total", Help: "Backend responses without a token at the configured pointer."},
	{ID: authsession.MetricSessionFetched, Name: "authsession_session_fetched_total", Help: "Session payloads loaded."},
	{ID: authsession.MetricSessionInvalid, Name: "authsession_session_invalid_total", Help: "Session payloads rejected for their shape."},
	{ID: authsession.MetricSessionCleared, Name: "authsession_session_cleared_total", Help: "Logged-in to logged-out transitions."},
	{ID: authsession.MetricUnauthorizedResponse, Name: "authsession_unauthorized_response_total", Help: "401 responses seen by the authenticated transport."},
	{ID: authsession.MetricFetchError, Name: "authsession_fetch_error_total", Help: "Non-2xx backend responses."},
	{ID: authsession.MetricCrossTabLogout, Name: "authsession_cross_context_logout_total", Help: "Logouts caused by another context."},
	{ID: authsession.MetricCrossTabReload, Name: "authsession_cross_context_reload_total", Help: "Reloads caused by a login in another context."},
	{ID: authsession.MetricHandoff, Name: "authsession_handoff_total", Help: "Server to client state handoffs."},
}

var HistogramDefs = []HistogramDef{
	{ID: authsession.MetricRefreshLatency, Name: "authsession_refresh_latency_seconds", Help: "Refresh round-trip latency."},
}

// HistogramBounds are the upper bounds in seconds of the first seven buckets; the
// eighth bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters without native
// histogram instruments.
var HistogramBoundSuffix = []string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// DroppedEventsName counts events lost to dispatcher backpressure.
const DroppedEventsName = "authsession_events_dropped_total"

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
