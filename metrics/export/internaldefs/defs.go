package internaldefs

import (
	"github.com/MrEthical07/cmsauth"
)

type CounterDef struct {
	ID   cmsauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   cmsauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter. Names are stable.
var CounterDefs = []CounterDef{
	{ID: cmsauth.MetricLoginSuccess, Name: "cmsauth_login_success_total", Help: "Successful logins."},
	{ID: cmsauth.MetricLoginFailure, Name: "cmsauth_login_failure_total", Help: "Failed logins."},
	{ID: cmsauth.MetricLoginRateLimited, Name: "cmsauth_login_rate_limited_total", Help: "Logins rejected by the login limiter."},
	{ID: cmsauth.MetricRefreshSuccess, Name: "cmsauth_refresh_success_total", Help: "Successful token refreshes."},
	{ID: cmsauth.MetricRefreshFailure, Name: "cmsauth_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: cmsauth.MetricRefreshReuseDetected, Name: "cmsauth_refresh_reuse_detected_total", Help: "Refresh tokens presented after their session version moved on."},
	{ID: cmsauth.MetricLogout, Name: "cmsauth_logout_total", Help: "Logout calls."},
	{ID: cmsauth.MetricRegisterSuccess, Name: "cmsauth_register_success_total", Help: "Accounts created."},
	{ID: cmsauth.MetricRegisterDuplicate, Name: "cmsauth_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: cmsauth.MetricRegisterRejected, Name: "cmsauth_register_rejected_total", Help: "Registrations rejected by validation or policy."},
	{ID: cmsauth.MetricVerifyFailure, Name: "cmsauth_verify_failure_total", Help: "Access tokens that failed verification."},
	{ID: cmsauth.MetricUnknownKeyVersion, Name: "cmsauth_unknown_key_version_total", Help: "Tokens signed with a key version not in the manifest."},
	{ID: cmsauth.MetricForbidden, Name: "cmsauth_forbidden_total", Help: "Authorization checks that failed."},
	{ID: cmsauth.MetricAttenuate, Name: "cmsauth_attenuate_total", Help: "Access tokens re-issued with a narrower role."},
	{ID: cmsauth.MetricAPIKeySuccess, Name: "cmsauth_api_key_success_total", Help: "Accepted API keys."},
	{ID: cmsauth.MetricAPIKeyFailure, Name: "cmsauth_api_key_failure_total", Help: "Rejected API keys."},
	{ID: cmsauth.MetricAPIKeyBlocked, Name: "cmsauth_api_key_blocked_total", Help: "API key requests refused by the failure limiter."},
	{ID: cmsauth.MetricRateLimitHit, Name: "cmsauth_rate_limit_hit_total", Help: "Denied rate limiter decisions."},
	{ID: cmsauth.MetricKeyRotated, Name: "cmsauth_key_rotated_total", Help: "Signing key rotations."},
	{ID: cmsauth.MetricKeysPruned, Name: "cmsauth_keys_pruned_total", Help: "Verification keys pruned."},
	{ID: cmsauth.MetricSessionsCleaned, Name: "cmsauth_sessions_cleaned_total", Help: "Idle sessions removed."},
}

var HistogramDefs = []HistogramDef{
	{ID: cmsauth.MetricVerifyLatency, Name: "cmsauth_verify_latency_seconds", Help: "Access token verification latency."},
}

const (
	AuditDroppedName = "cmsauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// HistogramBounds are the finite upper bounds in seconds, matching the
// service's non-cumulative buckets. The last service bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// publish buckets as separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
