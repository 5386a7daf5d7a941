package internaldefs

import (
	goIdentity "github.com/MrEthical07/goIdentity"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goIdentity.MetricOTPSent, Name: "goidentity_otp_sent_total", Help: "One-time codes delivered."},
	{ID: goIdentity.MetricOTPSendRateLimited, Name: "goidentity_otp_send_rate_limited_total", Help: "Code sends refused by the resend delay or throttle."},
	{ID: goIdentity.MetricOTPDeliveryFailed, Name: "goidentity_otp_delivery_failed_total", Help: "Code sends the notifier could not deliver."},
	{ID: goIdentity.MetricOTPVerifySuccess, Name: "goidentity_otp_verify_success_total", Help: "Successful code verifications."},
	{ID: goIdentity.MetricOTPVerifyFailure, Name: "goidentity_otp_verify_failure_total", Help: "Failed code verifications."},
	{ID: goIdentity.MetricOTPAttemptsExhausted, Name: "goidentity_otp_attempts_exhausted_total", Help: "Challenges locked after too many wrong codes."},
	{ID: goIdentity.MetricOTPInvalidated, Name: "goidentity_otp_invalidated_total", Help: "Challenges invalidated explicitly."},
	{ID: goIdentity.MetricLoginSuccess, Name: "goidentity_login_success_total", Help: "Successful logins."},
	{ID: goIdentity.MetricLoginFailure, Name: "goidentity_login_failure_total", Help: "Failed logins."},
	{ID: goIdentity.MetricLoginRateLimited, Name: "goidentity_login_rate_limited_total", Help: "Logins refused by the login throttle."},
	{ID: goIdentity.MetricPasswordRehashed, Name: "goidentity_password_rehashed_total", Help: "Password hashes upgraded on login."},
	{ID: goIdentity.MetricRefreshSuccess, Name: "goidentity_refresh_success_total", Help: "Successful token refreshes."},
	{ID: goIdentity.MetricRefreshFailure, Name: "goidentity_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: goIdentity.MetricRefreshRateLimited, Name: "goidentity_refresh_rate_limited_total", Help: "Refreshes refused by the refresh throttle."},
	{ID: goIdentity.MetricPasswordResetRequest, Name: "goidentity_password_reset_request_total", Help: "Password reset requests."},
	{ID: goIdentity.MetricPasswordResetSuccess, Name: "goidentity_password_reset_success_total", Help: "Completed password resets."},
	{ID: goIdentity.MetricPasswordResetFailure, Name: "goidentity_password_reset_failure_total", Help: "Failed password resets."},
	{ID: goIdentity.MetricAccountVerified, Name: "goidentity_account_verified_total", Help: "Accounts verified by code."},
	{ID: goIdentity.MetricSessionCreated, Name: "goidentity_session_created_total", Help: "Sessions created."},
	{ID: goIdentity.MetricSessionClosed, Name: "goidentity_session_closed_total", Help: "Sessions closed by logout or revocation."},
	{ID: goIdentity.MetricSessionExpired, Name: "goidentity_session_expired_total", Help: "Sessions closed by the expiry sweep."},
	{ID: goIdentity.MetricSessionTouchFailed, Name: "goidentity_session_touch_failed_total", Help: "Activity touches that failed."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goIdentity.MetricValidateLatency, Name: "goidentity_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramBounds are the bucket upper bounds in seconds, as Prometheus labels.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix mirrors HistogramBounds in a form usable inside metric names.
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

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
