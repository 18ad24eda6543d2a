package internaldefs

import (
	"github.com/MrEthical07/guestauth"
)

// CounterDef names one exported counter. Flow and Outcome place it inside a
// per-flow OpenTelemetry instrument; Name is the flat Prometheus name.
type CounterDef struct {
	ID      guestauth.MetricID
	Name    string
	Help    string
	Flow    string
	Outcome string
}

// Flows in export order with the description of their instrument.
var Flows = []struct {
	Name string
	Help string
}{
	{"login", "Password login attempts by outcome."},
	{"lockout", "Account lockout decisions by outcome."},
	{"two_factor", "Second-factor enrollment and challenge events by outcome."},
	{"session", "Session lifecycle events by outcome."},
	{"account", "Guest account management events by outcome."},
	{"api_token", "API application token events by outcome."},
	{"access", "Requests refused by the access guards."},
	{"backend", "Backend failures absorbed by the engine."},
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   guestauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter in export order.
var CounterDefs = []CounterDef{
	{ID: guestauth.MetricLoginSuccess, Name: "guestauth_login_success_total", Help: "Completed logins.", Flow: "login", Outcome: "success"},
	{ID: guestauth.MetricLoginFailure, Name: "guestauth_login_failure_total", Help: "Logins rejected for invalid credentials.", Flow: "login", Outcome: "failure"},
	{ID: guestauth.MetricLoginRateLimited, Name: "guestauth_login_rate_limited_total", Help: "Logins rejected by the per-IP throttle.", Flow: "login", Outcome: "rate_limited"},
	{ID: guestauth.MetricLockoutTriggered, Name: "guestauth_lockout_triggered_total", Help: "Accounts locked after repeated failures.", Flow: "lockout", Outcome: "triggered"},
	{ID: guestauth.MetricLockoutRejected, Name: "guestauth_lockout_rejected_total", Help: "Logins rejected while an account was locked.", Flow: "lockout", Outcome: "rejected"},
	{ID: guestauth.MetricTwoFactorRequired, Name: "guestauth_two_factor_required_total", Help: "Logins that issued a two-factor challenge.", Flow: "two_factor", Outcome: "required"},
	{ID: guestauth.MetricTwoFactorSuccess, Name: "guestauth_two_factor_success_total", Help: "Two-factor challenges completed.", Flow: "two_factor", Outcome: "success"},
	{ID: guestauth.MetricTwoFactorFailure, Name: "guestauth_two_factor_failure_total", Help: "Two-factor codes rejected.", Flow: "two_factor", Outcome: "failure"},
	{ID: guestauth.MetricTwoFactorEnabled, Name: "guestauth_two_factor_enabled_total", Help: "Two-factor enrollments confirmed.", Flow: "two_factor", Outcome: "enabled"},
	{ID: guestauth.MetricTwoFactorDisabled, Name: "guestauth_two_factor_disabled_total", Help: "Two-factor configurations removed.", Flow: "two_factor", Outcome: "disabled"},
	{ID: guestauth.MetricCodeResent, Name: "guestauth_code_resent_total", Help: "Email codes re-sent.", Flow: "two_factor", Outcome: "code_resent"},
	{ID: guestauth.MetricResendLimited, Name: "guestauth_code_resend_limited_total", Help: "Resends refused by the resend cap.", Flow: "two_factor", Outcome: "resend_limited"},
	{ID: guestauth.MetricRefreshSuccess, Name: "guestauth_refresh_success_total", Help: "Sessions rotated.", Flow: "session", Outcome: "refreshed"},
	{ID: guestauth.MetricRefreshFailure, Name: "guestauth_refresh_failure_total", Help: "Refresh attempts rejected.", Flow: "session", Outcome: "refresh_rejected"},
	{ID: guestauth.MetricSessionCreated, Name: "guestauth_session_created_total", Help: "Sessions created.", Flow: "session", Outcome: "created"},
	{ID: guestauth.MetricLogout, Name: "guestauth_logout_total", Help: "Single-session logouts.", Flow: "session", Outcome: "logout"},
	{ID: guestauth.MetricLogoutAll, Name: "guestauth_logout_all_total", Help: "Logout-everywhere operations.", Flow: "session", Outcome: "logout_all"},
	{ID: guestauth.MetricRegisterSuccess, Name: "guestauth_register_success_total", Help: "Accounts registered.", Flow: "account", Outcome: "registered"},
	{ID: guestauth.MetricRegisterDuplicate, Name: "guestauth_register_duplicate_total", Help: "Registrations rejected for an existing email.", Flow: "account", Outcome: "register_duplicate"},
	{ID: guestauth.MetricPasswordChangeSuccess, Name: "guestauth_password_change_success_total", Help: "Passwords changed.", Flow: "account", Outcome: "password_changed"},
	{ID: guestauth.MetricPasswordChangeInvalidOld, Name: "guestauth_password_change_invalid_old_total", Help: "Password changes with a wrong current password.", Flow: "account", Outcome: "password_change_invalid_old"},
	{ID: guestauth.MetricAccountDeleted, Name: "guestauth_account_deleted_total", Help: "Accounts deleted.", Flow: "account", Outcome: "deleted"},
	{ID: guestauth.MetricAPITokenIssued, Name: "guestauth_api_token_issued_total", Help: "API tokens issued.", Flow: "api_token", Outcome: "issued"},
	{ID: guestauth.MetricAPITokenRevoked, Name: "guestauth_api_token_revoked_total", Help: "API tokens revoked.", Flow: "api_token", Outcome: "revoked"},
	{ID: guestauth.MetricAPITokenValid, Name: "guestauth_api_token_valid_total", Help: "API token authentications accepted.", Flow: "api_token", Outcome: "accepted"},
	{ID: guestauth.MetricAPITokenInvalid, Name: "guestauth_api_token_invalid_total", Help: "API token authentications rejected.", Flow: "api_token", Outcome: "rejected"},
	{ID: guestauth.MetricScopeDenied, Name: "guestauth_scope_denied_total", Help: "Requests refused for a missing scope.", Flow: "access", Outcome: "scope_denied"},
	{ID: guestauth.MetricCSRFRejected, Name: "guestauth_csrf_rejected_total", Help: "Requests refused by the CSRF check.", Flow: "access", Outcome: "csrf_rejected"},
	{ID: guestauth.MetricCounterUnavailable, Name: "guestauth_counter_unavailable_total", Help: "Rate counter failures that failed open.", Flow: "backend", Outcome: "counter_unavailable"},
}

// HistogramDefs lists the exported histograms.
var HistogramDefs = []HistogramDef{
	{ID: guestauth.MetricValidateLatency, Name: "guestauth_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramBounds are the bucket upper bounds in seconds.
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

// HistogramBoundSuffix are HistogramBounds in instrument-name form.
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

// NormalizeBuckets copies raw into a fixed eight-bucket array.
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
