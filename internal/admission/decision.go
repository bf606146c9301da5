package admission

import "time"

// Reason explains a denial.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonRateLimited     Reason = "rate_limited"
	ReasonBotSuspected    Reason = "bot_suspected"
	ReasonShieldTriggered Reason = "shield_triggered"
)

// Decision is the outcome of an admission attempt.
type Decision struct {
	Allowed bool
	Reason  Reason
	Class   Class
	// Limit and Remaining describe the class window after this attempt.
	// Both are zero for inspector denials, which never reach the counter.
	Limit     int
	Remaining int
	// RetryAfter is when the oldest admission leaves the window. Zero when allowed.
	RetryAfter time.Duration
}

// Outcome is the label used for metrics and logs.
func (d Decision) Outcome() string {
	if d.Allowed {
		return "allowed"
	}
	return string(d.Reason)
}
