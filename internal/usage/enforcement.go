package usage

import (
	"math"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/window"
)

// Status is the graduated enforcement signal
type Status string

const (
	StatusAllowed   Status = "allowed"
	StatusWarning15 Status = "warning_15"
	StatusWarning5  Status = "warning_5"
	StatusBlocked   Status = "blocked"
)

const (
	warning15Seconds = 15 * 60
	warning5Seconds  = 5 * 60
)

// Verdict is the enforcement state derived from a config and a balance
type Verdict struct {
	Status             Status
	Unlimited          bool
	LimitMinutes       *int
	UsedSeconds        int64
	EducationalSeconds int64
	// RemainingSeconds is meaningless when Unlimited and may be negative
	RemainingSeconds int64
}

// RemainingMinutes returns the remaining minutes clamped at zero, or nil
// when unlimited
func (v Verdict) RemainingMinutes() *float64 {
	if v.Unlimited {
		return nil
	}
	remaining := v.RemainingSeconds
	if remaining < 0 {
		remaining = 0
	}
	m := Minutes(remaining)
	return &m
}

// LimitFor returns the limit that applies on day: the weekend limit for
// Saturdays and Sundays, the weekday limit otherwise. Nil means unlimited.
func LimitFor(cfg *storage.ProfileConfig, day window.Day) *int {
	if day.IsWeekend() {
		return cfg.WeekendLimitMinutes
	}
	return cfg.WeekdayLimitMinutes
}

// StatusFor maps remaining seconds to a status
func StatusFor(remainingSeconds int64) Status {
	switch {
	case remainingSeconds <= 0:
		return StatusBlocked
	case remainingSeconds <= warning5Seconds:
		return StatusWarning5
	case remainingSeconds <= warning15Seconds:
		return StatusWarning15
	default:
		return StatusAllowed
	}
}

// Evaluate derives the verdict for a balance under limit. A nil balance is
// zero usage.
func Evaluate(limit *int, b *storage.Balance) Verdict {
	v := Verdict{LimitMinutes: limit}
	if b != nil {
		v.UsedSeconds = b.UsedSeconds
		v.EducationalSeconds = b.EducationalSeconds
		v.Unlimited = b.UnlimitedOverride
	}
	if limit == nil {
		v.Unlimited = true
	}
	if v.Unlimited {
		v.Status = StatusAllowed
		return v
	}

	v.RemainingSeconds = int64(*limit)*60 - v.UsedSeconds
	v.Status = StatusFor(v.RemainingSeconds)
	return v
}

// Minutes converts seconds to minutes rounded to one decimal place
func Minutes(seconds int64) float64 {
	return math.Round(float64(seconds)/6) / 10
}
