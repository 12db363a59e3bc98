package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/window"
)

// Reasons reported when playback is not eligible
const (
	ReasonDailyLimitReached = "daily_limit_reached"
)

// Ledger answers balance and eligibility queries for the current viewing day
type Ledger struct {
	directory *Directory
	configs   *ConfigService
	balances  storage.BalanceStore
	clock     window.Clock
}

// NewLedger creates a ledger reader
func NewLedger(directory *Directory, configs *ConfigService, balances storage.BalanceStore, clock window.Clock) *Ledger {
	return &Ledger{directory: directory, configs: configs, balances: balances, clock: clock}
}

// today is the profile's current viewing day and its bounds
type today struct {
	cfg       *storage.ProfileConfig
	day       window.Day
	dayStart  time.Time
	nextReset time.Time
}

func currentDay(ctx context.Context, configs *ConfigService, profileID string, now time.Time) (*today, error) {
	cfg, err := configs.GetOrCreate(ctx, profileID)
	if err != nil {
		return nil, err
	}

	loc, err := window.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", profileID, err)
	}

	day := window.ResolveViewingDay(now, loc, cfg.ResetHour)
	return &today{
		cfg:       cfg,
		day:       day,
		dayStart:  window.DayStart(day, cfg.ResetHour, loc),
		nextReset: window.NextResetInstant(day, cfg.ResetHour, loc),
	}, nil
}

func getBalance(ctx context.Context, balances storage.BalanceStore, profileID, day string) (*storage.Balance, error) {
	b, err := balances.Get(ctx, profileID, day)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	return b, nil
}

// Balance returns the profile's balance for the current viewing day
func (l *Ledger) Balance(ctx context.Context, profileID string) (*BalanceView, error) {
	view, _, err := l.balance(ctx, profileID)
	return view, err
}

// balance returns the view with the verdict it was built from. The verdict
// is nil for profiles without limits.
func (l *Ledger) balance(ctx context.Context, profileID string) (*BalanceView, *Verdict, error) {
	profile, err := l.directory.Profile(ctx, profileID)
	if err != nil {
		return nil, nil, err
	}

	view := &BalanceView{ProfileID: profile.ID, IsChildProfile: profile.Limited}
	if !profile.Limited {
		return view, nil, nil
	}

	t, err := currentDay(ctx, l.configs, profileID, l.clock.Now())
	if err != nil {
		return nil, nil, err
	}

	b, err := getBalance(ctx, l.balances, profileID, t.day.String())
	if err != nil {
		return nil, nil, err
	}

	limit := LimitFor(t.cfg, t.day)
	verdict := Evaluate(limit, b)
	dayStart, nextReset := t.dayStart, t.nextReset

	view.Day = t.day.String()
	view.HasLimits = limit != nil
	view.UsedMinutes = Minutes(verdict.UsedSeconds)
	view.EducationalMinutes = Minutes(verdict.EducationalSeconds)
	view.LimitMinutes = limit
	view.RemainingMinutes = verdict.RemainingMinutes()
	view.IsUnlimitedOverride = b != nil && b.UnlimitedOverride
	view.DayStartedAt = &dayStart
	view.NextResetAt = &nextReset

	return view, &verdict, nil
}

// Eligibility reports whether the profile may start playback now
func (l *Ledger) Eligibility(ctx context.Context, profileID string) (*Eligibility, error) {
	view, verdict, err := l.balance(ctx, profileID)
	if err != nil {
		return nil, err
	}

	if verdict == nil || verdict.Unlimited {
		return &Eligibility{Eligible: true}, nil
	}

	if verdict.Status == StatusBlocked {
		return &Eligibility{
			Eligible:         false,
			RemainingMinutes: view.RemainingMinutes,
			Reason:           ReasonDailyLimitReached,
			NextResetAt:      view.NextResetAt,
		}, nil
	}

	return &Eligibility{
		Eligible:         true,
		RemainingMinutes: view.RemainingMinutes,
		NextResetAt:      view.NextResetAt,
	}, nil
}
