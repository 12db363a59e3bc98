// Package report summarises viewing sessions into per-day history and
// weekly per-profile statistics.
package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/usage"
	"github.com/goodtune/screentime/internal/window"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxSessions caps the sessions scanned per query
	DefaultMaxSessions = 500

	// DefaultMaxDays caps the span of a history query
	DefaultMaxDays = 92

	weekDays     = 7
	topTitleSize = 3
)

// Options bound report queries
type Options struct {
	MaxSessions int
	MaxDays     int
}

// Reporter builds viewing reports from stored sessions
type Reporter struct {
	directory   *usage.Directory
	configs     *usage.ConfigService
	sessions    storage.SessionStore
	clock       window.Clock
	maxSessions int
	maxDays     int
	logger      zerolog.Logger
}

// New creates a reporter
func New(directory *usage.Directory, configs *usage.ConfigService, sessions storage.SessionStore, clock window.Clock, opts Options, logger zerolog.Logger) *Reporter {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = DefaultMaxDays
	}
	if clock == nil {
		clock = window.RealClock{}
	}

	return &Reporter{
		directory:   directory,
		configs:     configs,
		sessions:    sessions,
		clock:       clock,
		maxSessions: opts.MaxSessions,
		maxDays:     opts.MaxDays,
		logger:      logger.With().Str("component", "reporter").Logger(),
	}
}

// DaySummary is the viewing of one calendar day
type DaySummary struct {
	Day                string  `json:"day"`
	Sessions           int     `json:"sessions"`
	TotalMinutes       float64 `json:"total_minutes"`
	EducationalMinutes float64 `json:"educational_minutes"`
	CountedMinutes     float64 `json:"counted_minutes"`
}

// History is the per-day viewing of a profile over an inclusive day range
type History struct {
	ProfileID string       `json:"profile_id"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Days      []DaySummary `json:"days"`
	// Truncated is set when the session scan cap was reached
	Truncated bool `json:"truncated"`
}

// dayTotals accumulates seconds for one day
type dayTotals struct {
	sessions    int
	total       int64
	educational int64
}

func (d dayTotals) summary(day window.Day) DaySummary {
	return DaySummary{
		Day:                day.String(),
		Sessions:           d.sessions,
		TotalMinutes:       usage.Minutes(d.total),
		EducationalMinutes: usage.Minutes(d.educational),
		CountedMinutes:     usage.Minutes(d.total - d.educational),
	}
}

// History summarises sessions started between from and to inclusive,
// grouped by the calendar day of their start in the profile's time zone
func (r *Reporter) History(ctx context.Context, profileID string, from, to window.Day) (*History, error) {
	if to.Before(from) {
		return nil, &usage.ValidationError{Field: "to", Message: fmt.Sprintf("%s is before %s", to, from)}
	}
	if span := from.DaysUntil(to) + 1; span > r.maxDays {
		return nil, &usage.ValidationError{Field: "to", Message: fmt.Sprintf("range of %d days exceeds %d", span, r.maxDays)}
	}

	if _, err := r.directory.Profile(ctx, profileID); err != nil {
		return nil, err
	}
	loc, err := r.location(ctx, profileID)
	if err != nil {
		return nil, err
	}

	sessions, err := r.sessions.ListByProfile(ctx, profileID, from.Midnight(loc), to.AddDays(1).Midnight(loc), r.maxSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	totals := groupByDay(sessions, loc)
	history := &History{
		ProfileID: profileID,
		From:      from.String(),
		To:        to.String(),
		Days:      make([]DaySummary, 0, from.DaysUntil(to)+1),
		Truncated: len(sessions) >= r.maxSessions,
	}
	for day := from; !day.After(to); day = day.AddDays(1) {
		history.Days = append(history.Days, totals[day].summary(day))
	}

	if history.Truncated {
		r.logger.Warn().
			Str("profile_id", profileID).
			Int("max_sessions", r.maxSessions).
			Msg("History truncated at session scan cap")
	}

	return history, nil
}

// TitleMinutes is the viewing of one title
type TitleMinutes struct {
	TitleID string  `json:"title_id"`
	Minutes float64 `json:"minutes"`
}

// DayMinutes is one day's total viewing
type DayMinutes struct {
	Day     string  `json:"day"`
	Minutes float64 `json:"minutes"`
}

// ProfileWeek holds one limited profile's trailing week
type ProfileWeek struct {
	ProfileID           string         `json:"profile_id"`
	Name                string         `json:"name"`
	From                string         `json:"from"`
	To                  string         `json:"to"`
	Daily               []DayMinutes   `json:"daily"`
	TotalMinutes        float64        `json:"total_minutes"`
	AverageDailyMinutes float64        `json:"average_daily_minutes"`
	EducationalMinutes  float64        `json:"educational_minutes"`
	TopTitles           []TitleMinutes `json:"top_titles"`
	// LimitUsagePercent is nil when any day of the week had no limit
	LimitUsagePercent *float64 `json:"limit_usage_percent"`
}

// Weekly is the weekly report of an account
type Weekly struct {
	AccountID   string        `json:"account_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Profiles    []ProfileWeek `json:"profiles"`
}

// Weekly reports the trailing seven calendar days of every limited profile
// owned by accountID
func (r *Reporter) Weekly(ctx context.Context, accountID string) (*Weekly, error) {
	profiles, err := r.directory.LimitedProfiles(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	report := &Weekly{
		AccountID:   accountID,
		GeneratedAt: now,
		Profiles:    make([]ProfileWeek, 0, len(profiles)),
	}

	for _, p := range profiles {
		week, err := r.profileWeek(ctx, p, now)
		if err != nil {
			return nil, err
		}
		report.Profiles = append(report.Profiles, *week)
	}

	return report, nil
}

func (r *Reporter) profileWeek(ctx context.Context, profile storage.Profile, now time.Time) (*ProfileWeek, error) {
	cfg, err := r.configs.GetOrCreate(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	loc, err := window.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile.ID, err)
	}

	to := window.DayOf(now.In(loc))
	from := to.AddDays(-(weekDays - 1))

	sessions, err := r.listAll(ctx, profile.ID, from.Midnight(loc), to.AddDays(1).Midnight(loc))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for profile %s: %w", profile.ID, err)
	}

	totals := groupByDay(sessions, loc)
	week := &ProfileWeek{
		ProfileID: profile.ID,
		Name:      profile.Name,
		From:      from.String(),
		To:        to.String(),
		Daily:     make([]DayMinutes, 0, weekDays),
		TopTitles: topTitles(sessions, topTitleSize),
	}

	var total, educational int64
	limitMinutes, limitedEveryDay := 0, true
	for day := from; !day.After(to); day = day.AddDays(1) {
		t := totals[day]
		total += t.total
		educational += t.educational
		week.Daily = append(week.Daily, DayMinutes{Day: day.String(), Minutes: usage.Minutes(t.total)})

		if limit := usage.LimitFor(cfg, day); limit != nil {
			limitMinutes += *limit
		} else {
			limitedEveryDay = false
		}
	}

	week.TotalMinutes = usage.Minutes(total)
	week.AverageDailyMinutes = round1(float64(total) / 60 / weekDays)
	week.EducationalMinutes = usage.Minutes(educational)
	if limitedEveryDay && limitMinutes > 0 {
		pct := round1(float64(total) / 60 / float64(limitMinutes) * 100)
		week.LimitUsagePercent = &pct
	}

	return week, nil
}

// listAll pages through every session started in [from, to), maxSessions
// at a time. Pages restart at the last start time seen, so sessions
// sharing that instant are dropped by id. A full page with nothing new
// is retried at twice the size.
func (r *Reporter) listAll(ctx context.Context, profileID string, from, to time.Time) ([]storage.Session, error) {
	var all []storage.Session
	seen := make(map[string]bool)
	limit := r.maxSessions

	for {
		page, err := r.sessions.ListByProfile(ctx, profileID, from, to, limit)
		if err != nil {
			return nil, err
		}

		added := 0
		for _, s := range page {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			all = append(all, s)
			added++
		}

		if len(page) < limit {
			return all, nil
		}
		if added == 0 {
			limit *= 2
			continue
		}

		from = page[len(page)-1].StartedAt
		limit = r.maxSessions
	}
}

func (r *Reporter) location(ctx context.Context, profileID string) (*time.Location, error) {
	cfg, err := r.configs.GetOrCreate(ctx, profileID)
	if err != nil {
		return nil, err
	}
	loc, err := window.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", profileID, err)
	}
	return loc, nil
}

func groupByDay(sessions []storage.Session, loc *time.Location) map[window.Day]dayTotals {
	totals := make(map[window.Day]dayTotals)
	for _, s := range sessions {
		day := window.DayOf(s.StartedAt.In(loc))
		t := totals[day]
		t.sessions++
		t.total += s.TotalSeconds
		if s.IsEducational {
			t.educational += s.TotalSeconds
		}
		totals[day] = t
	}
	return totals
}

func topTitles(sessions []storage.Session, n int) []TitleMinutes {
	seconds := make(map[string]int64)
	for _, s := range sessions {
		seconds[s.TitleID] += s.TotalSeconds
	}

	type titleSeconds struct {
		title   string
		seconds int64
	}
	pairs := make([]titleSeconds, 0, len(seconds))
	for title, sec := range seconds {
		if sec > 0 {
			pairs = append(pairs, titleSeconds{title, sec})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].seconds != pairs[j].seconds {
			return pairs[i].seconds > pairs[j].seconds
		}
		return pairs[i].title < pairs[j].title
	})

	if len(pairs) < n {
		n = len(pairs)
	}
	top := make([]TitleMinutes, 0, n)
	for _, p := range pairs[:n] {
		top = append(top, TitleMinutes{TitleID: p.title, Minutes: usage.Minutes(p.seconds)})
	}
	return top
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
