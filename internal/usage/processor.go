package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/notify"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/window"
	"github.com/rs/zerolog"
)

// Processor turns heartbeats into enforcement verdicts
type Processor struct {
	directory *Directory
	configs   *ConfigService
	balances  storage.BalanceStore
	tracker   *Tracker
	publisher notify.Publisher
	interval  time.Duration
	logger    zerolog.Logger
}

// NewProcessor creates a heartbeat processor
func NewProcessor(directory *Directory, configs *ConfigService, balances storage.BalanceStore, tracker *Tracker, publisher notify.Publisher, interval time.Duration, logger zerolog.Logger) *Processor {
	if interval == 0 {
		interval = DefaultHeartbeatInterval
	}
	if publisher == nil {
		publisher = notify.Nop{}
	}

	return &Processor{
		directory: directory,
		configs:   configs,
		balances:  balances,
		tracker:   tracker,
		publisher: publisher,
		interval:  interval,
		logger:    logger.With().Str("component", "heartbeat-processor").Logger(),
	}
}

// Heartbeat processes one heartbeat. Errors are returned only while the
// session is being resolved. A storage fault on a heartbeat naming a
// session, or any failure after resolution, yields a blocked verdict with
// zero remaining minutes.
func (p *Processor) Heartbeat(ctx context.Context, hb Heartbeat) (*HeartbeatResult, error) {
	start := time.Now()

	result, err := p.heartbeat(ctx, hb)
	if err != nil {
		if hb.SessionID == "" || !IsStorageFault(err) {
			return nil, err
		}
		result = p.FailClosed(hb.SessionID, hb.ProfileID, false, err)
	}

	status := string(result.Enforcement)
	metrics.HeartbeatsTotal.WithLabelValues(status).Inc()
	metrics.HeartbeatDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	return result, nil
}

func (p *Processor) heartbeat(ctx context.Context, hb Heartbeat) (*HeartbeatResult, error) {
	profile, err := p.directory.Profile(ctx, hb.ProfileID)
	if err != nil {
		return nil, err
	}

	session, _, err := p.tracker.Resolve(ctx, hb)
	if err != nil {
		return nil, err
	}

	result, err := p.apply(ctx, profile, session, hb)
	if err != nil {
		return p.FailClosed(session.ID, session.ProfileID, session.IsEducational, err), nil
	}
	return result, nil
}

func (p *Processor) apply(ctx context.Context, profile *storage.Profile, session *storage.Session, hb Heartbeat) (*HeartbeatResult, error) {
	counted, pausedAt := p.tracker.Account(session, hb)

	var seconds int64
	if counted {
		seconds = int64(p.interval / time.Second)
	}

	if _, err := p.tracker.Record(ctx, session.ID, hb.At, seconds, pausedAt); err != nil {
		return nil, err
	}

	result := &HeartbeatResult{
		SessionID:     session.ID,
		Enforcement:   StatusAllowed,
		IsEducational: session.IsEducational,
	}

	// Profiles without budgets only track session totals
	if !profile.Limited {
		return result, nil
	}

	cfg, err := p.configs.GetOrCreate(ctx, profile.ID)
	if err != nil {
		return nil, err
	}

	loc, err := window.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, err
	}
	viewingDay := window.ResolveViewingDay(hb.At, loc, cfg.ResetHour)
	day := viewingDay.String()
	limit := LimitFor(cfg, viewingDay)

	educational := session.IsEducational && cfg.EducationalExempt
	if counted {
		if err := p.balances.Increment(ctx, profile.ID, day, seconds, educational); err != nil {
			return nil, fmt.Errorf("failed to increment balance: %w", err)
		}
		kind := "counted"
		if educational {
			kind = "educational"
		}
		metrics.ViewingSecondsCounted.WithLabelValues(kind).Add(float64(seconds))
	}

	balance, err := p.balances.Get(ctx, profile.ID, day)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	verdict := Evaluate(limit, balance)
	result.Enforcement = verdict.Status
	result.RemainingMinutes = verdict.RemainingMinutes()
	result.UsedMinutes = Minutes(verdict.UsedSeconds)

	if counted && !educational && balance != nil {
		p.notifyTransition(ctx, profile.ID, session.ID, day, limit, balance, seconds, verdict, hb.At)
	}

	p.logger.Debug().
		Str("profile_id", profile.ID).
		Str("session_id", session.ID).
		Str("day", day).
		Bool("counted", counted).
		Bool("educational", educational).
		Int64("used_seconds", verdict.UsedSeconds).
		Str("status", string(verdict.Status)).
		Msg("Heartbeat processed")

	return result, nil
}

// notifyTransition publishes enforcement.changed when this heartbeat's
// seconds moved the profile into a different status
func (p *Processor) notifyTransition(ctx context.Context, profileID, sessionID, day string, limit *int, balance *storage.Balance, seconds int64, current Verdict, at time.Time) {
	before := *balance
	before.UsedSeconds -= seconds
	previous := Evaluate(limit, &before)
	if previous.Status == current.Status {
		return
	}

	metrics.EnforcementTransitions.WithLabelValues(string(previous.Status), string(current.Status)).Inc()
	p.logger.Info().
		Str("profile_id", profileID).
		Str("from", string(previous.Status)).
		Str("to", string(current.Status)).
		Msg("Enforcement status changed")

	data := map[string]any{
		"day":  day,
		"from": string(previous.Status),
		"to":   string(current.Status),
	}
	if remaining := current.RemainingMinutes(); remaining != nil {
		data["remaining_minutes"] = *remaining
	}
	publish(ctx, p.publisher, notify.Event{
		Type:       notify.EventEnforcementChanged,
		ProfileID:  profileID,
		SessionID:  sessionID,
		OccurredAt: at,
		Data:       data,
	}, p.logger)
}

// FailClosed is the verdict for a heartbeat on a known session that could
// not be accounted because of a storage or internal fault
func (p *Processor) FailClosed(sessionID, profileID string, educational bool, cause error) *HeartbeatResult {
	metrics.HeartbeatsFailClosed.Inc()
	p.logger.Error().
		Err(cause).
		Str("session_id", sessionID).
		Str("profile_id", profileID).
		Msg("Heartbeat failed, returning blocked")

	zero := 0.0
	return &HeartbeatResult{
		SessionID:        sessionID,
		Enforcement:      StatusBlocked,
		RemainingMinutes: &zero,
		IsEducational:    educational,
	}
}
