package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/window"
	"github.com/rs/zerolog"
)

// Purger removes balances and ended sessions older than the retention period
// once a day
type Purger struct {
	balances storage.BalanceStore
	sessions storage.SessionStore
	days     int
	runAt    time.Time // Time of day to purge (only hour and minute are used)
	loc      *time.Location
	clock    window.Clock
	logger   zerolog.Logger
	stopChan chan struct{}
}

// NewPurger creates a new retention purger running daily at runAt (HH:MM)
func NewPurger(balances storage.BalanceStore, sessions storage.SessionStore, days int, runAt string, clock window.Clock, logger zerolog.Logger) (*Purger, error) {
	parsed, err := time.Parse("15:04", runAt)
	if err != nil {
		return nil, fmt.Errorf("invalid retention run time %q: %w", runAt, err)
	}
	if days <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", days)
	}

	return &Purger{
		balances: balances,
		sessions: sessions,
		days:     days,
		runAt:    parsed,
		loc:      time.Local,
		clock:    clock,
		logger:   logger.With().Str("component", "retention").Logger(),
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins the purge loop
func (p *Purger) Start() {
	go p.run()
	p.logger.Info().
		Str("run_at", p.runAt.Format("15:04")).
		Int("days", p.days).
		Msg("Retention purger started")
}

// Stop stops the purge loop
func (p *Purger) Stop() {
	close(p.stopChan)
	p.logger.Info().Msg("Retention purger stopped")
}

func (p *Purger) run() {
	for {
		next := p.nextRun(p.clock.Now())
		wait := next.Sub(p.clock.Now())

		p.logger.Debug().
			Time("next_run", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next retention purge")

		select {
		case <-time.After(wait):
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, _, err := p.Purge(ctx); err != nil {
				p.logger.Error().Err(err).Msg("Retention purge failed")
			}
			cancel()
		case <-p.stopChan:
			return
		}
	}
}

// nextRun returns the next purge instant after now, with runAt read as
// local server time
func (p *Purger) nextRun(now time.Time) time.Time {
	local := now.In(p.loc)
	today := time.Date(
		local.Year(), local.Month(), local.Day(),
		p.runAt.Hour(), p.runAt.Minute(), 0, 0,
		p.loc,
	)

	if !today.After(local) {
		return today.AddDate(0, 0, 1)
	}
	return today
}

// Purge deletes records older than the retention period
func (p *Purger) Purge(ctx context.Context) (balances int, sessions int, err error) {
	now := p.clock.Now()
	cutoff := now.AddDate(0, 0, -p.days)
	cutoffDay := window.DayOf(cutoff.UTC()).String()

	balances, err = p.balances.DeleteBefore(ctx, cutoffDay)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to purge balances: %w", err)
	}
	metrics.RetentionDeleted.WithLabelValues("balance").Add(float64(balances))

	sessions, err = p.sessions.DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		return balances, 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	metrics.RetentionDeleted.WithLabelValues("session").Add(float64(sessions))

	p.logger.Info().
		Str("cutoff_day", cutoffDay).
		Int("balances_deleted", balances).
		Int("sessions_deleted", sessions).
		Msg("Retention purge complete")

	return balances, sessions, nil
}
