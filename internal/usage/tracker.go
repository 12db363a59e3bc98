package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/catalog"
	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/notify"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultHeartbeatInterval is the playback time credited per heartbeat
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultPauseGrace is how long a paused session keeps counting
	DefaultPauseGrace = 300 * time.Second
)

// Tracker manages the single active playback session of each profile
type Tracker struct {
	sessions   storage.SessionStore
	catalog    catalog.Catalog
	directory  *Directory
	publisher  notify.Publisher
	pauseGrace time.Duration
	logger     zerolog.Logger
}

// NewTracker creates a new session tracker
func NewTracker(sessions storage.SessionStore, titles catalog.Catalog, directory *Directory, publisher notify.Publisher, pauseGrace time.Duration, logger zerolog.Logger) *Tracker {
	if pauseGrace == 0 {
		pauseGrace = DefaultPauseGrace
	}
	if publisher == nil {
		publisher = notify.Nop{}
	}

	return &Tracker{
		sessions:   sessions,
		catalog:    titles,
		directory:  directory,
		publisher:  publisher,
		pauseGrace: pauseGrace,
		logger:     logger.With().Str("component", "session-tracker").Logger(),
	}
}

// Resolve returns the session a heartbeat applies to, starting a new one
// when the heartbeat carries no session id. started reports whether the
// session was created by this call.
func (t *Tracker) Resolve(ctx context.Context, hb Heartbeat) (session *storage.Session, started bool, err error) {
	if hb.SessionID == "" {
		session, err = t.start(ctx, hb)
		return session, true, err
	}

	session, err = t.sessions.Get(ctx, hb.SessionID)
	if err != nil {
		return nil, false, lookupError("session", hb.SessionID, err)
	}

	if session.ProfileID != hb.ProfileID {
		t.logger.Warn().
			Str("session_id", session.ID).
			Str("session_profile_id", session.ProfileID).
			Str("profile_id", hb.ProfileID).
			Msg("Heartbeat for session owned by another profile")
		return nil, false, fmt.Errorf("%w: session %s belongs to another profile", ErrForbidden, session.ID)
	}

	if !session.Active() {
		return nil, false, fmt.Errorf("%w: %s", ErrSessionEnded, session.ID)
	}

	return session, false, nil
}

// start opens a session, superseding any active one for the profile. The
// educational flag is fixed here for the life of the session.
func (t *Tracker) start(ctx context.Context, hb Heartbeat) (*storage.Session, error) {
	educational, err := t.catalog.IsEducational(ctx, hb.TitleID)
	if err != nil {
		return nil, lookupError("title", hb.TitleID, err)
	}

	session := storage.Session{
		ID:              uuid.NewString(),
		ProfileID:       hb.ProfileID,
		TitleID:         hb.TitleID,
		DeviceID:        hb.DeviceID,
		DeviceType:      hb.DeviceType,
		IsEducational:   educational,
		StartedAt:       hb.At,
		LastHeartbeatAt: hb.At,
	}

	superseded, err := t.sessions.Start(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	metrics.SessionsStarted.Inc()
	t.logger.Info().
		Str("session_id", session.ID).
		Str("profile_id", session.ProfileID).
		Str("title_id", session.TitleID).
		Str("device_id", session.DeviceID).
		Bool("educational", educational).
		Msg("Started playback session")
	t.publish(ctx, notify.Event{
		Type:       notify.EventSessionStarted,
		ProfileID:  session.ProfileID,
		SessionID:  session.ID,
		OccurredAt: hb.At,
		Data:       map[string]any{"title_id": session.TitleID, "device_id": session.DeviceID},
	})

	if superseded != "" {
		metrics.SessionsSuperseded.Inc()
		t.logger.Info().
			Str("session_id", superseded).
			Str("superseded_by", session.ID).
			Str("profile_id", session.ProfileID).
			Msg("Superseded active session")
		t.publish(ctx, notify.Event{
			Type:       notify.EventSessionSuperseded,
			ProfileID:  session.ProfileID,
			SessionID:  superseded,
			OccurredAt: hb.At,
			Data:       map[string]any{"superseded_by": session.ID},
		})
	}

	return &session, nil
}

// Account decides whether the heartbeat's interval counts and returns the
// pause marker to store with it.
//
// The first paused heartbeat marks the pause and counts. Later paused
// heartbeats count while within the grace window. The heartbeat that
// resumes playback clears the marker and counts only if the pause stayed
// within the grace window.
func (t *Tracker) Account(session *storage.Session, hb Heartbeat) (counted bool, pausedAt *time.Time) {
	return countInterval(session.PausedAt, hb.Paused, hb.At, t.pauseGrace)
}

func countInterval(pausedAt *time.Time, paused bool, now time.Time, grace time.Duration) (bool, *time.Time) {
	if paused {
		if pausedAt == nil {
			at := now
			return true, &at
		}
		return now.Sub(*pausedAt) <= grace, pausedAt
	}
	if pausedAt != nil {
		return now.Sub(*pausedAt) <= grace, nil
	}
	return true, nil
}

// Record stores the heartbeat on the session
func (t *Tracker) Record(ctx context.Context, sessionID string, at time.Time, countedSeconds int64, pausedAt *time.Time) (*storage.Session, error) {
	session, err := t.sessions.RecordHeartbeat(ctx, sessionID, at, countedSeconds, pausedAt)
	if err != nil {
		return nil, lookupError("session", sessionID, err)
	}

	t.logger.Debug().
		Str("session_id", sessionID).
		Int64("counted_seconds", countedSeconds).
		Int64("total_seconds", session.TotalSeconds).
		Bool("paused", pausedAt != nil).
		Msg("Heartbeat recorded")

	return session, nil
}

// End ends a session on behalf of caller, who must own its profile
func (t *Tracker) End(ctx context.Context, caller Caller, sessionID string, at time.Time) (*EndResult, error) {
	session, err := t.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, lookupError("session", sessionID, err)
	}

	if _, err := t.directory.Authorize(ctx, caller, session.ProfileID); err != nil {
		return nil, err
	}

	wasActive := session.Active()
	session, err = t.sessions.End(ctx, sessionID, at)
	if err != nil {
		return nil, lookupError("session", sessionID, err)
	}

	if wasActive {
		t.logger.Info().
			Str("session_id", session.ID).
			Str("profile_id", session.ProfileID).
			Int64("total_seconds", session.TotalSeconds).
			Msg("Ended playback session")
		t.publish(ctx, notify.Event{
			Type:       notify.EventSessionEnded,
			ProfileID:  session.ProfileID,
			SessionID:  session.ID,
			OccurredAt: at,
			Data:       map[string]any{"total_seconds": session.TotalSeconds},
		})
	}

	return &EndResult{
		SessionID:    session.ID,
		TotalSeconds: session.TotalSeconds,
		EndedAt:      *session.EndedAt,
	}, nil
}

func (t *Tracker) publish(ctx context.Context, event notify.Event) {
	publish(ctx, t.publisher, event, t.logger)
}

// publish delivers an event, logging failures instead of returning them
func publish(ctx context.Context, p notify.Publisher, event notify.Event, logger zerolog.Logger) {
	if err := p.Publish(ctx, event); err != nil {
		metrics.NotifyErrors.WithLabelValues(event.Type).Inc()
		logger.Warn().Err(err).Str("event", event.Type).Str("profile_id", event.ProfileID).Msg("Failed to publish event")
	}
}
