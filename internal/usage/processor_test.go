package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/screentime/internal/notify"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeat_FourHeartbeatsEndToEnd(t *testing.T) {
	f := newFixture(t)

	res := f.beat(kidProfile, "", cartoonTitle, false)
	sessionID := res.SessionID
	require.NotEmpty(t, sessionID)

	for i := 0; i < 3; i++ {
		f.clock.Advance(30 * time.Second)
		res = f.beat(kidProfile, sessionID, cartoonTitle, false)
		assert.Equal(t, sessionID, res.SessionID)
	}

	assert.Equal(t, StatusAllowed, res.Enforcement)
	assert.Equal(t, 2.0, res.UsedMinutes)
	require.NotNil(t, res.RemainingMinutes)
	assert.Equal(t, 118.0, *res.RemainingMinutes)
	assert.False(t, res.IsEducational)

	session, err := f.store.Sessions().Get(f.ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(120), session.TotalSeconds)
}

func TestHeartbeat_Thresholds(t *testing.T) {
	tests := []struct {
		name        string
		usedBefore  int64
		want        Status
		wantMinutes float64
	}{
		{"allowed above fifteen minutes", 104 * 60, StatusAllowed, 15.5},
		{"warning_15 at exactly fifteen minutes", 105*60 - 30, StatusWarning15, 15.0},
		{"warning_15 after 106 minutes", 106 * 60, StatusWarning15, 13.5},
		{"warning_5 at 116 minutes", 116*60 - 30, StatusWarning5, 4.0},
		{"blocked at 120 minutes", 120*60 - 30, StatusBlocked, 0.0},
		{"blocked beyond the limit", 130 * 60, StatusBlocked, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedUsed(kidProfile, "2024-03-04", tt.usedBefore)

			res := f.beat(kidProfile, "", cartoonTitle, false)

			assert.Equal(t, tt.want, res.Enforcement)
			require.NotNil(t, res.RemainingMinutes)
			assert.Equal(t, tt.wantMinutes, *res.RemainingMinutes)
		})
	}
}

func TestHeartbeat_PauseGrace(t *testing.T) {
	tests := []struct {
		name      string
		pauseFor  time.Duration
		wantTotal int64
	}{
		{"resume within grace counts", 250 * time.Second, 90},
		{"resume at grace boundary counts", 300 * time.Second, 90},
		{"resume beyond grace does not count", 400 * time.Second, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			sessionID := f.beat(kidProfile, "", cartoonTitle, false).SessionID // counts 30

			f.clock.Advance(30 * time.Second)
			f.beat(kidProfile, sessionID, cartoonTitle, true) // first pause counts 30

			f.clock.Advance(tt.pauseFor)
			f.beat(kidProfile, sessionID, cartoonTitle, false)

			assert.Equal(t, tt.wantTotal, f.balance(kidProfile, "2024-03-04").UsedSeconds)

			session, err := f.store.Sessions().Get(f.ctx, sessionID)
			require.NoError(t, err)
			assert.Nil(t, session.PausedAt)
			assert.Equal(t, tt.wantTotal, session.TotalSeconds)
		})
	}
}

func TestHeartbeat_PausedBeyondGraceStopsCounting(t *testing.T) {
	f := newFixture(t)

	sessionID := f.beat(kidProfile, "", cartoonTitle, false).SessionID // 30

	f.clock.Advance(30 * time.Second)
	f.beat(kidProfile, sessionID, cartoonTitle, true) // pause marked, 60

	f.clock.Advance(280 * time.Second)
	f.beat(kidProfile, sessionID, cartoonTitle, true) // within grace, 90

	f.clock.Advance(30 * time.Second)
	res := f.beat(kidProfile, sessionID, cartoonTitle, true) // beyond grace

	assert.Equal(t, int64(90), f.balance(kidProfile, "2024-03-04").UsedSeconds)
	assert.Equal(t, 1.5, res.UsedMinutes)

	session, err := f.store.Sessions().Get(f.ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, session.Active())
	require.NotNil(t, session.PausedAt)
	assert.True(t, session.PausedAt.Equal(monday.Add(30*time.Second)))
}

func TestHeartbeat_EducationalExemption(t *testing.T) {
	t.Run("exempt", func(t *testing.T) {
		f := newFixture(t)

		res := f.beat(kidProfile, "", mathsTitle, false)
		f.clock.Advance(30 * time.Second)
		res = f.beat(kidProfile, res.SessionID, mathsTitle, false)

		assert.True(t, res.IsEducational)
		require.NotNil(t, res.RemainingMinutes)
		assert.Equal(t, 120.0, *res.RemainingMinutes)

		b := f.balance(kidProfile, "2024-03-04")
		assert.Equal(t, int64(0), b.UsedSeconds)
		assert.Equal(t, int64(60), b.EducationalSeconds)
	})

	t.Run("not exempt", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.Defaults.EducationalExempt = false })

		res := f.beat(kidProfile, "", mathsTitle, false)
		f.clock.Advance(30 * time.Second)
		res = f.beat(kidProfile, res.SessionID, mathsTitle, false)

		assert.True(t, res.IsEducational)
		assert.Equal(t, 119.0, *res.RemainingMinutes)

		b := f.balance(kidProfile, "2024-03-04")
		assert.Equal(t, int64(60), b.UsedSeconds)
		assert.Equal(t, int64(0), b.EducationalSeconds)
	})
}

func TestHeartbeat_UnlimitedAlwaysAllowed(t *testing.T) {
	t.Run("null limit", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.Defaults.WeekdayLimitMinutes = nil })
		f.seedUsed(kidProfile, "2024-03-04", 24*3600)

		res := f.beat(kidProfile, "", cartoonTitle, false)
		assert.Equal(t, StatusAllowed, res.Enforcement)
		assert.Nil(t, res.RemainingMinutes)
	})

	t.Run("unlimited override", func(t *testing.T) {
		f := newFixture(t)
		f.seedUsed(kidProfile, "2024-03-04", 200*60)

		_, err := f.svc.Grants.Grant(f.ctx, GrantRequest{ProfileID: kidProfile, IssuerAccountID: parentAccount})
		require.NoError(t, err)

		res := f.beat(kidProfile, "", cartoonTitle, false)
		assert.Equal(t, StatusAllowed, res.Enforcement)
		assert.Nil(t, res.RemainingMinutes)
	})
}

func TestHeartbeat_WeekendLimitUsesProfileZone(t *testing.T) {
	f := newFixture(t)

	// Friday 12:30 UTC is Saturday 01:30 in Auckland
	f.clock.CurrentTime = time.Date(2024, 3, 8, 12, 30, 0, 0, time.UTC)
	zone, resetHour := "Pacific/Auckland", 0
	_, err := f.svc.Configs.Update(f.ctx, kidProfile, ConfigPatch{TimeZone: &zone, ResetHour: &resetHour}, true)
	require.NoError(t, err)

	res := f.beat(kidProfile, "", cartoonTitle, false)
	require.NotNil(t, res.RemainingMinutes)
	assert.Equal(t, 179.5, *res.RemainingMinutes)
	assert.Equal(t, int64(30), f.balance(kidProfile, "2024-03-09").UsedSeconds)
}

func TestHeartbeat_NonLimitedProfile(t *testing.T) {
	f := newFixture(t)

	res := f.beat(adultProfile, "", cartoonTitle, false)
	assert.Equal(t, StatusAllowed, res.Enforcement)
	assert.Nil(t, res.RemainingMinutes)

	session, err := f.store.Sessions().Get(f.ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), session.TotalSeconds)

	_, err = f.store.Balances().Get(f.ctx, adultProfile, "2024-03-04")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHeartbeat_HardErrorsBeforeSession(t *testing.T) {
	f := newFixture(t)
	kidSession := f.beat(kidProfile, "", cartoonTitle, false).SessionID

	tests := []struct {
		name    string
		hb      Heartbeat
		wantErr error
	}{
		{"unknown profile", Heartbeat{ProfileID: "ghost", TitleID: cartoonTitle}, ErrNotFound},
		{"unknown session", Heartbeat{ProfileID: kidProfile, SessionID: "missing", TitleID: cartoonTitle}, ErrNotFound},
		{"session of another profile", Heartbeat{ProfileID: adultProfile, SessionID: kidSession, TitleID: cartoonTitle}, ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.hb.At = f.clock.Now()
			_, err := f.svc.Processor.Heartbeat(f.ctx, tt.hb)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHeartbeat_SupersededSessionRejected(t *testing.T) {
	f := newFixture(t)

	first := f.beat(kidProfile, "", cartoonTitle, false).SessionID
	f.clock.Advance(30 * time.Second)
	second := f.beat(kidProfile, "", cartoonTitle, false).SessionID
	require.NotEqual(t, first, second)

	old, err := f.store.Sessions().Get(f.ctx, first)
	require.NoError(t, err)
	require.NotNil(t, old.EndedAt)

	_, err = f.svc.Processor.Heartbeat(f.ctx, Heartbeat{ProfileID: kidProfile, SessionID: first, TitleID: cartoonTitle, At: f.clock.Now()})
	assert.ErrorIs(t, err, ErrSessionEnded)

	superseded := f.events.Events(notify.EventSessionSuperseded)
	require.Len(t, superseded, 1)
	assert.Equal(t, first, superseded[0].SessionID)
	assert.Len(t, f.events.Events(notify.EventSessionStarted), 2)
}

// failingBalances fails every write
type failingBalances struct {
	storage.BalanceStore
}

func (failingBalances) Increment(context.Context, string, string, int64, bool) error {
	return errors.New("storage unavailable")
}

type failingStore struct {
	storage.Store
}

func (s failingStore) Balances() storage.BalanceStore {
	return failingBalances{s.Store.Balances()}
}

func TestHeartbeat_FailClosed(t *testing.T) {
	base := newFixture(t)
	f := newFixtureWithStore(t, base.mr, failingStore{base.store})

	res, err := f.svc.Processor.Heartbeat(f.ctx, Heartbeat{
		ProfileID: kidProfile,
		TitleID:   cartoonTitle,
		DeviceID:  "tv-1",
		At:        f.clock.Now(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	assert.Equal(t, StatusBlocked, res.Enforcement)
	require.NotNil(t, res.RemainingMinutes)
	assert.Equal(t, 0.0, *res.RemainingMinutes)
}

// unavailableProfiles fails every read
type unavailableProfiles struct {
	storage.ProfileStore
}

func (unavailableProfiles) Get(context.Context, string) (*storage.Profile, error) {
	return nil, errors.New("storage unavailable")
}

type profilesDownStore struct {
	storage.Store
}

func (s profilesDownStore) Profiles() storage.ProfileStore {
	return unavailableProfiles{s.Store.Profiles()}
}

func TestHeartbeat_FailClosedWhenProfileLoadFails(t *testing.T) {
	base := newFixture(t)
	sessionID := base.beat(kidProfile, "", cartoonTitle, false).SessionID

	f := newFixtureWithStore(t, base.mr, profilesDownStore{base.store})
	f.clock.Advance(30 * time.Second)

	res, err := f.svc.Processor.Heartbeat(f.ctx, Heartbeat{
		ProfileID: kidProfile,
		SessionID: sessionID,
		TitleID:   cartoonTitle,
		DeviceID:  "tv-1",
		At:        f.clock.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, sessionID, res.SessionID)
	assert.Equal(t, StatusBlocked, res.Enforcement)
	require.NotNil(t, res.RemainingMinutes)
	assert.Equal(t, 0.0, *res.RemainingMinutes)

	// no session to block yet, so the fault surfaces
	_, err = f.svc.Processor.Heartbeat(f.ctx, Heartbeat{
		ProfileID: kidProfile,
		TitleID:   cartoonTitle,
		DeviceID:  "tv-1",
		At:        f.clock.Now(),
	})
	require.Error(t, err)
	assert.True(t, IsStorageFault(err))
}

func TestIsStorageFault(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", lookupError("profile", "p1", storage.ErrNotFound), false},
		{"ended", lookupError("session", "s1", storage.ErrSessionEnded), false},
		{"forbidden", ErrForbidden, false},
		{"pin", ErrPINRequired, false},
		{"validation", invalid("title_id", "is required"), false},
		{"store down", lookupError("profile", "p1", errors.New("connection refused")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStorageFault(tt.err))
		})
	}
}

func TestHeartbeat_EnforcementChangedEvent(t *testing.T) {
	f := newFixture(t)
	f.seedUsed(kidProfile, "2024-03-04", 105*60-60)

	sessionID := f.beat(kidProfile, "", cartoonTitle, false).SessionID // 15.5 left
	assert.Empty(t, f.events.Events(notify.EventEnforcementChanged))

	f.clock.Advance(30 * time.Second)
	f.beat(kidProfile, sessionID, cartoonTitle, false) // 15.0 left

	changed := f.events.Events(notify.EventEnforcementChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "allowed", changed[0].Data["from"])
	assert.Equal(t, "warning_15", changed[0].Data["to"])
}

func TestHeartbeat_ConcurrentSameProfile(t *testing.T) {
	f := newFixture(t)
	sessionID := f.beat(kidProfile, "", cartoonTitle, false).SessionID

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Processor.Heartbeat(f.ctx, Heartbeat{
				ProfileID: kidProfile,
				SessionID: sessionID,
				TitleID:   cartoonTitle,
				At:        monday.Add(30 * time.Second),
			})
			if err != nil {
				t.Errorf("Heartbeat failed: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64((workers+1)*30), f.balance(kidProfile, "2024-03-04").UsedSeconds)
}
