package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/screentime/internal/catalog"
	"github.com/goodtune/screentime/internal/notify"
	"github.com/goodtune/screentime/internal/storage"
	redisstore "github.com/goodtune/screentime/internal/storage/redis"
	"github.com/goodtune/screentime/internal/usage"
	"github.com/goodtune/screentime/internal/window"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wednesday is 2024-03-06 12:00 UTC
var wednesday = time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ctx      context.Context
	store    storage.Store
	svc      *usage.Service
	clock    *window.FixedClock
	reporter *Reporter
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	store := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Profiles().Upsert(ctx, storage.Profile{ID: "kid", AccountID: "acct", Name: "Kid", Limited: true}))
	require.NoError(t, store.Profiles().Upsert(ctx, storage.Profile{ID: "adult", AccountID: "acct", Name: "Adult"}))

	clock := &window.FixedClock{CurrentTime: wednesday}
	svc := usage.New(store, catalog.NewStatic(nil, nil, false), notify.Nop{}, clock, usage.Options{
		Defaults: usage.StandardDefaults(),
	}, zerolog.Nop())

	return &fixture{
		ctx:      ctx,
		store:    store,
		svc:      svc,
		clock:    clock,
		reporter: New(svc.Directory, svc.Configs, store.Sessions(), clock, opts, zerolog.Nop()),
	}
}

func (f *fixture) addSession(t *testing.T, id, profileID, titleID string, educational bool, startedAt time.Time, seconds int64) {
	t.Helper()

	_, err := f.store.Sessions().Start(f.ctx, storage.Session{
		ID:              id,
		ProfileID:       profileID,
		TitleID:         titleID,
		IsEducational:   educational,
		StartedAt:       startedAt,
		LastHeartbeatAt: startedAt,
	})
	require.NoError(t, err)

	end := startedAt.Add(time.Duration(seconds) * time.Second)
	_, err = f.store.Sessions().RecordHeartbeat(f.ctx, id, end, seconds, nil)
	require.NoError(t, err)
	_, err = f.store.Sessions().End(f.ctx, id, end)
	require.NoError(t, err)
}

func (f *fixture) seedWeek(t *testing.T) {
	t.Helper()
	f.addSession(t, "s-old", "kid", "cartoon", false, time.Date(2024, 2, 20, 10, 0, 0, 0, time.UTC), 3000)
	f.addSession(t, "s-1", "kid", "cartoon", false, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), 1800)
	f.addSession(t, "s-2", "kid", "maths", true, time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC), 600)
	f.addSession(t, "s-3", "kid", "dino", false, time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), 1200)
}

func mustDay(t *testing.T, s string) window.Day {
	t.Helper()
	d, err := window.ParseDay(s)
	require.NoError(t, err)
	return d
}

func TestHistory_GroupsByStartDay(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedWeek(t)

	h, err := f.reporter.History(f.ctx, "kid", mustDay(t, "2024-03-04"), mustDay(t, "2024-03-06"))
	require.NoError(t, err)

	assert.False(t, h.Truncated)
	require.Len(t, h.Days, 3)
	assert.Equal(t, DaySummary{Day: "2024-03-04", Sessions: 2, TotalMinutes: 40, EducationalMinutes: 10, CountedMinutes: 30}, h.Days[0])
	assert.Equal(t, DaySummary{Day: "2024-03-05", Sessions: 1, TotalMinutes: 20, CountedMinutes: 20}, h.Days[1])
	assert.Equal(t, DaySummary{Day: "2024-03-06"}, h.Days[2])
}

func TestHistory_ProfileTimeZone(t *testing.T) {
	f := newFixture(t, Options{})
	zone := "Pacific/Auckland"
	_, err := f.svc.Configs.Update(f.ctx, "kid", usage.ConfigPatch{TimeZone: &zone}, false)
	require.NoError(t, err)

	// 12:30 UTC on the 4th is 01:30 on the 5th in Auckland
	f.addSession(t, "s-nz", "kid", "cartoon", false, time.Date(2024, 3, 4, 12, 30, 0, 0, time.UTC), 900)

	h, err := f.reporter.History(f.ctx, "kid", mustDay(t, "2024-03-04"), mustDay(t, "2024-03-05"))
	require.NoError(t, err)
	require.Len(t, h.Days, 2)
	assert.Equal(t, 0.0, h.Days[0].TotalMinutes)
	assert.Equal(t, 15.0, h.Days[1].TotalMinutes)
}

func TestHistory_SessionCap(t *testing.T) {
	f := newFixture(t, Options{MaxSessions: 2})
	f.seedWeek(t)

	h, err := f.reporter.History(f.ctx, "kid", mustDay(t, "2024-03-01"), mustDay(t, "2024-03-06"))
	require.NoError(t, err)
	assert.True(t, h.Truncated)

	var sessions int
	for _, d := range h.Days {
		sessions += d.Sessions
	}
	assert.Equal(t, 2, sessions)
}

func TestHistory_RangeValidation(t *testing.T) {
	f := newFixture(t, Options{})

	tests := []struct {
		name    string
		from    string
		to      string
		wantErr bool
	}{
		{"single day", "2024-03-04", "2024-03-04", false},
		{"maximum span", "2024-01-01", "2024-04-01", false},
		{"span too long", "2024-01-01", "2024-04-02", true},
		{"inverted", "2024-03-05", "2024-03-04", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.reporter.History(f.ctx, "kid", mustDay(t, tt.from), mustDay(t, tt.to))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *usage.ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, "to", verr.Field)
		})
	}
}

func TestHistory_UnknownProfile(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.reporter.History(f.ctx, "ghost", mustDay(t, "2024-03-04"), mustDay(t, "2024-03-04"))
	assert.ErrorIs(t, err, usage.ErrNotFound)
}

func TestWeekly(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedWeek(t)

	report, err := f.reporter.Weekly(f.ctx, "acct")
	require.NoError(t, err)

	assert.Equal(t, "acct", report.AccountID)
	require.Len(t, report.Profiles, 1)

	week := report.Profiles[0]
	assert.Equal(t, "kid", week.ProfileID)
	assert.Equal(t, "2024-02-29", week.From)
	assert.Equal(t, "2024-03-06", week.To)
	require.Len(t, week.Daily, 7)
	assert.Equal(t, DayMinutes{Day: "2024-03-04", Minutes: 40}, week.Daily[4])
	assert.Equal(t, 60.0, week.TotalMinutes)
	assert.Equal(t, 8.6, week.AverageDailyMinutes)
	assert.Equal(t, 10.0, week.EducationalMinutes)
	assert.Equal(t, []TitleMinutes{
		{TitleID: "cartoon", Minutes: 30},
		{TitleID: "dino", Minutes: 20},
		{TitleID: "maths", Minutes: 10},
	}, week.TopTitles)

	// 60 of 5*120 + 2*180 minutes
	require.NotNil(t, week.LimitUsagePercent)
	assert.Equal(t, 6.3, *week.LimitUsagePercent)
}

func TestWeekly_PagesPastSessionCap(t *testing.T) {
	f := newFixture(t, Options{MaxSessions: 2})
	f.seedWeek(t)

	report, err := f.reporter.Weekly(f.ctx, "acct")
	require.NoError(t, err)
	require.Len(t, report.Profiles, 1)

	week := report.Profiles[0]
	assert.Equal(t, 60.0, week.TotalMinutes)
	assert.Equal(t, DayMinutes{Day: "2024-03-05", Minutes: 20}, week.Daily[5])
	assert.Contains(t, week.TopTitles, TitleMinutes{TitleID: "dino", Minutes: 20})
}

func TestWeekly_SessionsSharingStartInstant(t *testing.T) {
	f := newFixture(t, Options{MaxSessions: 2})
	at := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"s-a", "s-b", "s-c"} {
		f.addSession(t, id, "kid", "cartoon", false, at, 600)
	}
	f.addSession(t, "s-d", "kid", "dino", false, at.Add(time.Hour), 600)

	report, err := f.reporter.Weekly(f.ctx, "acct")
	require.NoError(t, err)
	require.Len(t, report.Profiles, 1)
	assert.Equal(t, DayMinutes{Day: "2024-03-05", Minutes: 40}, report.Profiles[0].Daily[5])
}

func TestWeekly_NullPercentWhenADayIsUnlimited(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedWeek(t)

	_, err := f.svc.Configs.Update(f.ctx, "kid", usage.ConfigPatch{
		WeekendLimitMinutes: usage.LimitPatch{Set: true},
	}, false)
	require.NoError(t, err)

	report, err := f.reporter.Weekly(f.ctx, "acct")
	require.NoError(t, err)
	require.Len(t, report.Profiles, 1)
	assert.Nil(t, report.Profiles[0].LimitUsagePercent)
	assert.Equal(t, 60.0, report.Profiles[0].TotalMinutes)
}

func TestWeekly_NoProfiles(t *testing.T) {
	f := newFixture(t, Options{})

	report, err := f.reporter.Weekly(f.ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, report.Profiles)
}

func TestTopTitles(t *testing.T) {
	sessions := []storage.Session{
		{TitleID: "a", TotalSeconds: 60},
		{TitleID: "b", TotalSeconds: 120},
		{TitleID: "c", TotalSeconds: 60},
		{TitleID: "a", TotalSeconds: 60},
		{TitleID: "d", TotalSeconds: 0},
	}

	got := topTitles(sessions, 3)
	want := []TitleMinutes{{"a", 2}, {"b", 2}, {"c", 1}}
	assert.Equal(t, want, got)
}
