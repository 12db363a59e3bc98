package usage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/screentime/internal/catalog"
	"github.com/goodtune/screentime/internal/notify"
	"github.com/goodtune/screentime/internal/storage"
	redisstore "github.com/goodtune/screentime/internal/storage/redis"
	"github.com/goodtune/screentime/internal/window"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	parentAccount = "acct-parent"
	kidProfile    = "kid"
	adultProfile  = "adult"
	cartoonTitle  = "cartoon"
	mathsTitle    = "maths"
)

// monday is 2024-03-04 10:00 UTC, a Monday well after the 06:00 reset
var monday = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	mr     *miniredis.Miniredis
	store  storage.Store
	clock  *window.FixedClock
	events *notify.Recorder
	svc    *Service
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := redisstore.New(client)
	t.Cleanup(func() { _ = store.Close() })

	return newFixtureWithStore(t, mr, store, mutate...)
}

func newFixtureWithStore(t *testing.T, mr *miniredis.Miniredis, store storage.Store, mutate ...func(*Options)) *fixture {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, store.Profiles().Upsert(ctx, storage.Profile{ID: kidProfile, AccountID: parentAccount, Name: "Kid", Limited: true}))
	require.NoError(t, store.Profiles().Upsert(ctx, storage.Profile{ID: adultProfile, AccountID: parentAccount, Name: "Adult"}))

	opts := Options{
		HeartbeatInterval: DefaultHeartbeatInterval,
		PauseGrace:        DefaultPauseGrace,
		Defaults:          StandardDefaults(),
		ConfigCacheSize:   100,
		ConfigCacheTTL:    30 * time.Second,
	}
	for _, m := range mutate {
		m(&opts)
	}

	clock := &window.FixedClock{CurrentTime: monday}
	events := &notify.Recorder{}
	titles := catalog.NewStatic([]string{mathsTitle}, []string{cartoonTitle}, false)

	return &fixture{
		t:      t,
		ctx:    ctx,
		mr:     mr,
		store:  store,
		clock:  clock,
		events: events,
		svc:    New(store, titles, events, clock, opts, zerolog.Nop()),
	}
}

// beat sends a heartbeat at the fixture clock's current time
func (f *fixture) beat(profileID, sessionID, titleID string, paused bool) *HeartbeatResult {
	f.t.Helper()

	res, err := f.svc.Processor.Heartbeat(f.ctx, Heartbeat{
		ProfileID:  profileID,
		SessionID:  sessionID,
		TitleID:    titleID,
		DeviceID:   "tv-1",
		DeviceType: "tv",
		Paused:     paused,
		At:         f.clock.Now(),
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) balance(profileID, day string) *storage.Balance {
	f.t.Helper()

	b, err := f.store.Balances().Get(f.ctx, profileID, day)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) seedUsed(profileID, day string, seconds int64) {
	f.t.Helper()
	require.NoError(f.t, f.store.Balances().Increment(f.ctx, profileID, day, seconds, false))
}

func intPtr(n int) *int { return &n }

func strictCatalog() catalog.Catalog {
	return catalog.NewStatic([]string{mathsTitle}, []string{cartoonTitle}, true)
}
