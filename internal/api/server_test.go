package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/screentime/internal/catalog"
	"github.com/goodtune/screentime/internal/notify"
	"github.com/goodtune/screentime/internal/report"
	"github.com/goodtune/screentime/internal/storage"
	redisstore "github.com/goodtune/screentime/internal/storage/redis"
	"github.com/goodtune/screentime/internal/usage"
	"github.com/goodtune/screentime/internal/window"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var monday = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type testServer struct {
	t      *testing.T
	mr     *miniredis.Miniredis
	store  storage.Store
	clock  *window.FixedClock
	tokens *Tokens
	server *Server
}

// newTestServer seeds two profiles, then applies wrap to the store the
// server runs against
func newTestServer(t *testing.T, wrap ...func(storage.Store) storage.Store) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	var store storage.Store = redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Profiles().Upsert(ctx, storage.Profile{ID: "kid", AccountID: "parent", Name: "Kid", Limited: true}))
	require.NoError(t, store.Profiles().Upsert(ctx, storage.Profile{ID: "other-kid", AccountID: "stranger", Name: "Other", Limited: true}))
	for _, w := range wrap {
		store = w(store)
	}

	clock := &window.FixedClock{CurrentTime: monday}
	svc := usage.New(store, catalog.NewStatic([]string{"maths"}, nil, false), notify.Nop{}, clock, usage.Options{
		Defaults: usage.StandardDefaults(),
	}, zerolog.Nop())
	reporter := report.New(svc.Directory, svc.Configs, store.Sessions(), clock, report.Options{}, zerolog.Nop())
	tokens := NewTokens(testSecret, "screentime")

	return &testServer{
		t:      t,
		mr:     mr,
		store:  store,
		clock:  clock,
		tokens: tokens,
		server: NewServer(Config{}, svc, reporter, tokens, store, clock, zerolog.Nop()),
	}
}

func (ts *testServer) token(caller usage.Caller) string {
	ts.t.Helper()
	tok, err := ts.tokens.Issue(caller, time.Hour, time.Now())
	require.NoError(ts.t, err)
	return tok
}

func (ts *testServer) parentToken() string {
	return ts.token(usage.Caller{AccountID: "parent"})
}

func (ts *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	ts.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(ts.t, json.NewEncoder(&buf).Encode(b))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHeartbeatFlow(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(usage.Caller{AccountID: "parent", ProfileID: "kid"})

	rec := ts.do(http.MethodPost, "/v1/profiles/kid/heartbeat", tok, HeartbeatRequest{TitleID: "cartoon", DeviceID: "tv-1", DeviceType: "tv"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[usage.HeartbeatResult](t, rec)
	require.NotEmpty(t, first.SessionID)

	var last usage.HeartbeatResult
	for i := 0; i < 3; i++ {
		ts.clock.Advance(30 * time.Second)
		rec = ts.do(http.MethodPost, "/v1/profiles/kid/heartbeat", tok, HeartbeatRequest{SessionID: first.SessionID, TitleID: "cartoon", DeviceID: "tv-1"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		last = decode[usage.HeartbeatResult](t, rec)
	}

	assert.Equal(t, usage.StatusAllowed, last.Enforcement)
	assert.Equal(t, 2.0, last.UsedMinutes)
	require.NotNil(t, last.RemainingMinutes)
	assert.Equal(t, 118.0, *last.RemainingMinutes)

	rec = ts.do(http.MethodGet, "/v1/profiles/kid/balance", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[usage.BalanceView](t, rec)
	assert.Equal(t, 2.0, view.UsedMinutes)
	assert.True(t, view.IsChildProfile)

	rec = ts.do(http.MethodPost, "/v1/sessions/"+first.SessionID+"/end", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ended := decode[usage.EndResult](t, rec)
	assert.Equal(t, int64(120), ended.TotalSeconds)

	rec = ts.do(http.MethodPost, "/v1/profiles/kid/heartbeat", tok, HeartbeatRequest{SessionID: first.SessionID, TitleID: "cartoon", DeviceID: "tv-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	wrongSecret, err := NewTokens("other-secret", "screentime").Issue(usage.Caller{AccountID: "parent"}, time.Hour, time.Now())
	require.NoError(t, err)
	wrongIssuer, err := NewTokens(testSecret, "someone-else").Issue(usage.Caller{AccountID: "parent"}, time.Hour, time.Now())
	require.NoError(t, err)
	expired, err := ts.tokens.Issue(usage.Caller{AccountID: "parent"}, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + wrongSecret, http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + wrongIssuer, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"valid", "Bearer " + ts.parentToken(), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/profiles/kid/balance", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			ts.server.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestOwnership(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		caller usage.Caller
		path   string
		want   int
	}{
		{"owner", usage.Caller{AccountID: "parent"}, "/v1/profiles/kid/balance", http.StatusOK},
		{"other account", usage.Caller{AccountID: "parent"}, "/v1/profiles/other-kid/balance", http.StatusForbidden},
		{"device token for other profile", usage.Caller{AccountID: "stranger", ProfileID: "kid"}, "/v1/profiles/kid/balance", http.StatusForbidden},
		{"unknown profile", usage.Caller{AccountID: "parent"}, "/v1/profiles/ghost/balance", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodGet, tt.path, ts.token(tt.caller), nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHeartbeatValidation(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.parentToken()

	tests := []struct {
		name      string
		body      interface{}
		wantCode  int
		wantField string
	}{
		{"missing title", HeartbeatRequest{DeviceID: "tv-1"}, http.StatusBadRequest, "title_id"},
		{"missing device", HeartbeatRequest{TitleID: "cartoon"}, http.StatusBadRequest, "device_id"},
		{"malformed json", "{", http.StatusBadRequest, "body"},
		{"unknown field", `{"title_id":"x","device_id":"y","volume":3}`, http.StatusBadRequest, "body"},
		{"unknown session", HeartbeatRequest{SessionID: "missing", TitleID: "cartoon", DeviceID: "tv-1"}, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/v1/profiles/kid/heartbeat", tok, tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantField, resp.Field)
		})
	}
}

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

func TestHeartbeatProfileStoreDown(t *testing.T) {
	ts := newTestServer(t, func(s storage.Store) storage.Store { return profilesDownStore{s} })
	tok := ts.parentToken()

	rec := ts.do(http.MethodPost, "/v1/profiles/kid/heartbeat", tok, HeartbeatRequest{SessionID: "s-1", TitleID: "cartoon", DeviceID: "tv-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[usage.HeartbeatResult](t, rec)
	assert.Equal(t, "s-1", res.SessionID)
	assert.Equal(t, usage.StatusBlocked, res.Enforcement)
	require.NotNil(t, res.RemainingMinutes)
	assert.Equal(t, 0.0, *res.RemainingMinutes)

	rec = ts.do(http.MethodPost, "/v1/profiles/kid/heartbeat", tok, HeartbeatRequest{TitleID: "cartoon", DeviceID: "tv-1"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
}

func TestHeartbeatForeignProfile(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/v1/profiles/other-kid/heartbeat", ts.parentToken(), HeartbeatRequest{SessionID: "s-1", TitleID: "cartoon", DeviceID: "tv-1"})
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}

func TestGrants(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.Balances().Increment(context.Background(), "kid", "2024-03-04", 7200, false))
	tok := ts.parentToken()

	rec := ts.do(http.MethodPost, "/v1/profiles/kid/grants", tok, map[string]interface{}{"minutes": 30, "is_remote": true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[usage.GrantResult](t, rec)
	require.NotNil(t, res.RemainingMinutes)
	assert.Equal(t, 30.0, *res.RemainingMinutes)
	assert.Equal(t, "parent", res.Grant.IssuerAccountID)
	assert.True(t, res.Grant.IsRemote)

	rec = ts.do(http.MethodPost, "/v1/profiles/kid/grants", tok, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res = decode[usage.GrantResult](t, rec)
	assert.True(t, res.IsUnlimitedOverride)
	assert.Nil(t, res.RemainingMinutes)

	rec = ts.do(http.MethodPost, "/v1/profiles/kid/grants", tok, map[string]interface{}{"minutes": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "minutes", decode[ErrorResponse](t, rec).Field)

	device := ts.token(usage.Caller{AccountID: "parent", ProfileID: "kid"})
	rec = ts.do(http.MethodPost, "/v1/profiles/kid/grants", device, map[string]interface{}{"minutes": 30})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/profiles/kid/grants", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decode[struct {
		Grants []storage.Grant `json:"grants"`
	}](t, rec)
	require.Len(t, listing.Grants, 2)
	assert.Nil(t, listing.Grants[0].GrantedMinutes)

	rec = ts.do(http.MethodGet, "/v1/profiles/kid/grants?limit=abc", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigPatch(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.parentToken()

	rec := ts.do(http.MethodGet, "/v1/profiles/kid/config", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[storage.ProfileConfig](t, rec)
	assert.Equal(t, 120, *cfg.WeekdayLimitMinutes)

	rec = ts.do(http.MethodPatch, "/v1/profiles/kid/config", tok, `{"weekend_limit_minutes": null, "weekday_limit_minutes": 90}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cfg = decode[storage.ProfileConfig](t, rec)
	assert.Equal(t, 90, *cfg.WeekdayLimitMinutes)
	assert.Nil(t, cfg.WeekendLimitMinutes)

	rec = ts.do(http.MethodPatch, "/v1/profiles/kid/config", tok, `{"weekday_limit_minutes": 100}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "weekday_limit_minutes", decode[ErrorResponse](t, rec).Field)

	rec = ts.do(http.MethodPatch, "/v1/profiles/kid/config", tok, `{"bedtime": "20:00"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bedtime", decode[ErrorResponse](t, rec).Field)

	rec = ts.do(http.MethodGet, "/v1/profiles/kid/config", tok, nil)
	cfg = decode[storage.ProfileConfig](t, rec)
	assert.Equal(t, 90, *cfg.WeekdayLimitMinutes)
}

func TestConfigPatchPIN(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name        string
		pinVerified time.Time
		want        int
	}{
		{"no PIN", time.Time{}, http.StatusForbidden},
		{"stale PIN", monday.Add(-10 * time.Minute), http.StatusForbidden},
		{"fresh PIN", monday.Add(-time.Minute), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := ts.token(usage.Caller{AccountID: "parent", PINVerifiedAt: tt.pinVerified})
			rec := ts.do(http.MethodPatch, "/v1/profiles/kid/config", tok, `{"reset_hour": 7, "educational_exempt": false}`)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHistoryAndWeeklyReport(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.parentToken()

	rec := ts.do(http.MethodPost, "/v1/profiles/kid/heartbeat", tok, HeartbeatRequest{TitleID: "maths", DeviceID: "tv-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/profiles/kid/history?from=2024-03-04&to=2024-03-04", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	history := decode[report.History](t, rec)
	require.Len(t, history.Days, 1)
	assert.Equal(t, 0.5, history.Days[0].TotalMinutes)
	assert.Equal(t, 0.5, history.Days[0].EducationalMinutes)

	rec = ts.do(http.MethodGet, "/v1/profiles/kid/history?to=2024-03-04", tok, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "from", decode[ErrorResponse](t, rec).Field)

	rec = ts.do(http.MethodGet, "/v1/profiles/kid/history?from=2024-03-05&to=2024-03-04", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/reports/weekly", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	weekly := decode[report.Weekly](t, rec)
	assert.Equal(t, "parent", weekly.AccountID)
	require.Len(t, weekly.Profiles, 1)
	assert.Equal(t, "kid", weekly.Profiles[0].ProfileID)
}

func TestEligibility(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.Balances().Increment(context.Background(), "kid", "2024-03-04", 7200, false))

	rec := ts.do(http.MethodGet, "/v1/profiles/kid/eligibility", ts.parentToken(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	el := decode[usage.Eligibility](t, rec)
	assert.False(t, el.Eligible)
	assert.Equal(t, usage.ReasonDailyLimitReached, el.Reason)
	require.NotNil(t, el.NextResetAt)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.mr.Close()
	rec = ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
