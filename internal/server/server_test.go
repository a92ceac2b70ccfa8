package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/alliedintel/internal/cache"
	"github.com/woozymasta/alliedintel/internal/config"
	"github.com/woozymasta/alliedintel/internal/history"
	"github.com/woozymasta/alliedintel/internal/models"
	"github.com/woozymasta/alliedintel/internal/networks"
	"github.com/woozymasta/alliedintel/internal/resolver"
	"github.com/woozymasta/alliedintel/internal/snapshot"
	"github.com/woozymasta/alliedintel/internal/storage"
)

const token = "secret"

type stubSnapshotter struct {
	err     error
	summary models.RunSummary
	delay   time.Duration
}

func (s *stubSnapshotter) Run(context.Context) (models.RunSummary, error) {
	time.Sleep(s.delay)
	return s.summary, s.err
}

func (s *stubSnapshotter) Status() snapshot.Status {
	return snapshot.Status{State: models.RunIdle}
}

type fixture struct {
	handler http.Handler
	repo    *storage.Repository
	snaps   *stubSnapshotter
	client  *networks.Client
}

func newFixture(t *testing.T, upstream http.HandlerFunc) *fixture {
	t.Helper()

	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	repo, err := storage.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	client := networks.New(config.Upstream{BaseURL: up.URL, Timeout: time.Second, RateLimit: 1000, RateBurst: 10}, cache.New(cache.DefaultTTL))
	res := resolver.New(resolver.WithLookup(func(context.Context, string) ([]netip.Addr, error) {
		return []netip.Addr{netip.MustParseAddr("1.2.3.4")}, nil
	}))
	snaps := &stubSnapshotter{summary: models.RunSummary{RunID: "run-1", State: models.RunCompleted, ServersListed: 3}}

	cfg := &config.Config{}
	cfg.Server.AuthToken = token
	cfg.RateLimit.HardLimitCount = 100
	cfg.RateLimit.HardLimitWin = time.Minute

	srv := New(client, snaps, history.NewService(repo, res, nil), cfg)
	t.Cleanup(srv.Close)

	return &fixture{handler: srv.Run(), repo: repo, snaps: snaps, client: client}
}

func (f *fixture) do(method, target string, admin bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if admin {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestServerListRoute(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mohaa", r.URL.Path)
		assert.Equal(t, "NL", r.URL.Query().Get("country"))
		_, _ = w.Write([]byte(`[[{"ip": "1.2.3.4", "hostport": 12203, "hostname": "Omaha", "numplayers": 4}], {"players": 4, "total": 1}]`))
	})

	rec := f.do(http.MethodGet, "/api/servers/mohaa?country=nl&r=20", false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	list := decode[networks.ServerList](t, rec)
	require.Len(t, list.Servers, 1)
	assert.Equal(t, "Omaha", list.Servers[0].Hostname)
	assert.Equal(t, 4, list.Metadata.Players)
}

func TestServerListBadInput(t *testing.T) {
	f := newFixture(t, func(http.ResponseWriter, *http.Request) { t.Error("upstream must not be called") })

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/servers/quake3", false).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/servers/mohaa?r=many", false).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/servers/mohaa/1.2.3.4/99999", false).Code)
}

func TestUpstreamErrorsAreBadGateway(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error": 1, "in": "server_not_found"}`))
	})

	rec := f.do(http.MethodGet, "/api/servers/mohaab/1.2.3.4/12203", false)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	body := decode[errorResponse](t, rec)
	assert.Equal(t, "remote_rejected", body.Kind)
}

func TestAllServersRoute(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[[], {"players": 0, "total": 0}]`))
	})

	rec := f.do(http.MethodGet, "/api/servers/all", false)
	require.Equal(t, http.StatusOK, rec.Code)

	lists := decode[map[string]networks.ServerList](t, rec)
	assert.Len(t, lists, 3)
}

func TestMOTDRoute(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mohaas/motd", r.URL.Path)
		_, _ = w.Write([]byte(`{"html": "<b>hi</b>", "servers": 3, "players": 9}`))
	})

	rec := f.do(http.MethodGet, "/api/servers/mohaas/motd", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 9, decode[networks.MOTD](t, rec).Players)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/cache/clear", false).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/snapshots/run", false).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/snapshots/status", false).Code)
}

func TestCacheClearRoute(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"html": "", "servers": 0, "players": 0}`))
	})

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/servers/mohaa/motd", false).Code)
	require.Equal(t, 1, f.client.Cache().Len())

	rec := f.do(http.MethodPost, "/api/cache/clear?key=motd_mohaa", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, rec)["cleared"])
	assert.Equal(t, 0, f.client.Cache().Len())
}

func TestSnapshotRunRoute(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/snapshots/run", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[models.RunSummary](t, rec).ServersListed)

	f.snaps.err = snapshot.ErrAlreadyRunning
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/snapshots/run", true).Code)

	rec = f.do(http.MethodGet, "/api/snapshots/status", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RunIdle, decode[snapshot.Status](t, rec).State)
}

func TestSnapshotRunOutlastsWriteTimeout(t *testing.T) {
	f := newFixture(t, nil)
	f.snaps.delay = 200 * time.Millisecond

	ts := httptest.NewUnstartedServer(f.handler)
	ts.Config.WriteTimeout = 50 * time.Millisecond
	ts.Start()
	t.Cleanup(ts.Close)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/snapshots/run", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var summary models.RunSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, "run-1", summary.RunID)
}

func TestHistoryRoute(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	srv := models.Server{IP: "1.2.3.4", Port: 12203, Hostname: "Omaha", Game: models.GameMOHAA}
	for _, s := range []struct {
		offset  time.Duration
		players int
	}{{5 * time.Minute, 5}, {10 * time.Minute, 10}, {20 * time.Minute, 8}} {
		_, err := f.repo.RecordSnapshot(ctx, srv, &models.Snapshot{CapturedAt: base.Add(s.offset), NumPlayers: s.players, MaxPlayers: 32})
		require.NoError(t, err)
	}

	rec := f.do(http.MethodGet, "/api/history/omaha.example.org/12203?start=2024-05-01T10:00:00Z&end=1714561200&bucket=900", false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	points := decode[[]models.HistoryPoint](t, rec)
	require.Len(t, points, 2)
	assert.Equal(t, base, points[0].BucketStart)
	assert.Equal(t, 10, points[0].PeakPlayers)
	assert.Equal(t, 8, points[1].PeakPlayers)

	rec = f.do(http.MethodGet, "/api/history/1.2.3.4/12203?start=2024-05-02T10:00:00Z&end=2024-05-02T11:00:00Z", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHistoryRouteErrors(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/history/1.2.3.4/12203", false).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/history/1.2.3.4/12203?start=yesterday", false).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/history/1.2.3.4/12203?bucket=0", false).Code)
	assert.Equal(t, http.StatusBadRequest,
		f.do(http.MethodGet, "/api/history/1.2.3.4/12203?start=1714561200&end=1714557600", false).Code)
}

func TestStatusRoute(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.repo.RecordSnapshot(context.Background(),
		models.Server{IP: "1.2.3.4", Port: 12203, Hostname: "Omaha", Game: models.GameMOHAAB},
		&models.Snapshot{CapturedAt: time.Now(), MapName: "mp_anzio_lib", GameType: "lib", NumPlayers: 1, MaxPlayers: 20,
			Players: []models.Player{{Name: "Able", Ping: 33}}},
	)
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/api/status/1.2.3.4/12203", false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	st := decode[history.ServerStatus](t, rec)
	assert.Equal(t, "Liberation", st.GameMode)
	assert.Equal(t, "Medal of Honor Breakthrough", st.GameTitle)
	assert.Equal(t, []history.PlayerStatus{{Name: "Able", Ping: 33}}, st.Players)
}

func TestMostPlayedMapsRoute(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.repo.RecordSnapshot(context.Background(),
		models.Server{IP: "1.2.3.4", Port: 12203, Hostname: "Omaha", Game: models.GameMOHAA},
		&models.Snapshot{CapturedAt: time.Now(), MapName: "obj/obj_team3", NumPlayers: 1},
	)
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/api/v1/statistics/most-played-maps", false)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[map[string]*models.MapFrequency](t, rec)
	require.NotNil(t, got["mohaa"])
	assert.Equal(t, "Omaha Beach", got["mohaa"].FullName)
	assert.Nil(t, got["mohaas"])
	assert.Equal(t, "obj/obj_team3", got["all"].MapName)
}

func TestRateLimit(t *testing.T) {
	up := func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{}`)) }
	f := newFixture(t, up)

	cfg := &config.Config{}
	cfg.RateLimit.HardLimitCount = 2
	cfg.RateLimit.HardLimitWin = time.Hour
	srv := New(f.client, f.snaps, nil, cfg)
	t.Cleanup(srv.Close)
	h := srv.Run()

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
