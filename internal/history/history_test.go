package history

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/alliedintel/internal/models"
	"github.com/woozymasta/alliedintel/internal/resolver"
)

func at(hhmm string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", "2024-05-01 "+hhmm)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func snap(id int64, hhmm string, players, capacity int) models.Snapshot {
	return models.Snapshot{ID: id, CapturedAt: at(hhmm), NumPlayers: players, MaxPlayers: capacity}
}

func TestAggregateBuckets(t *testing.T) {
	points := Aggregate([]models.Snapshot{
		snap(1, "10:05", 5, 32),
		snap(2, "10:10", 10, 32),
		snap(3, "10:20", 8, 32),
	}, 900*time.Second)

	assert.Equal(t, []models.HistoryPoint{
		{BucketStart: at("10:00"), PeakPlayers: 10, MaxCapacity: 32},
		{BucketStart: at("10:15"), PeakPlayers: 8, MaxCapacity: 32},
	}, points)
}

func TestAggregateOmitsEmptyBucketsAndSorts(t *testing.T) {
	points := Aggregate([]models.Snapshot{
		snap(3, "12:40", 2, 16),
		snap(1, "10:01", 4, 20),
	}, DefaultBucket)

	require.Len(t, points, 2)
	assert.Equal(t, at("10:00"), points[0].BucketStart)
	assert.Equal(t, at("12:30"), points[1].BucketStart)
}

func TestAggregatePeakTieKeepsFirstCapacity(t *testing.T) {
	points := Aggregate([]models.Snapshot{
		snap(2, "10:07", 6, 24),
		snap(1, "10:02", 6, 32),
		snap(3, "10:09", 3, 64),
	}, DefaultBucket)

	require.Len(t, points, 1)
	assert.Equal(t, 6, points[0].PeakPlayers)
	assert.Equal(t, 32, points[0].MaxCapacity, "earliest snapshot reaching the peak wins")
}

func TestAggregateSameInstantUsesID(t *testing.T) {
	points := Aggregate([]models.Snapshot{
		snap(9, "10:02", 6, 24),
		snap(4, "10:02", 6, 40),
	}, DefaultBucket)

	require.Len(t, points, 1)
	assert.Equal(t, 40, points[0].MaxCapacity)
}

func TestAggregateEpochAligned(t *testing.T) {
	points := Aggregate([]models.Snapshot{snap(1, "10:59", 1, 8)}, time.Hour)
	require.Len(t, points, 1)
	assert.Equal(t, at("10:00"), points[0].BucketStart)

	points = Aggregate([]models.Snapshot{snap(1, "10:59", 1, 8)}, 7*time.Minute)
	require.Len(t, points, 1)
	assert.Zero(t, points[0].BucketStart.Unix()%(7*60))
}

func TestAggregateEmpty(t *testing.T) {
	assert.NotNil(t, Aggregate(nil, DefaultBucket))
	assert.Empty(t, Aggregate([]models.Snapshot{snap(1, "10:00", 1, 1)}, time.Millisecond))
}

func TestAggregateDoesNotMutateInput(t *testing.T) {
	in := []models.Snapshot{snap(2, "10:20", 1, 8), snap(1, "10:05", 2, 8)}
	Aggregate(in, DefaultBucket)
	assert.Equal(t, int64(2), in[0].ID)
}

type fakeStore struct {
	servers   map[string]*models.Server
	snapshots map[int64][]models.Snapshot
	maps      map[models.Game][]models.MapFrequency
	err       error
	since     time.Time
}

func addr(ip string, port int) string {
	return ip + ":" + strconv.Itoa(port)
}

func (f *fakeStore) FindServerByAddr(_ context.Context, ip string, port int) (*models.Server, error) {
	return f.servers[addr(ip, port)], f.err
}

func (f *fakeStore) SnapshotsBetween(_ context.Context, serverID int64, start, end time.Time) ([]models.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []models.Snapshot{}
	for _, s := range f.snapshots[serverID] {
		if !s.CapturedAt.Before(start) && s.CapturedAt.Before(end) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestSnapshot(_ context.Context, serverID int64, since time.Time) (*models.Snapshot, error) {
	f.since = since
	var latest *models.Snapshot
	for i, s := range f.snapshots[serverID] {
		if s.CapturedAt.Before(since) {
			continue
		}
		if latest == nil || s.CapturedAt.After(latest.CapturedAt) {
			latest = &f.snapshots[serverID][i]
		}
	}
	return latest, f.err
}

func (f *fakeStore) MostPlayedMaps(_ context.Context, _ time.Time, game models.Game, _ int) ([]models.MapFrequency, error) {
	return f.maps[game], f.err
}

type fakeResolver map[string]string

func (r fakeResolver) Resolve(_ context.Context, host string) (string, error) {
	ip, ok := r[host]
	if !ok {
		return "", &resolver.ResolutionError{Host: host, Err: errors.New("no such host")}
	}
	return ip, nil
}

func newFixture() (*Service, *fakeStore) {
	omaha := &models.Server{ID: 1, IP: "1.2.3.4", Port: 12203, Hostname: "Omaha", Game: models.GameMOHAAS, Country: "nl"}
	store := &fakeStore{
		servers: map[string]*models.Server{addr("1.2.3.4", 12203): omaha},
		snapshots: map[int64][]models.Snapshot{1: {
			snap(1, "10:05", 5, 32),
			snap(2, "10:10", 10, 32),
			snap(3, "10:20", 8, 32),
		}},
	}
	res := fakeResolver{"1.2.3.4": "1.2.3.4", "omaha.example.org": "1.2.3.4", "other.example.org": "9.9.9.9"}

	return NewService(store, res, func() time.Time { return at("11:00") }), store
}

func TestHistoryByAddress(t *testing.T) {
	svc, _ := newFixture()

	points, err := svc.HistoryByAddress(context.Background(), "omaha.example.org", 12203, at("10:00"), at("11:00"), 0)
	require.NoError(t, err)
	assert.Len(t, points, 2)

	again, err := svc.HistoryByAddress(context.Background(), "omaha.example.org", 12203, at("10:00"), at("11:00"), 0)
	require.NoError(t, err)

	first, _ := json.Marshal(points)
	second, _ := json.Marshal(again)
	assert.Equal(t, first, second)
}

func TestHistoryErrors(t *testing.T) {
	svc, _ := newFixture()
	ctx := context.Background()
	server := models.Server{ID: 1}

	_, err := svc.History(ctx, server, at("11:00"), at("10:00"), 0)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = svc.History(ctx, server, at("10:00"), at("10:00"), 0)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = svc.History(ctx, server, at("10:00"), at("11:00"), time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidBucket)

	_, err = svc.History(ctx, server, at("10:00"), at("11:00"), 1500*time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidBucket, "sub-second remainders are rejected, not truncated")

	_, err = svc.HistoryByAddress(ctx, "other.example.org", 12203, at("10:00"), at("11:00"), 0)
	assert.ErrorIs(t, err, ErrServerNotFound)

	_, err = svc.HistoryByAddress(ctx, "nowhere.invalid", 12203, at("10:00"), at("11:00"), 0)
	var re *resolver.ResolutionError
	assert.ErrorAs(t, err, &re)
}

func TestHistoryEmptyRange(t *testing.T) {
	svc, _ := newFixture()

	points, err := svc.History(context.Background(), models.Server{ID: 1}, at("13:00"), at("14:00"), 0)
	require.NoError(t, err)
	assert.NotNil(t, points)
	assert.Empty(t, points)
}

func TestStatus(t *testing.T) {
	svc, store := newFixture()
	store.snapshots[1][2].GameType = "tdm"
	store.snapshots[1][2].MapName = "mp_bahnhof_dm"
	store.snapshots[1][2].GameVersion = "2.40b+opm"
	store.snapshots[1][2].Players = []models.Player{{Name: "Able", Ping: 40}}

	st, err := svc.Status(context.Background(), "1.2.3.4", 12203)
	require.NoError(t, err)

	assert.Equal(t, "Omaha", st.ServerName)
	assert.Equal(t, "NL", st.Country)
	assert.Equal(t, "Medal of Honor Spearhead", st.GameTitle)
	assert.Equal(t, "Team Deathmatch", st.GameMode)
	assert.Equal(t, "mp_bahnhof_dm", st.MapName)
	assert.Equal(t, 8, st.CurrentPlayers)
	assert.True(t, st.OpenMOHAA)
	assert.Equal(t, []PlayerStatus{{Name: "Able", Ping: 40}}, st.Players)
	assert.Equal(t, at("11:00").Add(-24*time.Hour), store.since)
}

func TestStatusWithoutSnapshots(t *testing.T) {
	svc, store := newFixture()
	store.snapshots = map[int64][]models.Snapshot{}
	store.servers[addr("1.2.3.4", 12203)].Country = ""

	st, err := svc.Status(context.Background(), "1.2.3.4", 12203)
	require.NoError(t, err)
	assert.Equal(t, "unknown", st.MapName)
	assert.Equal(t, "UNK", st.Country)
	assert.Equal(t, "Free-For-All", st.GameMode)
	assert.Nil(t, st.CapturedAt)
	assert.NotNil(t, st.Players)
}

func TestGameMode(t *testing.T) {
	tests := map[string]string{
		"":        "Free-For-All",
		"obj":     "Objective",
		"TOW":     "Tug of War",
		"tdm":     "Team Deathmatch",
		"dm":      "Free-For-All",
		"lib":     "Liberation",
		"ft":      "Freeze Tag",
		"sd":      "Search & Destroy",
		"custom":  "CUSTOM",
		" obj-x ": "Objective",
	}

	for raw, want := range tests {
		assert.Equal(t, want, GameMode(raw), raw)
	}
}

func TestMapFullName(t *testing.T) {
	assert.Equal(t, "Omaha Beach", MapFullName("obj/obj_team3"))
	assert.Equal(t, "Bahnhof", MapFullName("MP_BAHNHOF"))
	assert.Equal(t, "Bahnhof", MapFullName("dm/mp_bahnhof_dm"))
	assert.Equal(t, "Southern France", MapFullName("mohdm"), "first entry in table order wins")
	assert.Empty(t, MapFullName("custom/map"))
	assert.Empty(t, MapFullName(""))
}

func TestMostPlayedMaps(t *testing.T) {
	svc, store := newFixture()
	store.maps = map[models.Game][]models.MapFrequency{
		models.GameMOHAA: {{MapName: "obj/obj_team3", Count: 12}},
		"":               {{MapName: "mp_ship_lib", Count: 20}},
	}

	got, err := svc.MostPlayedMaps(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, &models.MapFrequency{MapName: "obj/obj_team3", FullName: "Omaha Beach", Count: 12}, got["mohaa"])
	assert.Nil(t, got["mohaas"])
	assert.Nil(t, got["mohaab"])
	assert.Equal(t, "Ship (Stuckguter)", got[AllGames].FullName)
}
