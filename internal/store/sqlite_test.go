package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safespace/saferoute/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func fullRating() *model.Rating {
	score := 82.5
	return &model.Rating{
		RouteID:  "fp-1",
		Rating:   5,
		Feedback: "well lit all the way",
		Liked:    true,
		Start:    &model.GeoPoint{Lat: 12.9716, Lon: 77.5946},
		End:      &model.GeoPoint{Lat: 12.9279, Lon: 77.6271},
		Preferences: &model.Preferences{
			PreferWellLit: true, SafetyWeight: 0.8, DistanceWeight: 0.2,
		},
		SafetyScore: &score,
	}
}

func TestSQLite_SaveAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r := fullRating()
	require.NoError(t, st.SaveRating(ctx, r))
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())

	got, err := st.ListRatings(ctx, RatingFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	g := got[0]
	assert.Equal(t, r.ID, g.ID)
	assert.Equal(t, "fp-1", g.RouteID)
	assert.Equal(t, 5, g.Rating)
	assert.Equal(t, "well lit all the way", g.Feedback)
	assert.True(t, g.Liked)
	require.NotNil(t, g.Start)
	assert.Equal(t, *r.Start, *g.Start)
	require.NotNil(t, g.Preferences)
	assert.Equal(t, *r.Preferences, *g.Preferences)
	require.NotNil(t, g.SafetyScore)
	assert.InDelta(t, 82.5, *g.SafetyScore, 1e-9)
	assert.WithinDuration(t, r.CreatedAt, g.CreatedAt, time.Second)
}

func TestSQLite_SaveMinimalRating(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveRating(ctx, &model.Rating{RouteID: "fp-2", Rating: 2}))

	got, err := st.ListRatings(ctx, RatingFilter{RouteID: "fp-2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Start)
	assert.Nil(t, got[0].End)
	assert.Nil(t, got[0].Preferences)
	assert.Nil(t, got[0].SafetyScore)
	assert.Empty(t, got[0].Feedback)
}

func TestSQLite_SaveRating_Invalid(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	assert.Error(t, st.SaveRating(ctx, &model.Rating{RouteID: "fp", Rating: 0}))
	assert.Error(t, st.SaveRating(ctx, &model.Rating{RouteID: "fp", Rating: 6}))
	assert.Error(t, st.SaveRating(ctx, &model.Rating{Rating: 3}))
	assert.Error(t, st.SaveRating(ctx, nil))
	assert.Error(t, st.SaveRating(ctx, &model.Rating{
		RouteID: "fp", Rating: 5, Liked: true,
		Preferences: &model.Preferences{SafetyWeight: -5, DistanceWeight: 10},
	}))

	got, err := st.ListRatings(ctx, RatingFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_ListRatings_FilterAndPaging(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		route := "a"
		if i%2 == 1 {
			route = "b"
		}
		require.NoError(t, st.SaveRating(ctx, &model.Rating{
			RouteID: route, Rating: 3, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	onlyA, err := st.ListRatings(ctx, RatingFilter{RouteID: "a"})
	require.NoError(t, err)
	assert.Len(t, onlyA, 3)

	page, err := st.ListRatings(ctx, RatingFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt), "newest first")
	assert.True(t, base.Add(3*time.Minute).Equal(page[0].CreatedAt))
}

func TestSQLite_RouteFeedback(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	fb, err := st.GetRouteFeedback(ctx, "fp-1")
	require.NoError(t, err)
	assert.Nil(t, fb)

	require.NoError(t, st.SaveRating(ctx, &model.Rating{RouteID: "fp-1", Rating: 5, Liked: true}))
	require.NoError(t, st.SaveRating(ctx, &model.Rating{RouteID: "fp-1", Rating: 2}))

	fb, err = st.GetRouteFeedback(ctx, "fp-1")
	require.NoError(t, err)
	require.NotNil(t, fb)
	assert.Equal(t, 2, fb.Ratings)
	assert.InDelta(t, 3.5, fb.AvgRating, 1e-9)
	assert.Equal(t, 1, fb.Likes)
}

func TestSQLite_LikedFingerprints(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, r := range []model.Rating{
		{RouteID: "great", Rating: 5},
		{RouteID: "great", Rating: 4},
		{RouteID: "meh", Rating: 3},
		{RouteID: "liked-anyway", Rating: 2, Liked: true},
		{RouteID: "mixed", Rating: 5},
		{RouteID: "mixed", Rating: 1},
	} {
		require.NoError(t, st.SaveRating(ctx, &r))
	}

	got, err := st.LikedFingerprints(ctx, 4)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"great", "liked-anyway"}, got)
}

func TestSQLite_PreferenceStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	empty, err := st.PreferenceStats(ctx, 4)
	require.NoError(t, err)
	assert.Zero(t, empty.Ratings)

	save := func(rating int, p *model.Preferences) {
		require.NoError(t, st.SaveRating(ctx, &model.Rating{RouteID: "r", Rating: rating, Preferences: p}))
	}
	save(5, &model.Preferences{PreferMainRoads: true, SafetyWeight: 0.8, DistanceWeight: 0.2})
	save(4, &model.Preferences{PreferMainRoads: true, PreferWellLit: true, SafetyWeight: 0.6, DistanceWeight: 0.4})
	save(1, &model.Preferences{PreferPopulated: true, SafetyWeight: 0.1, DistanceWeight: 0.9})
	save(5, nil)

	stats, err := st.PreferenceStats(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Ratings)
	assert.InDelta(t, 0.7, stats.SafetyWeight, 1e-9)
	assert.InDelta(t, 0.3, stats.DistanceWeight, 1e-9)
	assert.InDelta(t, 1.0, stats.MainRoads, 1e-9)
	assert.InDelta(t, 0.5, stats.WellLit, 1e-9)
	assert.InDelta(t, 0.0, stats.Populated, 1e-9)
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Config{Driver: DriverNone})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = Open(ctx, Config{Driver: "mongo"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Driver: DriverPostgres})
	assert.Error(t, err, "postgres needs a database_url")

	st, err := Open(ctx, Config{Driver: DriverSQLite, DatabaseURL: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))
	assert.IsType(t, &SQLiteStore{}, st)
}
