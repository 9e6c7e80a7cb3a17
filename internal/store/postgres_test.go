package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safespace/saferoute/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS ratings`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRating(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	r := fullRating()
	r.ID = "rating-1"
	r.CreatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ratings \(id, route_id, rating`).
		WithArgs(
			"rating-1", "fp-1", 5, "well lit all the way", true,
			12.9716, 77.5946, 12.9279, 77.6271,
			false, true, false, 0.8, 0.2,
			82.5, r.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO route_feedback`).
		WithArgs("fp-1", 5, 1, r.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveRating(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRating_RollsBackOnFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ratings`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO route_feedback`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.SaveRating(context.Background(), &model.Rating{RouteID: "fp-1", Rating: 4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update feedback")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRating_InvalidSkipsDatabase(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.SaveRating(context.Background(), &model.Rating{RouteID: "fp-1", Rating: 9})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRatings(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	feedback := "ok"
	lat, lon := 12.97, 77.59
	sw, dw := 0.7, 0.3
	yes, no := true, false

	mock.ExpectQuery(`SELECT id, route_id, rating, .* FROM ratings WHERE 1=1 AND route_id = \$1 ORDER BY created_at DESC, id LIMIT \$2`).
		WithArgs("fp-1", 100).
		WillReturnRows(pgxmock.NewRows(ratingColumns).AddRow(
			"r1", "fp-1", 4, &feedback, false,
			&lat, &lon, (*float64)(nil), (*float64)(nil),
			&yes, &no, &no, &sw, &dw,
			(*float64)(nil), created,
		))

	got, err := s.ListRatings(context.Background(), RatingFilter{RouteID: "fp-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Feedback)
	require.NotNil(t, got[0].Start)
	assert.Nil(t, got[0].End)
	require.NotNil(t, got[0].Preferences)
	assert.True(t, got[0].Preferences.PreferMainRoads)
	assert.Nil(t, got[0].SafetyScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRouteFeedback_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT route_id, ratings, rating_sum, likes, last_rated_at FROM route_feedback`).
		WithArgs("unknown").
		WillReturnError(pgx.ErrNoRows)

	fb, err := s.GetRouteFeedback(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, fb)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRouteFeedback(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT route_id, ratings, rating_sum, likes, last_rated_at FROM route_feedback`).
		WithArgs("fp-1").
		WillReturnRows(pgxmock.NewRows([]string{"route_id", "ratings", "rating_sum", "likes", "last_rated_at"}).
			AddRow("fp-1", 4, 14, 2, at))

	fb, err := s.GetRouteFeedback(context.Background(), "fp-1")
	require.NoError(t, err)
	require.NotNil(t, fb)
	assert.InDelta(t, 3.5, fb.AvgRating, 1e-9)
	assert.Equal(t, 2, fb.Likes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LikedFingerprints(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT route_id FROM route_feedback`).
		WithArgs(4, likedLimit).
		WillReturnRows(pgxmock.NewRows([]string{"route_id"}).AddRow("a").AddRow("b"))

	got, err := s.LikedFingerprints(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PreferenceStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	sw, dw, mr, wl, pp := 0.75, 0.25, 1.0, 0.5, 0.0

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs(4).
		WillReturnRows(pgxmock.NewRows([]string{"count", "sw", "dw", "mr", "wl", "pp"}).
			AddRow(3, &sw, &dw, &mr, &wl, &pp))

	st, err := s.PreferenceStats(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, model.PreferenceStats{
		Ratings: 3, SafetyWeight: 0.75, DistanceWeight: 0.25, MainRoads: 1, WellLit: 0.5,
	}, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ImportRatings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"ratings"}, ratingColumns).WillReturnResult(2)
	mock.ExpectExec(`(?s)INSERT INTO route_feedback.*GROUP BY route_id`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, skipped, err := s.ImportRatings(context.Background(), []model.Rating{
		{RouteID: "a", Rating: 5},
		{RouteID: "b", Rating: 3},
		{RouteID: "c", Rating: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
