package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/safespace/saferoute/internal/db"
	"github.com/safespace/saferoute/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	if connString == "" {
		return nil, eris.New("postgres: database_url is required")
	}
	pool, err := db.NewPool(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS ratings (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	route_id        TEXT NOT NULL,
	rating          INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
	feedback        TEXT,
	liked           BOOLEAN NOT NULL DEFAULT false,
	start_lat       DOUBLE PRECISION,
	start_lon       DOUBLE PRECISION,
	end_lat         DOUBLE PRECISION,
	end_lon         DOUBLE PRECISION,
	pref_main_roads BOOLEAN,
	pref_well_lit   BOOLEAN,
	pref_populated  BOOLEAN,
	safety_weight   DOUBLE PRECISION,
	distance_weight DOUBLE PRECISION,
	safety_score    DOUBLE PRECISION,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS route_feedback (
	route_id      TEXT PRIMARY KEY,
	ratings       INTEGER NOT NULL DEFAULT 0,
	rating_sum    INTEGER NOT NULL DEFAULT 0,
	likes         INTEGER NOT NULL DEFAULT 0,
	last_rated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ratings_route_id ON ratings(route_id);
CREATE INDEX IF NOT EXISTS idx_ratings_created_at ON ratings(created_at DESC);
`

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Ping checks the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func dollarParams(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ps, ", ")
}

var postgresInsertRating = `INSERT INTO ratings (` + strings.Join(ratingColumns, ", ") +
	`) VALUES (` + dollarParams(len(ratingColumns)) + `)`

const postgresUpsertFeedback = `
INSERT INTO route_feedback (route_id, ratings, rating_sum, likes, last_rated_at)
VALUES ($1, 1, $2, $3, $4)
ON CONFLICT (route_id) DO UPDATE SET
	ratings = route_feedback.ratings + 1,
	rating_sum = route_feedback.rating_sum + EXCLUDED.rating_sum,
	likes = route_feedback.likes + EXCLUDED.likes,
	last_rated_at = GREATEST(route_feedback.last_rated_at, EXCLUDED.last_rated_at)`

// SaveRating implements Store.
func (s *PostgresStore) SaveRating(ctx context.Context, r *model.Rating) error {
	if err := prepare(r); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, postgresInsertRating, ratingArgs(r)...); err != nil {
		return eris.Wrapf(err, "postgres: insert rating for route %s", r.RouteID)
	}
	if _, err := tx.Exec(ctx, postgresUpsertFeedback, r.RouteID, r.Rating, boolInt(r.Liked), r.CreatedAt); err != nil {
		return eris.Wrapf(err, "postgres: update feedback for route %s", r.RouteID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit rating")
}

// ImportRatings bulk-copies ratings, e.g. from a SQLite database, and
// rebuilds the per-route aggregates. Ratings that fail validation are
// skipped and counted.
func (s *PostgresStore) ImportRatings(ctx context.Context, ratings []model.Rating) (imported int64, skipped int, err error) {
	rows := make([][]any, 0, len(ratings))
	for i := range ratings {
		r := ratings[i]
		if err := prepare(&r); err != nil {
			skipped++
			continue
		}
		rows = append(rows, ratingArgs(&r))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, skipped, eris.Wrap(err, "postgres: begin import tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	imported, err = db.CopyFrom(ctx, tx, "ratings", ratingColumns, rows)
	if err != nil {
		return 0, skipped, eris.Wrap(err, "postgres: import ratings")
	}
	if _, err := tx.Exec(ctx, postgresRebuildFeedback); err != nil {
		return 0, skipped, eris.Wrap(err, "postgres: rebuild feedback")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, skipped, eris.Wrap(err, "postgres: commit import")
	}
	return imported, skipped, nil
}

const postgresRebuildFeedback = `
INSERT INTO route_feedback (route_id, ratings, rating_sum, likes, last_rated_at)
SELECT route_id, COUNT(*), SUM(rating), COUNT(*) FILTER (WHERE liked), MAX(created_at)
FROM ratings GROUP BY route_id
ON CONFLICT (route_id) DO UPDATE SET
	ratings = EXCLUDED.ratings,
	rating_sum = EXCLUDED.rating_sum,
	likes = EXCLUDED.likes,
	last_rated_at = EXCLUDED.last_rated_at`

// ListRatings implements Store, newest first.
func (s *PostgresStore) ListRatings(ctx context.Context, filter RatingFilter) ([]model.Rating, error) {
	query := `SELECT ` + strings.Join(ratingColumns, ", ") + ` FROM ratings WHERE 1=1`
	var args []any

	if filter.RouteID != "" {
		args = append(args, filter.RouteID)
		query += fmt.Sprintf(` AND route_id = $%d`, len(args))
	}
	args = append(args, listLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ratings")
	}
	defer rows.Close()

	var out []model.Rating
	for rows.Next() {
		var sc ratingScan
		if err := rows.Scan(sc.dest()...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rating")
		}
		out = append(out, sc.rating())
	}
	return out, eris.Wrap(rows.Err(), "postgres: list ratings iterate")
}

// GetRouteFeedback implements Store. It returns nil when the route has no ratings.
func (s *PostgresStore) GetRouteFeedback(ctx context.Context, routeID string) (*RouteFeedback, error) {
	var fb RouteFeedback
	var sum int
	err := s.pool.QueryRow(ctx,
		`SELECT route_id, ratings, rating_sum, likes, last_rated_at FROM route_feedback WHERE route_id = $1`,
		routeID,
	).Scan(&fb.RouteID, &fb.Ratings, &sum, &fb.Likes, &fb.LastRatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get feedback for route %s", routeID)
	}
	if fb.Ratings > 0 {
		fb.AvgRating = float64(sum) / float64(fb.Ratings)
	}
	fb.LastRatedAt = fb.LastRatedAt.UTC()
	return &fb, nil
}

// LikedFingerprints implements Store.
func (s *PostgresStore) LikedFingerprints(ctx context.Context, minRating int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT route_id FROM route_feedback
		 WHERE likes > 0 OR rating_sum >= $1 * ratings
		 ORDER BY last_rated_at DESC LIMIT $2`,
		minRating, likedLimit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: liked fingerprints")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fingerprint")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "postgres: liked fingerprints iterate")
}

// PreferenceStats implements Store.
func (s *PostgresStore) PreferenceStats(ctx context.Context, minRating int) (model.PreferenceStats, error) {
	var st model.PreferenceStats
	var sw, dw, mr, wl, pp *float64
	err := s.pool.QueryRow(ctx, preferenceStatsQuery("$1"), minRating).
		Scan(&st.Ratings, &sw, &dw, &mr, &wl, &pp)
	if err != nil {
		return st, eris.Wrap(err, "postgres: preference stats")
	}
	for dst, src := range map[*float64]*float64{
		&st.SafetyWeight: sw, &st.DistanceWeight: dw,
		&st.MainRoads: mr, &st.WellLit: wl, &st.Populated: pp,
	} {
		if src != nil {
			*dst = *src
		}
	}
	return st, nil
}
