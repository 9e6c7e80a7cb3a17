package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/safespace/saferoute/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS ratings (
	id              TEXT PRIMARY KEY,
	route_id        TEXT NOT NULL,
	rating          INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
	feedback        TEXT,
	liked           INTEGER NOT NULL DEFAULT 0,
	start_lat       REAL,
	start_lon       REAL,
	end_lat         REAL,
	end_lon         REAL,
	pref_main_roads INTEGER,
	pref_well_lit   INTEGER,
	pref_populated  INTEGER,
	safety_weight   REAL,
	distance_weight REAL,
	safety_score    REAL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS route_feedback (
	route_id      TEXT PRIMARY KEY,
	ratings       INTEGER NOT NULL DEFAULT 0,
	rating_sum    INTEGER NOT NULL DEFAULT 0,
	likes         INTEGER NOT NULL DEFAULT 0,
	last_rated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ratings_route_id ON ratings(route_id);
CREATE INDEX IF NOT EXISTS idx_ratings_created_at ON ratings(created_at);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var sqliteInsertRating = `INSERT INTO ratings (` + strings.Join(ratingColumns, ", ") +
	`) VALUES (` + placeholders(len(ratingColumns)) + `)`

const sqliteUpsertFeedback = `
INSERT INTO route_feedback (route_id, ratings, rating_sum, likes, last_rated_at)
VALUES (?, 1, ?, ?, ?)
ON CONFLICT (route_id) DO UPDATE SET
	ratings = ratings + 1,
	rating_sum = rating_sum + excluded.rating_sum,
	likes = likes + excluded.likes,
	last_rated_at = excluded.last_rated_at`

// SaveRating implements Store.
func (s *SQLiteStore) SaveRating(ctx context.Context, r *model.Rating) error {
	if err := prepare(r); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, sqliteInsertRating, ratingArgs(r)...); err != nil {
		return eris.Wrapf(err, "sqlite: insert rating for route %s", r.RouteID)
	}
	if _, err := tx.ExecContext(ctx, sqliteUpsertFeedback, r.RouteID, r.Rating, boolInt(r.Liked), r.CreatedAt); err != nil {
		return eris.Wrapf(err, "sqlite: update feedback for route %s", r.RouteID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit rating")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ListRatings implements Store, newest first.
func (s *SQLiteStore) ListRatings(ctx context.Context, filter RatingFilter) ([]model.Rating, error) {
	query := `SELECT ` + strings.Join(ratingColumns, ", ") + ` FROM ratings WHERE 1=1`
	var args []any

	if filter.RouteID != "" {
		query += ` AND route_id = ?`
		args = append(args, filter.RouteID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ratings")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Rating
	for rows.Next() {
		var sc ratingScan
		if err := rows.Scan(sc.dest()...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rating")
		}
		out = append(out, sc.rating())
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list ratings iterate")
}

// GetRouteFeedback implements Store. It returns nil when the route has no ratings.
func (s *SQLiteStore) GetRouteFeedback(ctx context.Context, routeID string) (*RouteFeedback, error) {
	var fb RouteFeedback
	var sum int
	err := s.db.QueryRowContext(ctx,
		`SELECT route_id, ratings, rating_sum, likes, last_rated_at FROM route_feedback WHERE route_id = ?`,
		routeID,
	).Scan(&fb.RouteID, &fb.Ratings, &sum, &fb.Likes, &fb.LastRatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get feedback for route %s", routeID)
	}
	if fb.Ratings > 0 {
		fb.AvgRating = float64(sum) / float64(fb.Ratings)
	}
	fb.LastRatedAt = fb.LastRatedAt.UTC()
	return &fb, nil
}

// LikedFingerprints implements Store.
func (s *SQLiteStore) LikedFingerprints(ctx context.Context, minRating int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT route_id FROM route_feedback
		 WHERE likes > 0 OR rating_sum >= ? * ratings
		 ORDER BY last_rated_at DESC LIMIT ?`,
		minRating, likedLimit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: liked fingerprints")
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fingerprint")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: liked fingerprints iterate")
}

// PreferenceStats implements Store.
func (s *SQLiteStore) PreferenceStats(ctx context.Context, minRating int) (model.PreferenceStats, error) {
	var st model.PreferenceStats
	var sw, dw, mr, wl, pp sql.NullFloat64
	err := s.db.QueryRowContext(ctx, preferenceStatsQuery("?"), minRating).
		Scan(&st.Ratings, &sw, &dw, &mr, &wl, &pp)
	if err != nil {
		return st, eris.Wrap(err, "sqlite: preference stats")
	}
	st.SafetyWeight, st.DistanceWeight = sw.Float64, dw.Float64
	st.MainRoads, st.WellLit, st.Populated = mr.Float64, wl.Float64, pp.Float64
	return st, nil
}

// likedLimit caps the fingerprints loaded per request.
const likedLimit = 500

func preferenceStatsQuery(param string) string {
	return `SELECT COUNT(*),
		AVG(safety_weight), AVG(distance_weight),
		AVG(CASE WHEN pref_main_roads THEN 1.0 ELSE 0.0 END),
		AVG(CASE WHEN pref_well_lit THEN 1.0 ELSE 0.0 END),
		AVG(CASE WHEN pref_populated THEN 1.0 ELSE 0.0 END)
	FROM ratings
	WHERE rating >= ` + param + ` AND safety_weight IS NOT NULL AND distance_weight IS NOT NULL`
}
