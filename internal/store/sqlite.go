package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/meridian-intel/sentinel-cli/internal/model"
)

// SQLiteStore implements Store on an embedded SQLite database. It is the
// zero-infrastructure fallback for local development and air-gapped use.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if necessary) a SQLite database at path.
// Pass ":memory:" for an ephemeral database.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// modernc sqlite is single-writer; serialize access through one conn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: pragmas")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS posts (
	id                  TEXT PRIMARY KEY,
	source              TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	content             TEXT NOT NULL,
	published_at        TIMESTAMP NOT NULL,
	summary             TEXT,
	keywords            TEXT,
	risk_score          REAL,
	is_psyop            BOOLEAN,
	needs_deep_analysis BOOLEAN NOT NULL DEFAULT 0,
	indicators          TEXT,
	analysis_summary    TEXT,
	techniques          TEXT,
	targets             TEXT,
	narrative_theme     TEXT,
	recommended_actions TEXT,
	escalation_level    TEXT,
	strategic_summary   TEXT,
	counter_measures    TEXT,
	review_category     TEXT NOT NULL DEFAULT 'unreviewed',
	last_analyzed_stage TEXT,
	analyzed_at         TIMESTAMP,
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_posts_published_at ON posts(published_at);
CREATE INDEX IF NOT EXISTS idx_posts_review_category ON posts(review_category);

CREATE TABLE IF NOT EXISTS calibration_snapshots (
	id                       TEXT PRIMARY KEY,
	lookback_days            INTEGER NOT NULL,
	min_risk_score           REAL NOT NULL,
	reviewed_count           INTEGER NOT NULL,
	true_positives           INTEGER NOT NULL,
	false_positives          INTEGER NOT NULL,
	true_negatives           INTEGER NOT NULL,
	false_negatives          INTEGER NOT NULL,
	avg_confirmed_score      REAL NOT NULL,
	avg_rejected_score       REAL NOT NULL,
	avg_false_positive_score REAL NOT NULL,
	avg_false_negative_score REAL NOT NULL,
	risk_threshold           REAL NOT NULL,
	deep_threshold           REAL NOT NULL,
	deepest_threshold        REAL NOT NULL,
	created_at               TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS api_usage (
	id            TEXT PRIMARY KEY,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	stage         TEXT NOT NULL,
	post_id       TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd      REAL NOT NULL,
	success       BOOLEAN NOT NULL,
	error_detail  TEXT,
	created_at    TIMESTAMP NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return eris.Wrap(s.db.Close(), "sqlite: close")
}

func (s *SQLiteStore) InsertPost(ctx context.Context, post model.Post) error {
	now := time.Now().UTC()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = now
	}
	if post.ReviewCategory == "" {
		post.ReviewCategory = model.ReviewUnreviewed
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (`+postColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID, post.Source, post.Title, post.Content, post.PublishedAt,
		post.Summary, marshalList(post.Keywords), post.RiskScore,
		post.IsPsyop, post.NeedsDeepAnalysis, marshalList(post.Indicators),
		post.AnalysisSummary, marshalList(post.Techniques), marshalList(post.Targets),
		post.NarrativeTheme, marshalList(post.RecommendedActions),
		post.EscalationLevel, post.StrategicSummary, marshalList(post.CounterMeasures),
		string(post.ReviewCategory), post.LastAnalyzedStage, post.AnalyzedAt,
		post.CreatedAt, post.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert post %s", post.ID)
}

func (s *SQLiteStore) GetPost(ctx context.Context, id string) (*model.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)

	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get post %s", id)
	}
	return post, nil
}

func (s *SQLiteStore) ListRecentPosts(ctx context.Context, since time.Time, limit int) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE published_at >= ? ORDER BY published_at DESC LIMIT ?`,
		since, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recent posts")
	}
	defer rows.Close()

	return collectSQLPosts(rows)
}

func (s *SQLiteStore) ListFlaggedPosts(ctx context.Context, from, to time.Time) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE is_psyop = 1 AND published_at >= ? AND published_at <= ?
		 ORDER BY published_at ASC`,
		from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list flagged posts")
	}
	defer rows.Close()

	return collectSQLPosts(rows)
}

func (s *SQLiteStore) ListReviewedPosts(ctx context.Context, since time.Time, minRiskScore float64) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE review_category IN (?, ?) AND risk_score IS NOT NULL AND risk_score >= ? AND published_at >= ?
		 ORDER BY published_at DESC`,
		string(model.ReviewConfirmed), string(model.ReviewRejected), minRiskScore, since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reviewed posts")
	}
	defer rows.Close()

	return collectSQLPosts(rows)
}

func (s *SQLiteStore) UpdatePostFields(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	setMap := make(map[string]any, len(fields)+1)
	for col, val := range fields {
		setMap[col] = normalizeFieldValue(val)
	}
	setMap["updated_at"] = time.Now().UTC()

	sqlStr, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Question).
		Update("posts").
		SetMap(setMap).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return eris.Wrap(err, "sqlite: build update")
	}

	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update post %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("post not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) LatestCalibration(ctx context.Context) (*model.CalibrationSnapshot, error) {
	var snap model.CalibrationSnapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT id, lookback_days, min_risk_score, reviewed_count, true_positives, false_positives,
			true_negatives, false_negatives, avg_confirmed_score, avg_rejected_score,
			avg_false_positive_score, avg_false_negative_score,
			risk_threshold, deep_threshold, deepest_threshold, created_at
		 FROM calibration_snapshots ORDER BY created_at DESC LIMIT 1`,
	).Scan(
		&snap.ID, &snap.LookbackDays, &snap.MinRiskScore, &snap.ReviewedCount,
		&snap.TruePositives, &snap.FalsePositives, &snap.TrueNegatives, &snap.FalseNegatives,
		&snap.AvgConfirmedScore, &snap.AvgRejectedScore,
		&snap.AvgFalsePositiveScore, &snap.AvgFalseNegativeScore,
		&snap.Recommended.Risk, &snap.Recommended.Deep, &snap.Recommended.Deepest,
		&snap.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest calibration")
	}
	return &snap, nil
}

func (s *SQLiteStore) InsertCalibration(ctx context.Context, snap model.CalibrationSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calibration_snapshots (id, lookback_days, min_risk_score, reviewed_count,
			true_positives, false_positives, true_negatives, false_negatives,
			avg_confirmed_score, avg_rejected_score, avg_false_positive_score, avg_false_negative_score,
			risk_threshold, deep_threshold, deepest_threshold, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.LookbackDays, snap.MinRiskScore, snap.ReviewedCount,
		snap.TruePositives, snap.FalsePositives, snap.TrueNegatives, snap.FalseNegatives,
		snap.AvgConfirmedScore, snap.AvgRejectedScore,
		snap.AvgFalsePositiveScore, snap.AvgFalseNegativeScore,
		snap.Recommended.Risk, snap.Recommended.Deep, snap.Recommended.Deepest,
		snap.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert calibration")
}

func (s *SQLiteStore) InsertUsage(ctx context.Context, usage model.APIUsage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_usage (id, provider, model, stage, post_id, input_tokens, output_tokens,
			cost_usd, success, error_detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		usage.ID, usage.Provider, usage.Model, usage.Stage, usage.PostID,
		usage.InputTokens, usage.OutputTokens, usage.CostUSD, usage.Success,
		usage.ErrorDetail, usage.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert usage")
}

func (s *SQLiteStore) ListUsageSince(ctx context.Context, since time.Time) ([]model.APIUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider, model, stage, post_id, input_tokens, output_tokens,
			cost_usd, success, COALESCE(error_detail, ''), created_at
		 FROM api_usage WHERE created_at >= ? ORDER BY created_at DESC`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list usage")
	}
	defer rows.Close()

	var usages []model.APIUsage
	for rows.Next() {
		var u model.APIUsage
		if err := rows.Scan(&u.ID, &u.Provider, &u.Model, &u.Stage, &u.PostID,
			&u.InputTokens, &u.OutputTokens, &u.CostUSD, &u.Success, &u.ErrorDetail, &u.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan usage")
		}
		usages = append(usages, u)
	}
	return usages, eris.Wrap(rows.Err(), "sqlite: iterate usage")
}

func collectSQLPosts(rows *sql.Rows) ([]model.Post, error) {
	var posts []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan post")
		}
		posts = append(posts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate posts")
	}
	return posts, nil
}
