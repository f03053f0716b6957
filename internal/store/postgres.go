package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/meridian-intel/sentinel-cli/internal/db"
	"github.com/meridian-intel/sentinel-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// access (e.g., bulk seeding).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS posts (
	id                  TEXT PRIMARY KEY,
	source              TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	content             TEXT NOT NULL,
	published_at        TIMESTAMPTZ NOT NULL,
	summary             TEXT,
	keywords            JSONB,
	risk_score          DOUBLE PRECISION,
	is_psyop            BOOLEAN,
	needs_deep_analysis BOOLEAN NOT NULL DEFAULT FALSE,
	indicators          JSONB,
	analysis_summary    TEXT,
	techniques          JSONB,
	targets             JSONB,
	narrative_theme     TEXT,
	recommended_actions JSONB,
	escalation_level    TEXT,
	strategic_summary   TEXT,
	counter_measures    JSONB,
	review_category     TEXT NOT NULL DEFAULT 'unreviewed',
	last_analyzed_stage TEXT,
	analyzed_at         TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_posts_published_at ON posts(published_at DESC);
CREATE INDEX IF NOT EXISTS idx_posts_is_psyop ON posts(is_psyop) WHERE is_psyop = TRUE;
CREATE INDEX IF NOT EXISTS idx_posts_review_category ON posts(review_category);

CREATE TABLE IF NOT EXISTS calibration_snapshots (
	id                       TEXT PRIMARY KEY,
	lookback_days            INTEGER NOT NULL,
	min_risk_score           DOUBLE PRECISION NOT NULL,
	reviewed_count           INTEGER NOT NULL,
	true_positives           INTEGER NOT NULL,
	false_positives          INTEGER NOT NULL,
	true_negatives           INTEGER NOT NULL,
	false_negatives          INTEGER NOT NULL,
	avg_confirmed_score      DOUBLE PRECISION NOT NULL,
	avg_rejected_score       DOUBLE PRECISION NOT NULL,
	avg_false_positive_score DOUBLE PRECISION NOT NULL,
	avg_false_negative_score DOUBLE PRECISION NOT NULL,
	risk_threshold           DOUBLE PRECISION NOT NULL,
	deep_threshold           DOUBLE PRECISION NOT NULL,
	deepest_threshold        DOUBLE PRECISION NOT NULL,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_calibration_created_at ON calibration_snapshots(created_at DESC);

CREATE TABLE IF NOT EXISTS api_usage (
	id            TEXT PRIMARY KEY,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	stage         TEXT NOT NULL,
	post_id       TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd      DOUBLE PRECISION NOT NULL,
	success       BOOLEAN NOT NULL,
	error_detail  TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_api_usage_post_id ON api_usage(post_id);
CREATE INDEX IF NOT EXISTS idx_api_usage_created_at ON api_usage(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const postColumns = `id, source, title, content, published_at, summary, keywords, risk_score,
	is_psyop, needs_deep_analysis, indicators, analysis_summary, techniques, targets,
	narrative_theme, recommended_actions, escalation_level, strategic_summary,
	counter_measures, review_category, last_analyzed_stage, analyzed_at, created_at, updated_at`

func (s *PostgresStore) InsertPost(ctx context.Context, post model.Post) error {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO posts (`+postColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		post.ID, post.Source, post.Title, post.Content, post.PublishedAt,
		post.Summary, marshalList(post.Keywords), post.RiskScore,
		post.IsPsyop, post.NeedsDeepAnalysis, marshalList(post.Indicators),
		post.AnalysisSummary, marshalList(post.Techniques), marshalList(post.Targets),
		post.NarrativeTheme, marshalList(post.RecommendedActions),
		post.EscalationLevel, post.StrategicSummary, marshalList(post.CounterMeasures),
		string(post.ReviewCategory), post.LastAnalyzedStage, post.AnalyzedAt,
		post.CreatedAt, post.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert post %s", post.ID)
}

func (s *PostgresStore) GetPost(ctx context.Context, id string) (*model.Post, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)

	post, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get post %s", id)
	}
	return post, nil
}

func (s *PostgresStore) ListRecentPosts(ctx context.Context, since time.Time, limit int) ([]model.Post, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postColumns+` FROM posts WHERE published_at >= $1 ORDER BY published_at DESC LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recent posts")
	}
	defer rows.Close()

	return collectPosts(rows)
}

func (s *PostgresStore) ListFlaggedPosts(ctx context.Context, from, to time.Time) ([]model.Post, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE is_psyop = TRUE AND published_at >= $1 AND published_at <= $2
		 ORDER BY published_at ASC`,
		from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list flagged posts")
	}
	defer rows.Close()

	return collectPosts(rows)
}

func (s *PostgresStore) ListReviewedPosts(ctx context.Context, since time.Time, minRiskScore float64) ([]model.Post, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE review_category IN ($1, $2) AND risk_score IS NOT NULL AND risk_score >= $3 AND published_at >= $4
		 ORDER BY published_at DESC`,
		string(model.ReviewConfirmed), string(model.ReviewRejected), minRiskScore, since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reviewed posts")
	}
	defer rows.Close()

	return collectPosts(rows)
}

func (s *PostgresStore) UpdatePostFields(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	setMap := make(map[string]any, len(fields)+1)
	for col, val := range fields {
		setMap[col] = normalizeFieldValue(val)
	}
	setMap["updated_at"] = time.Now().UTC()

	sqlStr, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update("posts").
		SetMap(setMap).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return eris.Wrap(err, "postgres: build update")
	}

	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update post %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("post not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) LatestCalibration(ctx context.Context) (*model.CalibrationSnapshot, error) {
	var snap model.CalibrationSnapshot
	err := s.pool.QueryRow(ctx,
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
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest calibration")
	}
	return &snap, nil
}

func (s *PostgresStore) InsertCalibration(ctx context.Context, snap model.CalibrationSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calibration_snapshots (id, lookback_days, min_risk_score, reviewed_count,
			true_positives, false_positives, true_negatives, false_negatives,
			avg_confirmed_score, avg_rejected_score, avg_false_positive_score, avg_false_negative_score,
			risk_threshold, deep_threshold, deepest_threshold, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		snap.ID, snap.LookbackDays, snap.MinRiskScore, snap.ReviewedCount,
		snap.TruePositives, snap.FalsePositives, snap.TrueNegatives, snap.FalseNegatives,
		snap.AvgConfirmedScore, snap.AvgRejectedScore,
		snap.AvgFalsePositiveScore, snap.AvgFalseNegativeScore,
		snap.Recommended.Risk, snap.Recommended.Deep, snap.Recommended.Deepest,
		snap.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert calibration")
}

func (s *PostgresStore) InsertUsage(ctx context.Context, usage model.APIUsage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_usage (id, provider, model, stage, post_id, input_tokens, output_tokens,
			cost_usd, success, error_detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		usage.ID, usage.Provider, usage.Model, usage.Stage, usage.PostID,
		usage.InputTokens, usage.OutputTokens, usage.CostUSD, usage.Success,
		usage.ErrorDetail, usage.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert usage")
}

func (s *PostgresStore) ListUsageSince(ctx context.Context, since time.Time) ([]model.APIUsage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, provider, model, stage, post_id, input_tokens, output_tokens,
			cost_usd, success, COALESCE(error_detail, ''), created_at
		 FROM api_usage WHERE created_at >= $1 ORDER BY created_at DESC`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list usage")
	}
	defer rows.Close()

	var usages []model.APIUsage
	for rows.Next() {
		var u model.APIUsage
		if err := rows.Scan(&u.ID, &u.Provider, &u.Model, &u.Stage, &u.PostID,
			&u.InputTokens, &u.OutputTokens, &u.CostUSD, &u.Success, &u.ErrorDetail, &u.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage")
		}
		usages = append(usages, u)
	}
	return usages, eris.Wrap(rows.Err(), "postgres: iterate usage")
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*model.Post, error) {
	var p model.Post
	var keywords, indicators, techniques, targets, recommended, counters []byte
	var reviewCategory string

	err := row.Scan(
		&p.ID, &p.Source, &p.Title, &p.Content, &p.PublishedAt,
		&p.Summary, &keywords, &p.RiskScore,
		&p.IsPsyop, &p.NeedsDeepAnalysis, &indicators,
		&p.AnalysisSummary, &techniques, &targets,
		&p.NarrativeTheme, &recommended,
		&p.EscalationLevel, &p.StrategicSummary, &counters,
		&reviewCategory, &p.LastAnalyzedStage, &p.AnalyzedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ReviewCategory = model.ReviewCategory(reviewCategory)
	p.Keywords = unmarshalList(keywords)
	p.Indicators = unmarshalList(indicators)
	p.Techniques = unmarshalList(techniques)
	p.Targets = unmarshalList(targets)
	p.RecommendedActions = unmarshalList(recommended)
	p.CounterMeasures = unmarshalList(counters)

	return &p, nil
}

func collectPosts(rows pgx.Rows) ([]model.Post, error) {
	var posts []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan post")
		}
		posts = append(posts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate posts")
	}
	return posts, nil
}

// marshalList stores string slices as JSON, nil slices as SQL NULL.
func marshalList(values []string) any {
	if values == nil {
		return nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return b
}

func unmarshalList(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// normalizeFieldValue converts domain values to their column representation.
func normalizeFieldValue(val any) any {
	if list, ok := val.([]string); ok {
		return marshalList(list)
	}
	return val
}
