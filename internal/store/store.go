// Package store persists posts, calibration snapshots and API usage audit
// rows behind a driver-neutral interface.
package store

import (
	"context"
	"time"

	"github.com/meridian-intel/sentinel-cli/internal/model"
)

// Store defines the persistence interface for the analysis pipeline.
//
// Stage writes go through UpdatePostFields so each stage touches exactly the
// columns it produced. There is deliberately no versioning or transaction
// across stages: concurrent writers race and the last writer wins per field.
type Store interface {
	// Posts
	InsertPost(ctx context.Context, post model.Post) error
	GetPost(ctx context.Context, id string) (*model.Post, error)
	// ListRecentPosts returns posts published since the given time, newest
	// first, capped at limit.
	ListRecentPosts(ctx context.Context, since time.Time, limit int) ([]model.Post, error)
	// ListFlaggedPosts returns posts the analysis flagged positive within
	// [from, to], for campaign detection.
	ListFlaggedPosts(ctx context.Context, from, to time.Time) ([]model.Post, error)
	// ListReviewedPosts returns posts with a definitive human label and a
	// non-null risk score of at least minRiskScore, published since the
	// given time. Used only by calibration.
	ListReviewedPosts(ctx context.Context, since time.Time, minRiskScore float64) ([]model.Post, error)
	// UpdatePostFields writes the given column/value pairs onto one post.
	// []string values are stored as JSON.
	UpdatePostFields(ctx context.Context, id string, fields map[string]any) error

	// Calibration snapshots (append-only)
	LatestCalibration(ctx context.Context) (*model.CalibrationSnapshot, error)
	InsertCalibration(ctx context.Context, snap model.CalibrationSnapshot) error

	// API usage audit
	InsertUsage(ctx context.Context, usage model.APIUsage) error
	// ListUsageSince returns audit rows created since the given time, newest
	// first. Used by ops monitoring.
	ListUsageSince(ctx context.Context, since time.Time) ([]model.APIUsage, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
