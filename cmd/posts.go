package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-intel/sentinel-cli/internal/db"
	"github.com/meridian-intel/sentinel-cli/internal/model"
	"github.com/meridian-intel/sentinel-cli/internal/store"
)

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Post utilities",
}

var postsSeedCmd = &cobra.Command{
	Use:   "seed <file.json>",
	Short: "Load posts from a JSON file",
	Long:  "Loads an array of posts ({id?, source, title?, content, published_at?}) so the pipeline can be exercised locally. Ingestion proper is an external concern.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		var seeds []struct {
			ID          string     `json:"id"`
			Source      string     `json:"source"`
			Title       string     `json:"title"`
			Content     string     `json:"content"`
			PublishedAt *time.Time `json:"published_at"`
		}
		if err := json.Unmarshal(data, &seeds); err != nil {
			return eris.Wrap(err, "parse seed file")
		}

		now := time.Now().UTC()
		posts := make([]model.Post, 0, len(seeds))
		for _, s := range seeds {
			if s.Content == "" {
				return eris.New("seed entries require content")
			}
			id := s.ID
			if id == "" {
				id = uuid.NewString()
			}
			published := now
			if s.PublishedAt != nil {
				published = s.PublishedAt.UTC()
			}
			posts = append(posts, model.Post{
				ID:          id,
				Source:      s.Source,
				Title:       s.Title,
				Content:     s.Content,
				PublishedAt: published,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		inserted, err := seedPosts(cmd.Context(), st, posts)
		if err != nil {
			return err
		}
		zap.L().Info("posts seeded", zap.Int64("count", inserted))
		return nil
	},
}

// seedPosts bulk-loads via COPY on Postgres and falls back to row inserts on
// other drivers.
func seedPosts(ctx context.Context, st store.Store, posts []model.Post) (int64, error) {
	if ps, ok := st.(*store.PostgresStore); ok {
		columns := []string{"id", "source", "title", "content", "published_at", "review_category", "created_at", "updated_at"}
		rows := make([][]any, 0, len(posts))
		for _, p := range posts {
			rows = append(rows, []any{
				p.ID, p.Source, p.Title, p.Content, p.PublishedAt,
				string(model.ReviewUnreviewed), p.CreatedAt, p.UpdatedAt,
			})
		}
		return db.CopyFrom(ctx, ps.Pool(), "posts", columns, rows)
	}

	var inserted int64
	for _, p := range posts {
		if err := st.InsertPost(ctx, p); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func init() {
	postsCmd.AddCommand(postsSeedCmd)
	rootCmd.AddCommand(postsCmd)
}
