package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/meridian-intel/sentinel-cli/internal/cost"
	"github.com/meridian-intel/sentinel-cli/internal/llm"
	"github.com/meridian-intel/sentinel-cli/internal/model"
	"github.com/meridian-intel/sentinel-cli/internal/resilience"
)

// fakeStore is an in-memory Store for pipeline tests. Updates are recorded
// per post so tests can assert exactly which fields each stage wrote.
type fakeStore struct {
	mu             sync.Mutex
	posts          map[string]*model.Post
	recent         []model.Post
	updates        map[string][]map[string]any
	updateErr      error
	calibration    *model.CalibrationSnapshot
	calibrationErr error
	usage          []model.APIUsage
}

func newFakeStore(posts ...model.Post) *fakeStore {
	fs := &fakeStore{
		posts:   make(map[string]*model.Post),
		updates: make(map[string][]map[string]any),
	}
	for _, p := range posts {
		cp := p
		fs.posts[p.ID] = &cp
		fs.recent = append(fs.recent, p)
	}
	return fs
}

func (f *fakeStore) InsertPost(ctx context.Context, post model.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := post
	f.posts[post.ID] = &cp
	return nil
}

func (f *fakeStore) GetPost(ctx context.Context, id string) (*model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListRecentPosts(ctx context.Context, since time.Time, limit int) ([]model.Post, error) {
	if len(f.recent) > limit {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeStore) ListFlaggedPosts(ctx context.Context, from, to time.Time) ([]model.Post, error) {
	return nil, nil
}

func (f *fakeStore) ListReviewedPosts(ctx context.Context, since time.Time, minRiskScore float64) ([]model.Post, error) {
	return nil, nil
}

func (f *fakeStore) UpdatePostFields(ctx context.Context, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.posts[id]; !ok {
		return eris.Errorf("post not found: %s", id)
	}
	f.updates[id] = append(f.updates[id], fields)
	return nil
}

// updatesFor returns the recorded field writes for one post.
func (f *fakeStore) updatesFor(id string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[id]
}

func (f *fakeStore) LatestCalibration(ctx context.Context) (*model.CalibrationSnapshot, error) {
	return f.calibration, f.calibrationErr
}

func (f *fakeStore) InsertCalibration(ctx context.Context, snap model.CalibrationSnapshot) error {
	return nil
}

func (f *fakeStore) InsertUsage(ctx context.Context, usage model.APIUsage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, usage)
	return nil
}

func (f *fakeStore) ListUsageSince(ctx context.Context, since time.Time) ([]model.APIUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage, nil
}

func (f *fakeStore) Migrate(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                      { return nil }

// fakeCompleter returns canned completions in call order, repeating the last
// entry when calls outnumber responses.
type fakeCompleter struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return &llm.Completion{
		Text:     f.responses[idx],
		Model:    "deepseek-chat",
		Provider: "deepseek",
		Usage:    model.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

func newTestAnalyzer(fs *fakeStore, completer llm.Completer) *Analyzer {
	auditor := cost.NewAuditor(fs, cost.NewCalculator(cost.DefaultRates()))
	return NewAnalyzer(fs, completer, auditor, AnalyzerOptions{
		Provider: "deepseek",
		Model:    "deepseek-chat",
		Retry:    resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond},
	})
}

func testPost(id string) model.Post {
	return model.Post{
		ID:          id,
		Source:      "telegram",
		Title:       "Power grid failures spread",
		Content:     "They are hiding the real numbers. Share before it is deleted.",
		PublishedAt: time.Now().UTC().Add(-time.Hour),
	}
}
