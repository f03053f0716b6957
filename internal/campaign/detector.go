// Package campaign clusters analysis-flagged posts into suspected coordinated
// campaigns. Detection is stateless: four independent heuristics propose
// clusters over a snapshot of posts, overlapping proposals are merged, and
// the surviving clusters are scored. Nothing is persisted.
package campaign

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-intel/sentinel-cli/internal/model"
)

// FlaggedLister is the slice of the store the detector needs.
type FlaggedLister interface {
	ListFlaggedPosts(ctx context.Context, from, to time.Time) ([]model.Post, error)
}

// Options tunes detection.
type Options struct {
	// ReachPerPost is the linear factor for the reach estimate.
	ReachPerPost int
}

// Detector runs campaign detection over flagged posts.
type Detector struct {
	store        FlaggedLister
	reachPerPost int

	// nowFunc allows test injection of time for status bucketing.
	nowFunc func() time.Time
}

// NewDetector creates a Detector over the given store.
func NewDetector(st FlaggedLister, opts Options) *Detector {
	reach := opts.ReachPerPost
	if reach <= 0 {
		reach = 1500
	}
	return &Detector{store: st, reachPerPost: reach, nowFunc: time.Now}
}

// cluster is an intermediate heuristic proposal before merging and scoring.
type cluster struct {
	typ   model.CampaignType
	name  string
	posts []model.Post
}

// Detect fetches flagged posts in [from, to] and returns the scored campaign
// clusters. Recomputed from scratch on every call.
func (d *Detector) Detect(ctx context.Context, from, to time.Time) ([]model.Campaign, error) {
	posts, err := d.store.ListFlaggedPosts(ctx, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "campaign: list flagged posts")
	}
	if len(posts) == 0 {
		return nil, nil
	}

	// The four heuristics are independent pure functions over the same
	// snapshot; run them concurrently.
	var mu sync.Mutex
	var proposals []cluster
	g, _ := errgroup.WithContext(ctx)
	for _, h := range []func([]model.Post, time.Time, time.Time) []cluster{
		keywordBursts,
		narrativePushes,
		copyPasteTitles,
		volumeSpikes,
	} {
		g.Go(func() error {
			found := h(posts, from, to)
			mu.Lock()
			proposals = append(proposals, found...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// Deterministic merge order regardless of goroutine scheduling.
	sort.SliceStable(proposals, func(i, j int) bool {
		if proposals[i].typ != proposals[j].typ {
			return proposals[i].typ < proposals[j].typ
		}
		return proposals[i].name < proposals[j].name
	})

	merged := mergeClusters(proposals)

	campaigns := make([]model.Campaign, 0, len(merged))
	for _, c := range merged {
		campaigns = append(campaigns, d.score(c))
	}
	sort.Slice(campaigns, func(i, j int) bool {
		return campaigns[i].Intensity > campaigns[j].Intensity
	})

	zap.L().Info("campaign detection complete",
		zap.Int("flagged_posts", len(posts)),
		zap.Int("proposals", len(proposals)),
		zap.Int("campaigns", len(campaigns)),
	)
	return campaigns, nil
}

// mergeClusters collapses proposals whose member sets overlap by more than
// half of the smaller set. The earlier cluster is kept and absorbs the later
// one's members; the pass repeats until no merge applies.
func mergeClusters(proposals []cluster) []cluster {
	clusters := make([]cluster, len(proposals))
	copy(clusters, proposals)

	for {
		merged := false
		for i := 0; i < len(clusters) && !merged; i++ {
			for j := i + 1; j < len(clusters); j++ {
				if !shouldMerge(clusters[i], clusters[j]) {
					continue
				}
				clusters[i].posts = unionPosts(clusters[i].posts, clusters[j].posts)
				clusters = append(clusters[:j], clusters[j+1:]...)
				merged = true
				break
			}
		}
		if !merged {
			return clusters
		}
	}
}

func shouldMerge(a, b cluster) bool {
	idsA := postIDSet(a.posts)
	idsB := postIDSet(b.posts)

	overlap := 0
	for id := range idsA {
		if idsB[id] {
			overlap++
		}
	}

	smaller := len(idsA)
	if len(idsB) < smaller {
		smaller = len(idsB)
	}
	if smaller == 0 {
		return false
	}
	return float64(overlap)/float64(smaller) > 0.5
}

func postIDSet(posts []model.Post) map[string]bool {
	set := make(map[string]bool, len(posts))
	for _, p := range posts {
		set[p.ID] = true
	}
	return set
}

func unionPosts(a, b []model.Post) []model.Post {
	seen := postIDSet(a)
	out := a
	for _, p := range b {
		if !seen[p.ID] {
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out
}
