package campaign

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/meridian-intel/sentinel-cli/internal/model"
)

const (
	keywordWindow      = 48 * time.Hour
	keywordMinPosts    = 3
	narrativeMinPosts  = 4
	narrativeMinSource = 2
	titleWindow        = 24 * time.Hour
	titleJaccardMin    = 0.6
	spikeMinPosts      = 5
	spikeFactor        = 3.0
)

var fold = cases.Fold()

// keywordBursts proposes one cluster per keyword shared by at least three
// posts inside a 48-hour window. For each keyword the densest window wins;
// posts spread wider than the window do not cluster.
func keywordBursts(posts []model.Post, _, _ time.Time) []cluster {
	byKeyword := make(map[string][]model.Post)
	for _, p := range posts {
		seen := make(map[string]bool)
		for _, kw := range p.Keywords {
			key := fold.String(strings.TrimSpace(kw))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			byKeyword[key] = append(byKeyword[key], p)
		}
	}

	keywords := make([]string, 0, len(byKeyword))
	for kw := range byKeyword {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	var out []cluster
	for _, kw := range keywords {
		group := byKeyword[kw]
		if len(group) < keywordMinPosts {
			continue
		}
		if windowed := densestWindow(group, keywordWindow); len(windowed) >= keywordMinPosts {
			out = append(out, cluster{
				typ:   model.CampaignKeywordBurst,
				name:  fmt.Sprintf("Keyword burst: %s", kw),
				posts: windowed,
			})
		}
	}
	return out
}

// densestWindow returns the largest subset of posts whose publish times all
// fit inside the given window.
func densestWindow(posts []model.Post, window time.Duration) []model.Post {
	sorted := make([]model.Post, len(posts))
	copy(sorted, posts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PublishedAt.Before(sorted[j].PublishedAt)
	})

	bestStart, bestLen := 0, 0
	for i := 0; i < len(sorted); i++ {
		j := i
		for j < len(sorted) && sorted[j].PublishedAt.Sub(sorted[i].PublishedAt) <= window {
			j++
		}
		if j-i > bestLen {
			bestStart, bestLen = i, j-i
		}
	}
	return sorted[bestStart : bestStart+bestLen]
}

// narrativePushes proposes one cluster per narrative-theme and target pair
// appearing in at least four posts from at least two distinct sources.
func narrativePushes(posts []model.Post, _, _ time.Time) []cluster {
	type group struct {
		posts   []model.Post
		sources map[string]bool
	}
	byPair := make(map[string]*group)

	for _, p := range posts {
		if p.NarrativeTheme == nil || *p.NarrativeTheme == "" {
			continue
		}
		for _, target := range p.Targets {
			target = fold.String(strings.TrimSpace(target))
			if target == "" {
				continue
			}
			key := *p.NarrativeTheme + "|" + target
			g, ok := byPair[key]
			if !ok {
				g = &group{sources: make(map[string]bool)}
				byPair[key] = g
			}
			g.posts = append(g.posts, p)
			g.sources[p.Source] = true
		}
	}

	pairs := make([]string, 0, len(byPair))
	for key := range byPair {
		pairs = append(pairs, key)
	}
	sort.Strings(pairs)

	var out []cluster
	for _, key := range pairs {
		g := byPair[key]
		if len(g.posts) < narrativeMinPosts || len(g.sources) < narrativeMinSource {
			continue
		}
		theme, target, _ := strings.Cut(key, "|")
		out = append(out, cluster{
			typ:   model.CampaignNarrativePush,
			name:  fmt.Sprintf("Narrative push: %s targeting %s", theme, target),
			posts: g.posts,
		})
	}
	return out
}

// copyPasteTitles proposes clusters of near-duplicate titles: Jaccard word
// overlap above 0.6, from different sources, published within 24 hours of
// each other. Matching pairs are chained into connected components.
func copyPasteTitles(posts []model.Post, _, _ time.Time) []cluster {
	tokens := make([]map[string]bool, len(posts))
	for i, p := range posts {
		tokens[i] = titleTokens(p.Title)
	}

	// Union-find over post indices.
	parent := make([]int, len(posts))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	for i := 0; i < len(posts); i++ {
		for j := i + 1; j < len(posts); j++ {
			if posts[i].Source == posts[j].Source {
				continue
			}
			gap := posts[i].PublishedAt.Sub(posts[j].PublishedAt)
			if gap < 0 {
				gap = -gap
			}
			if gap > titleWindow {
				continue
			}
			if jaccard(tokens[i], tokens[j]) > titleJaccardMin {
				parent[find(i)] = find(j)
			}
		}
	}

	components := make(map[int][]model.Post)
	for i := range posts {
		root := find(i)
		components[root] = append(components[root], posts[i])
	}

	roots := make([]int, 0, len(components))
	for root := range components {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	var out []cluster
	for _, root := range roots {
		members := components[root]
		if len(members) < 2 {
			continue
		}
		out = append(out, cluster{
			typ:   model.CampaignCopyPaste,
			name:  fmt.Sprintf("Copy-paste titles: %q", members[0].Title),
			posts: members,
		})
	}
	return out
}

// titleTokens folds the title and splits it into a word set.
func titleTokens(title string) map[string]bool {
	folded := fold.String(title)
	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// volumeSpikes proposes one cluster per hour bucket holding at least five
// posts and at least three times the period's hourly average.
func volumeSpikes(posts []model.Post, from, to time.Time) []cluster {
	byHour := make(map[time.Time][]model.Post)
	for _, p := range posts {
		bucket := p.PublishedAt.UTC().Truncate(time.Hour)
		byHour[bucket] = append(byHour[bucket], p)
	}

	periodHours := to.Sub(from).Hours()
	if periodHours < 1 {
		periodHours = 1
	}
	avgPerHour := float64(len(posts)) / periodHours

	buckets := make([]time.Time, 0, len(byHour))
	for h := range byHour {
		buckets = append(buckets, h)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Before(buckets[j]) })

	var out []cluster
	for _, hour := range buckets {
		members := byHour[hour]
		if len(members) < spikeMinPosts {
			continue
		}
		if float64(len(members)) < spikeFactor*avgPerHour {
			continue
		}
		out = append(out, cluster{
			typ:   model.CampaignVolumeSpike,
			name:  fmt.Sprintf("Volume spike: %s", hour.Format("2006-01-02 15:00 UTC")),
			posts: members,
		})
	}
	return out
}
