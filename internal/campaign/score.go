package campaign

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/meridian-intel/sentinel-cli/internal/model"
)

const (
	statusActiveWindow     = 24 * time.Hour
	statusMonitoringWindow = 72 * time.Hour
	statusDecliningWindow  = 7 * 24 * time.Hour
)

// score turns a merged cluster into a Campaign with a deterministic ID and
// computed intensity, reach, threat level and status.
func (d *Detector) score(c cluster) model.Campaign {
	ids := make([]string, 0, len(c.posts))
	sourceSet := make(map[string]bool)
	var earliest, latest time.Time
	highSeverity := 0

	for _, p := range c.posts {
		ids = append(ids, p.ID)
		sourceSet[p.Source] = true
		if earliest.IsZero() || p.PublishedAt.Before(earliest) {
			earliest = p.PublishedAt
		}
		if p.PublishedAt.After(latest) {
			latest = p.PublishedAt
		}
		if isHighSeverity(p) {
			highSeverity++
		}
	}
	sort.Strings(ids)

	sources := make([]string, 0, len(sourceSet))
	for s := range sourceSet {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	intensity := intensityScore(len(ids), len(sources), latest.Sub(earliest))

	return model.Campaign{
		ID:          campaignID(ids),
		Name:        c.name,
		Type:        c.typ,
		PostIDs:     ids,
		Sources:     sources,
		StartedAt:   earliest,
		LastSeenAt:  latest,
		Intensity:   intensity,
		Reach:       len(ids) * d.reachPerPost,
		ThreatLevel: threatLevel(intensity, highSeverity),
		Status:      d.status(latest),
	}
}

// campaignID hashes the sorted member IDs so identical memberships produce
// identical IDs across runs.
func campaignID(sortedIDs []string) string {
	sum := sha256.Sum256([]byte(strings.Join(sortedIDs, "\n")))
	return hex.EncodeToString(sum[:8])
}

// intensityScore weighs member count, source diversity and publishing tempo
// into a 0-100 score. Shorter timespans score higher for the same volume.
func intensityScore(postCount, sourceCount int, timespan time.Duration) float64 {
	postWeight := float64(postCount) * 5
	if postWeight > 40 {
		postWeight = 40
	}
	sourceWeight := float64(sourceCount) * 8
	if sourceWeight > 30 {
		sourceWeight = 30
	}
	tempoWeight := 30.0 / (1.0 + timespan.Hours()/24.0)

	total := postWeight + sourceWeight + tempoWeight
	if total > 100 {
		total = 100
	}
	return total
}

func isHighSeverity(p model.Post) bool {
	if p.RiskScore != nil && *p.RiskScore >= 85 {
		return true
	}
	if p.EscalationLevel != nil {
		switch model.EscalationLevel(*p.EscalationLevel) {
		case model.EscalationSevere, model.EscalationCritical:
			return true
		}
	}
	return false
}

func threatLevel(intensity float64, highSeverity int) model.ThreatLevel {
	switch {
	case intensity >= 80 && highSeverity >= 3:
		return model.ThreatCritical
	case intensity >= 60 || highSeverity >= 2:
		return model.ThreatHigh
	case intensity >= 40 || highSeverity >= 1:
		return model.ThreatMedium
	default:
		return model.ThreatLow
	}
}

// status buckets the campaign by how recently its newest member published.
func (d *Detector) status(lastSeen time.Time) model.CampaignStatus {
	age := d.nowFunc().Sub(lastSeen)
	switch {
	case age <= statusActiveWindow:
		return model.StatusActive
	case age <= statusMonitoringWindow:
		return model.StatusMonitoring
	case age <= statusDecliningWindow:
		return model.StatusDeclining
	default:
		return model.StatusEnded
	}
}
