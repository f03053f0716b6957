package model

import "time"

// CampaignType identifies which heuristic proposed a cluster.
type CampaignType string

const (
	CampaignKeywordBurst  CampaignType = "keyword_burst"
	CampaignNarrativePush CampaignType = "narrative_push"
	CampaignCopyPaste     CampaignType = "copy_paste"
	CampaignVolumeSpike   CampaignType = "volume_spike"
)

// ThreatLevel buckets a campaign's computed severity.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// CampaignStatus reflects how recently the campaign's newest member published.
type CampaignStatus string

const (
	StatusActive     CampaignStatus = "active"
	StatusMonitoring CampaignStatus = "monitoring"
	StatusDeclining  CampaignStatus = "declining"
	StatusEnded      CampaignStatus = "ended"
)

// Campaign is an ephemeral cluster of posts believed to share one coordinated
// narrative or publishing pattern. Campaigns are recomputed from scratch on
// every detection run and never persisted; the ID is a content hash of the
// sorted member IDs so identical memberships get identical IDs across runs.
type Campaign struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        CampaignType   `json:"type"`
	PostIDs     []string       `json:"post_ids"`
	Sources     []string       `json:"sources"`
	StartedAt   time.Time      `json:"started_at"`
	LastSeenAt  time.Time      `json:"last_seen_at"`
	Intensity   float64        `json:"intensity"`
	Reach       int            `json:"reach"`
	ThreatLevel ThreatLevel    `json:"threat_level"`
	Status      CampaignStatus `json:"status"`
}
