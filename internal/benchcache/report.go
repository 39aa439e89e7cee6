// Package benchcache stores completed channel benchmark reports on disk so a
// repeated analysis of the same channel set is served instantly.
//
// Reports are keyed by the normalized set of channel URLs; per-URL index
// files let a single channel locate its most recent analysis. Entries never
// expire on their own: the user replaces them by asking for a re-analysis.
package benchcache

import "time"

// VideoInfo is one video's collected metadata.
type VideoInfo struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Views        int64   `json:"views"`
	Duration     float64 `json:"duration"`
	UploadDate   string  `json:"upload_date"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
}

// ChannelSnapshot is everything collected about one channel during
// benchmarking.
type ChannelSnapshot struct {
	URL           string `json:"url"`
	NormalizedURL string `json:"normalized_url"`
	Name          string `json:"name"`
	Subscribers   int64  `json:"subscribers"`
	Description   string `json:"description,omitempty"`
	VideoCount    int    `json:"video_count"`

	// Videos holds the recent uploads ordered as collected.
	Videos []VideoInfo `json:"videos,omitempty"`

	// Transcripts maps video ID to transcript text for the top videos.
	// Videos without subtitles carry the marker "(자막 없음)".
	Transcripts map[string]string `json:"transcripts,omitempty"`
}

// ReplicationGuide is the six-part playbook for replicating the analyzed
// channels. A failed part carries the marker "(분석 실패: <reason>)".
type ReplicationGuide struct {
	Positioning    string `json:"positioning"`
	ContentFormats string `json:"content_formats"`
	ThumbnailTitle string `json:"thumbnail_title"`
	ScriptTemplate string `json:"script_template"`
	Operations     string `json:"operations"`
	GrowthRoadmap  string `json:"growth_roadmap"`
}

// BenchmarkReport is the full analysis output stored in the cache and in the
// session context.
type BenchmarkReport struct {
	Channels []ChannelSnapshot `json:"channels"`

	// The five sub-analyses. A failed section carries the marker
	// "(분석 실패: <reason>)" instead of halting the report.
	Thumbnail string `json:"thumbnail_analysis"`
	Script    string `json:"script_analysis"`
	Strategy  string `json:"content_strategy"`
	Concept   string `json:"channel_concept"`
	Audience  string `json:"audience_profile"`

	Replication ReplicationGuide `json:"replication_guide"`

	CollectedAt time.Time `json:"collected_at"`
}

// Entry is one cached analysis, stored as <key>.json.
type Entry struct {
	Key            string          `json:"key"`
	ChannelURLs    []string        `json:"channel_urls"`
	NormalizedURLs []string        `json:"normalized_urls"`
	Report         BenchmarkReport `json:"report"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// indexEntry is the per-URL pointer file idx_<urlhash>.json, mapping one
// normalized URL to the cache entry that most recently analyzed it.
type indexEntry struct {
	NormalizedURL string    `json:"normalized_url"`
	CacheKey      string    `json:"cache_key"`
	UpdatedAt     time.Time `json:"updated_at"`
}
