package benchcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when no cached analysis exists for the requested
// channels.
var ErrNotFound = errors.New("benchcache: entry not found")

// Re-analysis request markers. A feedback message containing any of these
// tells the orchestrator to discard the cached report and run a fresh
// analysis.
var reanalysisKeywords = []string{"다시 분석", "다시분석", "재분석", "업데이트"}

// IsReanalysisRequest reports whether text asks for the cached report to be
// replaced by a fresh analysis.
func IsReanalysisRequest(text string) bool {
	t := strings.TrimSpace(text)
	for _, kw := range reanalysisKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// Cache stores benchmark entries as JSON files in one directory. All methods
// are safe for concurrent use.
type Cache struct {
	mu  sync.Mutex
	dir string
}

// New creates the cache directory if needed and returns a Cache over it.
func New(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("benchcache: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("benchcache: create directory: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Save stores the report under the key derived from urls, fully replacing any
// previous entry, and refreshes the per-URL index files. The original
// CreatedAt survives replacement.
func (c *Cache) Save(urls []string, report BenchmarkReport) (*Entry, error) {
	normalized := NormalizeAll(urls)
	if len(normalized) == 0 {
		return nil, errors.New("benchcache: no usable channel URLs")
	}
	key := Key(urls)
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &Entry{
		Key:            key,
		ChannelURLs:    urls,
		NormalizedURLs: normalized,
		Report:         report,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if prev, err := c.read(key); err == nil {
		entry.CreatedAt = prev.CreatedAt
	}

	if err := c.writeJSON(c.entryPath(key), entry); err != nil {
		return nil, err
	}
	for _, n := range normalized {
		idx := indexEntry{NormalizedURL: n, CacheKey: key, UpdatedAt: now}
		if err := c.writeJSON(c.indexPath(n), &idx); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// Find returns the entry for exactly this set of channels, or [ErrNotFound].
func (c *Cache) Find(urls []string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(Key(urls))
}

// FindByURL returns the entry that most recently analyzed the single channel,
// or [ErrNotFound].
func (c *Cache) FindByURL(rawURL string) (*Entry, error) {
	normalized := Normalize(rawURL)
	if normalized == "" {
		return nil, ErrNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := os.ReadFile(c.indexPath(normalized))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("benchcache: read index for %q: %w", normalized, err)
	}
	var idx indexEntry
	if err := json.Unmarshal(raw, &idx); err != nil {
		slog.Warn("benchmark index file is corrupt, treating as miss",
			"url", normalized, "error", err)
		return nil, ErrNotFound
	}
	return c.read(idx.CacheKey)
}

// Delete removes the entry for this channel set along with every index file
// still pointing at it. Missing entries are not an error.
func (c *Cache) Delete(urls []string) error {
	key := Key(urls)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.entryPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("benchcache: delete entry %q: %w", key, err)
	}
	for _, n := range NormalizeAll(urls) {
		path := c.indexPath(n)
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var idx indexEntry
		// Leave indexes that already point at a newer analysis.
		if err := json.Unmarshal(raw, &idx); err == nil && idx.CacheKey != key {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("benchcache: delete index for %q: %w", n, err)
		}
	}
	return nil
}

// Summary renders a short digest of a cached entry for the cached-report gate
// message.
func Summary(e *Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "캐시된 벤치마킹 리포트가 있습니다 (%s 분석).\n",
		e.UpdatedAt.Format("2006-01-02"))
	for _, ch := range e.Report.Channels {
		name := ch.Name
		if name == "" {
			name = ch.NormalizedURL
		}
		fmt.Fprintf(&b, "- %s: 구독자 %d명, 영상 %d개 분석\n",
			name, ch.Subscribers, len(ch.Videos))
	}
	b.WriteString("이 리포트를 사용하려면 '확인', 새로 분석하려면 '다시 분석'이라고 입력하세요.")
	return b.String()
}

// entryPath is the file holding the full report for one key.
func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// indexPath is the per-URL pointer file.
func (c *Cache) indexPath(normalized string) string {
	return filepath.Join(c.dir, "idx_"+urlHash(normalized)+".json")
}

// read loads and decodes the entry for key. Corrupt files are logged and
// reported as a miss so a damaged cache never wedges the pipeline. Caller
// holds the lock.
func (c *Cache) read(key string) (*Entry, error) {
	raw, err := os.ReadFile(c.entryPath(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("benchcache: read entry %q: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		slog.Warn("benchmark cache entry is corrupt, treating as miss",
			"key", key, "error", err)
		return nil, ErrNotFound
	}
	return &e, nil
}

// writeJSON marshals v and writes it atomically. Caller holds the lock.
func (c *Cache) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("benchcache: marshal %q: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("benchcache: write %q: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("benchcache: commit %q: %w", path, err)
	}
	return nil
}
