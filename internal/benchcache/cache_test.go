package benchcache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "benchmarks"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func sampleReport(channel string) BenchmarkReport {
	return BenchmarkReport{
		Channels: []ChannelSnapshot{{
			URL:           "https://www.youtube.com/" + channel,
			NormalizedURL: Normalize(channel),
			Name:          "하니티비",
			Subscribers:   120000,
			VideoCount:    340,
			Videos: []VideoInfo{
				{ID: "v1", Title: "첫 영상", Views: 50000, Duration: 312},
				{ID: "v2", Title: "둘째 영상", Views: 30000, Duration: 280},
			},
			Transcripts: map[string]string{"v1": "안녕하세요", "v2": "(자막 없음)"},
		}},
		Thumbnail:   "굵은 텍스트와 밝은 배경",
		Script:      "후킹 오프닝 패턴",
		Strategy:    "주 2회 업로드",
		Concept:     "아동용 애니메이션 리뷰",
		Audience:    "7-12세",
		Replication: ReplicationGuide{Positioning: "차별화 포인트"},
		CollectedAt: time.Now().UTC(),
	}
}

func TestCache_SaveAndFind(t *testing.T) {
	c := newTestCache(t)
	urls := []string{"https://www.youtube.com/@HaniTV"}

	saved, err := c.Save(urls, sampleReport("@HaniTV"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Key != Key(urls) {
		t.Errorf("entry key = %q, want %q", saved.Key, Key(urls))
	}

	// Find with a differently written but equivalent URL set.
	got, err := c.Find([]string{"@hanitv"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Report.Channels[0].Name != "하니티비" {
		t.Errorf("channel name = %q", got.Report.Channels[0].Name)
	}
	if got.Report.Channels[0].Transcripts["v2"] != "(자막 없음)" {
		t.Errorf("transcript marker = %q", got.Report.Channels[0].Transcripts["v2"])
	}
}

func TestCache_FindMiss(t *testing.T) {
	c := newTestCache(t)
	if _, err := c.Find([]string{"@nobody"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(miss) = %v, want ErrNotFound", err)
	}
	if _, err := c.FindByURL("@nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByURL(miss) = %v, want ErrNotFound", err)
	}
}

func TestCache_FindByURL(t *testing.T) {
	c := newTestCache(t)
	urls := []string{"@HaniTV", "channel/UCother99"}
	if _, err := c.Save(urls, sampleReport("@HaniTV")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Each member of the set resolves through its index file.
	for _, u := range []string{"https://youtube.com/@hanitv", "channel/UCother99"} {
		got, err := c.FindByURL(u)
		if err != nil {
			t.Fatalf("FindByURL(%q): %v", u, err)
		}
		if got.Key != Key(urls) {
			t.Errorf("FindByURL(%q) key = %q, want %q", u, got.Key, Key(urls))
		}
	}
}

func TestCache_SaveReplacesAndKeepsCreatedAt(t *testing.T) {
	c := newTestCache(t)
	urls := []string{"@HaniTV"}

	first, err := c.Save(urls, sampleReport("@HaniTV"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	updated := sampleReport("@HaniTV")
	updated.Concept = "업데이트된 컨셉"
	second, err := c.Save(urls, updated)
	if err != nil {
		t.Fatalf("second Save: %v", err)
	}

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on replace: %v != %v", second.CreatedAt, first.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("UpdatedAt did not advance: %v <= %v", second.UpdatedAt, first.UpdatedAt)
	}

	got, err := c.Find(urls)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Report.Concept != "업데이트된 컨셉" {
		t.Errorf("concept = %q, want replacement", got.Report.Concept)
	}
}

func TestCache_Delete(t *testing.T) {
	c := newTestCache(t)
	urls := []string{"@HaniTV"}
	if _, err := c.Save(urls, sampleReport("@HaniTV")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := c.Delete(urls); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Find(urls); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find after Delete = %v, want ErrNotFound", err)
	}
	if _, err := c.FindByURL("@hanitv"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByURL after Delete = %v, want ErrNotFound", err)
	}

	// Deleting a missing entry is not an error.
	if err := c.Delete(urls); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestCache_DeleteKeepsNewerIndex(t *testing.T) {
	c := newTestCache(t)

	// The same channel analyzed alone, then as part of a pair. The index for
	// @hanitv now points at the pair's key.
	solo := []string{"@HaniTV"}
	pair := []string{"@HaniTV", "@Other"}
	if _, err := c.Save(solo, sampleReport("@HaniTV")); err != nil {
		t.Fatalf("Save solo: %v", err)
	}
	if _, err := c.Save(pair, sampleReport("@HaniTV")); err != nil {
		t.Fatalf("Save pair: %v", err)
	}

	// Deleting the solo entry must not destroy the index now owned by the
	// pair analysis.
	if err := c.Delete(solo); err != nil {
		t.Fatalf("Delete solo: %v", err)
	}
	got, err := c.FindByURL("@hanitv")
	if err != nil {
		t.Fatalf("FindByURL after partial delete: %v", err)
	}
	if got.Key != Key(pair) {
		t.Errorf("index points at %q, want pair key %q", got.Key, Key(pair))
	}
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "benchmarks")
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	urls := []string{"@HaniTV"}
	if _, err := c.Save(urls, sampleReport("@HaniTV")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, Key(urls)+".json"), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("corrupt entry: %v", err)
	}

	if _, err := c.Find(urls); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(corrupt) = %v, want ErrNotFound", err)
	}
}

func TestIsReanalysisRequest(t *testing.T) {
	positive := []string{
		"다시 분석해줘",
		"다시분석",
		"재분석 부탁해",
		"리포트 업데이트 해줘",
	}
	for _, s := range positive {
		if !IsReanalysisRequest(s) {
			t.Errorf("IsReanalysisRequest(%q) = false, want true", s)
		}
	}

	negative := []string{"확인", "좋아", "네", "그 리포트 써줘", ""}
	for _, s := range negative {
		if IsReanalysisRequest(s) {
			t.Errorf("IsReanalysisRequest(%q) = true, want false", s)
		}
	}
}

func TestSummary(t *testing.T) {
	c := newTestCache(t)
	entry, err := c.Save([]string{"@HaniTV"}, sampleReport("@HaniTV"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	s := Summary(entry)
	for _, want := range []string{"하니티비", "120000", "2개 분석", "다시 분석"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}
