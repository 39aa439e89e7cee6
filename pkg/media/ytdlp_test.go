package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestYTDLP(fake *fakeRunner) *YTDLP {
	return &YTDLP{path: "yt-dlp", run: fake}
}

func TestChannelInfo(t *testing.T) {
	fake := &fakeRunner{out: []byte(`{
		"id": "UCabc123",
		"channel": "하니티비",
		"uploader": "HaniTV",
		"description": "일상 브이로그 채널",
		"channel_url": "https://www.youtube.com/@HaniTV",
		"channel_follower_count": 120000
	}`)}
	y := newTestYTDLP(fake)

	meta, err := y.ChannelInfo(context.Background(), "https://youtube.com/@HaniTV")
	if err != nil {
		t.Fatalf("ChannelInfo() error: %v", err)
	}
	if meta.Title != "하니티비" {
		t.Errorf("Title = %q, want 하니티비", meta.Title)
	}
	if meta.Subscribers != 120000 {
		t.Errorf("Subscribers = %d, want 120000", meta.Subscribers)
	}
	if meta.URL != "https://www.youtube.com/@HaniTV" {
		t.Errorf("URL = %q", meta.URL)
	}

	argv := fake.calls[0]
	if got := argAfter(argv, "--playlist-items"); got != "0" {
		t.Errorf("--playlist-items = %q, want 0", got)
	}
	if argv[len(argv)-2] != "--" {
		t.Errorf("URL must follow a -- terminator: %v", argv)
	}
	if argv[len(argv)-1] != "https://youtube.com/@HaniTV" {
		t.Errorf("last arg = %q, want the channel URL", argv[len(argv)-1])
	}
}

func TestChannelInfo_Fallbacks(t *testing.T) {
	fake := &fakeRunner{out: []byte(`{"uploader": "HaniTV", "webpage_url": "https://www.youtube.com/@HaniTV"}`)}
	y := newTestYTDLP(fake)

	meta, err := y.ChannelInfo(context.Background(), "https://youtube.com/@HaniTV")
	if err != nil {
		t.Fatalf("ChannelInfo() error: %v", err)
	}
	if meta.Title != "HaniTV" {
		t.Errorf("Title = %q, want the uploader fallback", meta.Title)
	}
	if meta.URL != "https://www.youtube.com/@HaniTV" {
		t.Errorf("URL = %q, want the webpage_url fallback", meta.URL)
	}
}

func TestRecentVideos(t *testing.T) {
	fake := &fakeRunner{out: []byte(`{
		"entries": [
			{"id": "v1", "title": "아침 루틴", "url": "https://www.youtube.com/watch?v=v1", "duration": 612, "view_count": 95000},
			{"id": "", "title": "placeholder"},
			{"id": "v2", "title": "저녁 루틴", "duration": 540, "view_count": 41000}
		]
	}`)}
	y := newTestYTDLP(fake)

	videos, err := y.RecentVideos(context.Background(), "https://www.youtube.com/@HaniTV", 20)
	if err != nil {
		t.Fatalf("RecentVideos() error: %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("got %d videos, want 2 (empty id skipped)", len(videos))
	}
	if videos[0].Title != "아침 루틴" || videos[0].ViewCount != 95000 {
		t.Errorf("videos[0] = %+v", videos[0])
	}
	if videos[1].URL != "https://www.youtube.com/watch?v=v2" {
		t.Errorf("missing url not synthesized: %q", videos[1].URL)
	}

	argv := fake.calls[0]
	if argv[len(argv)-1] != "https://www.youtube.com/@HaniTV/videos" {
		t.Errorf("listing should target the uploads tab, got %q", argv[len(argv)-1])
	}
	if got := argAfter(argv, "--playlist-end"); got != "20" {
		t.Errorf("--playlist-end = %q, want 20", got)
	}
}

func TestVideoInfo(t *testing.T) {
	fake := &fakeRunner{out: []byte(`{
		"id": "v1",
		"title": "아침 루틴 브이로그",
		"webpage_url": "https://www.youtube.com/watch?v=v1",
		"duration": 612.0,
		"view_count": 95000,
		"like_count": 4300,
		"comment_count": 210,
		"upload_date": "20260712",
		"thumbnail": "https://i.ytimg.com/vi/v1/maxresdefault.jpg",
		"tags": ["루틴", "브이로그"]
	}`)}
	y := newTestYTDLP(fake)

	meta, err := y.VideoInfo(context.Background(), "https://www.youtube.com/watch?v=v1")
	if err != nil {
		t.Fatalf("VideoInfo() error: %v", err)
	}
	if meta.LikeCount != 4300 || meta.CommentCount != 210 {
		t.Errorf("counts = %+v", meta)
	}
	if meta.UploadDate != "20260712" {
		t.Errorf("UploadDate = %q", meta.UploadDate)
	}
	if meta.Thumbnail == "" {
		t.Error("Thumbnail is empty")
	}
	if len(meta.Tags) != 2 {
		t.Errorf("Tags = %v", meta.Tags)
	}
}

func TestDownloadSubtitles(t *testing.T) {
	dir := t.TempDir()
	fake := &fakeRunner{}
	fake.onRun = func(argv []string) {
		// yt-dlp would write <id>.<lang>.vtt next to the output template.
		tmpl := argAfter(argv, "-o")
		path := filepath.Join(filepath.Dir(tmpl), "v1.ko.vtt")
		if err := os.WriteFile(path, []byte("WEBVTT\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	y := newTestYTDLP(fake)

	path, err := y.DownloadSubtitles(context.Background(), "https://www.youtube.com/watch?v=v1", "ko", dir)
	if err != nil {
		t.Fatalf("DownloadSubtitles() error: %v", err)
	}
	if filepath.Base(path) != "v1.ko.vtt" {
		t.Errorf("path = %q, want the ko vtt", path)
	}

	argv := fake.calls[0]
	for _, flag := range []string{"--skip-download", "--write-subs", "--write-auto-subs"} {
		found := false
		for _, a := range argv {
			if a == flag {
				found = true
			}
		}
		if !found {
			t.Errorf("argv is missing %s: %v", flag, argv)
		}
	}
	if got := argAfter(argv, "--sub-langs"); got != "ko" {
		t.Errorf("--sub-langs = %q, want ko", got)
	}
}

func TestDownloadSubtitles_NoneAvailable(t *testing.T) {
	fake := &fakeRunner{}
	y := newTestYTDLP(fake)

	path, err := y.DownloadSubtitles(context.Background(), "https://www.youtube.com/watch?v=v1", "ko", t.TempDir())
	if err != nil {
		t.Fatalf("DownloadSubtitles() error: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty when the video has no subtitles", path)
	}
}

func TestDownloadAudio(t *testing.T) {
	dir := t.TempDir()
	fake := &fakeRunner{}
	fake.onRun = func(argv []string) {
		tmpl := argAfter(argv, "-o")
		path := filepath.Join(filepath.Dir(tmpl), "sample.m4a")
		if err := os.WriteFile(path, []byte("m4a"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	y := newTestYTDLP(fake)

	path, err := y.DownloadAudio(context.Background(), "https://www.youtube.com/watch?v=v1", dir, "sample")
	if err != nil {
		t.Fatalf("DownloadAudio() error: %v", err)
	}
	if path != filepath.Join(dir, "sample.m4a") {
		t.Errorf("path = %q", path)
	}

	argv := fake.calls[0]
	if got := argAfter(argv, "--audio-format"); got != "m4a" {
		t.Errorf("--audio-format = %q, want m4a", got)
	}
}

func TestDownloadAudio_MissingOutput(t *testing.T) {
	fake := &fakeRunner{}
	y := newTestYTDLP(fake)

	if _, err := y.DownloadAudio(context.Background(), "https://www.youtube.com/watch?v=v1", t.TempDir(), "sample"); err == nil {
		t.Error("expected an error when the audio file does not appear")
	}
}

func TestVideosTab(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.youtube.com/@HaniTV", "https://www.youtube.com/@HaniTV/videos"},
		{"https://www.youtube.com/@HaniTV/", "https://www.youtube.com/@HaniTV/videos"},
		{"https://www.youtube.com/@HaniTV/videos", "https://www.youtube.com/@HaniTV/videos"},
		{"https://www.youtube.com/watch?v=v1", "https://www.youtube.com/watch?v=v1"},
	}
	for _, tt := range tests {
		if got := videosTab(tt.in); got != tt.want {
			t.Errorf("videosTab(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
