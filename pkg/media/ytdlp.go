package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// YTDLP wraps yt-dlp for channel analysis: metadata, subtitles and audio
// samples. URLs always follow a "--" terminator so user-supplied input can
// never be parsed as a flag.
type YTDLP struct {
	path string
	run  commandRunner
}

// NewYTDLP creates a yt-dlp wrapper. An empty path falls back to "yt-dlp"
// on PATH.
func NewYTDLP(path string, runner *Runner) *YTDLP {
	if path == "" {
		path = "yt-dlp"
	}
	return &YTDLP{path: path, run: runner}
}

// ChannelMeta describes a YouTube channel.
type ChannelMeta struct {
	ID          string
	Title       string
	Description string
	URL         string
	Subscribers int64
	VideoCount  int
}

// VideoMeta describes one video. Flat playlist listings fill only ID, Title,
// URL, Duration and ViewCount; VideoInfo fills everything.
type VideoMeta struct {
	ID           string
	Title        string
	URL          string
	Duration     float64
	ViewCount    int64
	LikeCount    int64
	CommentCount int64
	UploadDate   string
	Thumbnail    string
	Tags         []string
}

// ChannelInfo fetches channel-level metadata without enumerating videos.
func (y *YTDLP) ChannelInfo(ctx context.Context, channelURL string) (*ChannelMeta, error) {
	out, err := y.run.Run(ctx, y.path,
		"--dump-single-json",
		"--playlist-items", "0",
		"--no-warnings",
		"--", channelURL,
	)
	if err != nil {
		return nil, err
	}

	var raw struct {
		ID          string `json:"id"`
		Channel     string `json:"channel"`
		Uploader    string `json:"uploader"`
		Title       string `json:"title"`
		Description string `json:"description"`
		ChannelURL  string `json:"channel_url"`
		WebpageURL  string `json:"webpage_url"`
		Followers   int64  `json:"channel_follower_count"`
		Playlist    int    `json:"playlist_count"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("media: parse channel metadata: %w", err)
	}

	meta := &ChannelMeta{
		ID:          raw.ID,
		Title:       raw.Channel,
		Description: raw.Description,
		URL:         raw.ChannelURL,
		Subscribers: raw.Followers,
		VideoCount:  raw.Playlist,
	}
	if meta.Title == "" {
		meta.Title = raw.Uploader
	}
	if meta.Title == "" {
		meta.Title = raw.Title
	}
	if meta.URL == "" {
		meta.URL = raw.WebpageURL
	}
	if meta.URL == "" {
		meta.URL = channelURL
	}
	return meta, nil
}

// RecentVideos lists the channel's n most recent uploads using a flat
// playlist fetch, newest first.
func (y *YTDLP) RecentVideos(ctx context.Context, channelURL string, n int) ([]VideoMeta, error) {
	if n < 1 {
		n = 1
	}
	out, err := y.run.Run(ctx, y.path,
		"--dump-single-json",
		"--flat-playlist",
		"--playlist-end", fmt.Sprintf("%d", n),
		"--no-warnings",
		"--", videosTab(channelURL),
	)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Entries []struct {
			ID        string  `json:"id"`
			Title     string  `json:"title"`
			URL       string  `json:"url"`
			Duration  float64 `json:"duration"`
			ViewCount int64   `json:"view_count"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("media: parse video listing: %w", err)
	}

	videos := make([]VideoMeta, 0, len(raw.Entries))
	for _, e := range raw.Entries {
		if e.ID == "" {
			continue
		}
		v := VideoMeta{
			ID:        e.ID,
			Title:     e.Title,
			URL:       e.URL,
			Duration:  e.Duration,
			ViewCount: e.ViewCount,
		}
		if v.URL == "" {
			v.URL = "https://www.youtube.com/watch?v=" + e.ID
		}
		videos = append(videos, v)
		if len(videos) == n {
			break
		}
	}
	return videos, nil
}

// VideoInfo fetches full metadata for one video.
func (y *YTDLP) VideoInfo(ctx context.Context, videoURL string) (*VideoMeta, error) {
	out, err := y.run.Run(ctx, y.path,
		"--dump-single-json",
		"--no-warnings",
		"--", videoURL,
	)
	if err != nil {
		return nil, err
	}

	var raw struct {
		ID           string   `json:"id"`
		Title        string   `json:"title"`
		WebpageURL   string   `json:"webpage_url"`
		Duration     float64  `json:"duration"`
		ViewCount    int64    `json:"view_count"`
		LikeCount    int64    `json:"like_count"`
		CommentCount int64    `json:"comment_count"`
		UploadDate   string   `json:"upload_date"`
		Thumbnail    string   `json:"thumbnail"`
		Tags         []string `json:"tags"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("media: parse video metadata: %w", err)
	}

	meta := &VideoMeta{
		ID:           raw.ID,
		Title:        raw.Title,
		URL:          raw.WebpageURL,
		Duration:     raw.Duration,
		ViewCount:    raw.ViewCount,
		LikeCount:    raw.LikeCount,
		CommentCount: raw.CommentCount,
		UploadDate:   raw.UploadDate,
		Thumbnail:    raw.Thumbnail,
		Tags:         raw.Tags,
	}
	if meta.URL == "" {
		meta.URL = videoURL
	}
	return meta, nil
}

// DownloadSubtitles fetches manual or auto-generated subtitles for videoURL
// in the given language as VTT into destDir and returns the file path.
// Returns "" without error when the video has no subtitles.
func (y *YTDLP) DownloadSubtitles(ctx context.Context, videoURL, lang, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("media: create subtitle dir: %w", err)
	}
	_, err := y.run.Run(ctx, y.path,
		"--skip-download",
		"--write-subs",
		"--write-auto-subs",
		"--sub-langs", lang,
		"--sub-format", "vtt",
		"-o", filepath.Join(destDir, "%(id)s.%(ext)s"),
		"--no-warnings",
		"--", videoURL,
	)
	if err != nil {
		return "", err
	}

	matches, _ := filepath.Glob(filepath.Join(destDir, "*."+lang+"*.vtt"))
	if len(matches) == 0 {
		matches, _ = filepath.Glob(filepath.Join(destDir, "*.vtt"))
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Strings(matches)
	return matches[0], nil
}

// DownloadAudio extracts the audio track of videoURL as m4a into destDir
// under the given base name and returns the file path.
func (y *YTDLP) DownloadAudio(ctx context.Context, videoURL, destDir, name string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("media: create audio dir: %w", err)
	}
	_, err := y.run.Run(ctx, y.path,
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", "m4a",
		"-o", filepath.Join(destDir, name+".%(ext)s"),
		"--no-warnings",
		"--", videoURL,
	)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(destDir, name+".m4a")
	if _, err := os.Stat(dest); err != nil {
		return "", fmt.Errorf("media: yt-dlp reported success but %s is missing", dest)
	}
	return dest, nil
}

// videosTab points a channel URL at its uploads tab so a flat listing
// returns videos instead of the channel's tab collection.
func videosTab(channelURL string) string {
	if strings.Contains(channelURL, "/videos") || strings.Contains(channelURL, "/watch") {
		return channelURL
	}
	return strings.TrimRight(channelURL, "/") + "/videos"
}
