package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// commandRunner abstracts Runner for tests.
type commandRunner interface {
	Run(ctx context.Context, argv ...string) ([]byte, error)
}

// FFmpeg wraps the ffmpeg and ffprobe invocations used by the composer and
// the quality checker. Scene clips carry no useful audio track, so every
// video operation drops audio; the voiceover is muxed in at the end.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
	run     commandRunner
}

// NewFFmpeg creates an FFmpeg wrapper. Empty paths fall back to "ffmpeg"
// and "ffprobe" on PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string, runner *Runner) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpeg: ffmpegPath, ffprobe: ffprobePath, run: runner}
}

// ProbeInfo describes one media file.
type ProbeInfo struct {
	Duration float64
	HasVideo bool
	HasAudio bool
	Width    int
	Height   int
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

// Probe inspects path with ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	out, err := f.run.Run(ctx, f.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, err
	}

	var probed probeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, fmt.Errorf("media: parse ffprobe output for %s: %w", path, err)
	}

	info := &ProbeInfo{}
	info.Duration, _ = strconv.ParseFloat(probed.Format.Duration, 64)
	for _, s := range probed.Streams {
		switch s.CodecType {
		case "video":
			info.HasVideo = true
			if s.Width > 0 {
				info.Width = s.Width
				info.Height = s.Height
			}
		case "audio":
			info.HasAudio = true
		}
		// Some containers only carry duration per stream.
		if info.Duration == 0 {
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > info.Duration {
				info.Duration = d
			}
		}
	}
	return info, nil
}

// Duration returns the duration of path in seconds.
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	info, err := f.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// CopyVideo rewraps the video stream of in into out without re-encoding,
// dropping any audio.
func (f *FFmpeg) CopyVideo(ctx context.Context, in, out string) error {
	_, err := f.run.Run(ctx, f.ffmpeg,
		"-y",
		"-i", in,
		"-an",
		"-c:v", "copy",
		out,
	)
	return err
}

// TrimVideo cuts in down to seconds, re-encoding for frame accuracy.
func (f *FFmpeg) TrimVideo(ctx context.Context, in, out string, seconds float64) error {
	_, err := f.run.Run(ctx, f.ffmpeg,
		"-y",
		"-i", in,
		"-t", formatSeconds(seconds),
		"-an",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		out,
	)
	return err
}

// RetimeVideo slows in down by the given speed factor (0 < factor < 1), so
// its duration becomes duration/factor. Used when the voiceover for a scene
// runs slightly longer than its clip.
func (f *FFmpeg) RetimeVideo(ctx context.Context, in, out string, factor float64) error {
	if factor <= 0 {
		return fmt.Errorf("media: retime factor must be positive, got %g", factor)
	}
	_, err := f.run.Run(ctx, f.ffmpeg,
		"-y",
		"-i", in,
		"-an",
		"-filter:v", fmt.Sprintf("setpts=PTS/%.6f", factor),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		out,
	)
	return err
}

// HoldLastFrame extends in by extraSeconds, cloning the final frame.
func (f *FFmpeg) HoldLastFrame(ctx context.Context, in, out string, extraSeconds float64) error {
	_, err := f.run.Run(ctx, f.ffmpeg,
		"-y",
		"-i", in,
		"-an",
		"-vf", fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%s", formatSeconds(extraSeconds)),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		out,
	)
	return err
}

// StillToClip turns a still image into a video clip of the given length.
// Dimensions are rounded down to even values as libx264 requires.
func (f *FFmpeg) StillToClip(ctx context.Context, image, out string, seconds float64) error {
	_, err := f.run.Run(ctx, f.ffmpeg,
		"-y",
		"-loop", "1",
		"-i", image,
		"-t", formatSeconds(seconds),
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2,format=yuv420p",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-r", "25",
		out,
	)
	return err
}

// ExtractFrames saves every nth frame of video into dir as
// frame_0001.png, frame_0002.png, ... capped at maxFrames, and returns the
// written paths in order.
func (f *FFmpeg) ExtractFrames(ctx context.Context, video, dir string, every, maxFrames int) ([]string, error) {
	if every < 1 {
		every = 1
	}
	if maxFrames < 1 {
		maxFrames = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create frame dir: %w", err)
	}

	_, err := f.run.Run(ctx, f.ffmpeg,
		"-y",
		"-i", video,
		"-vf", fmt.Sprintf("select='not(mod(n,%d))'", every),
		"-vsync", "vfr",
		"-vframes", strconv.Itoa(maxFrames),
		filepath.Join(dir, "frame_%04d.png"),
	)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("media: read frame dir: %w", err)
	}
	var frames []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "frame_") && strings.HasSuffix(name, ".png") {
			frames = append(frames, filepath.Join(dir, name))
		}
	}
	sort.Strings(frames)
	if len(frames) == 0 {
		return nil, fmt.Errorf("media: no frames extracted from %s", video)
	}
	return frames, nil
}

// CutAudio extracts [start, start+seconds) from in and writes it as mono
// 16-bit PCM WAV at 24 kHz, the format voice cloning expects.
func (f *FFmpeg) CutAudio(ctx context.Context, in, out string, start, seconds float64) error {
	if seconds <= 0 {
		return fmt.Errorf("media: cut length must be positive, got %g", seconds)
	}
	_, err := f.run.Run(ctx, f.ffmpeg,
		"-y",
		"-ss", formatSeconds(start),
		"-i", in,
		"-t", formatSeconds(seconds),
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "24000",
		"-ac", "1",
		out,
	)
	return err
}

// Concat joins inputs into out using the concat demuxer with stream copy.
// All inputs must share codec and parameters, which holds for clips and WAV
// sections produced by this pipeline.
func (f *FFmpeg) Concat(ctx context.Context, inputs []string, out string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("media: concat needs at least one input")
	}

	list, err := os.CreateTemp(filepath.Dir(out), "concat-*.txt")
	if err != nil {
		return fmt.Errorf("media: create concat list: %w", err)
	}
	defer os.Remove(list.Name())

	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			abs = in
		}
		if _, err := fmt.Fprintf(list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`)); err != nil {
			list.Close()
			return fmt.Errorf("media: write concat list: %w", err)
		}
	}
	if err := list.Close(); err != nil {
		return fmt.Errorf("media: close concat list: %w", err)
	}

	_, err = f.run.Run(ctx, f.ffmpeg,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", list.Name(),
		"-c", "copy",
		out,
	)
	return err
}

// MuxOptions control subtitle handling during the final mux.
type MuxOptions struct {
	// SubtitlePath is an SRT file to attach. Empty means no subtitles.
	SubtitlePath string

	// Burn renders subtitles into the video frames. When false the SRT is
	// soft-muxed as a mov_text track instead.
	Burn bool
}

// Mux combines a video track and an audio track into out, optionally with
// subtitles. The output is cut to the shorter of the two tracks.
func (f *FFmpeg) Mux(ctx context.Context, video, audio, out string, opts MuxOptions) error {
	args := []string{
		"-y",
		"-i", video,
		"-i", audio,
	}

	switch {
	case opts.SubtitlePath != "" && opts.Burn:
		args = append(args,
			"-vf", "subtitles="+filterPath(opts.SubtitlePath),
			"-map", "0:v",
			"-map", "1:a",
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-pix_fmt", "yuv420p",
		)
	case opts.SubtitlePath != "":
		args = append(args,
			"-i", opts.SubtitlePath,
			"-map", "0:v",
			"-map", "1:a",
			"-map", "2:0",
			"-c:v", "copy",
			"-c:s", "mov_text",
			"-metadata:s:s:0", "language=kor",
		)
	default:
		args = append(args,
			"-map", "0:v",
			"-map", "1:a",
			"-c:v", "copy",
		)
	}

	args = append(args,
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		out,
	)

	_, err := f.run.Run(ctx, append([]string{f.ffmpeg}, args...)...)
	return err
}

// formatSeconds renders a duration argument with millisecond precision.
func formatSeconds(s float64) string {
	if s < 0 {
		s = 0
	}
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// filterPath escapes a path for use inside a filtergraph option value, where
// backslashes, quotes, separators and brackets are special.
func filterPath(p string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`,`, `\,`,
		`[`, `\[`,
		`]`, `\]`,
	)
	return r.Replace(p)
}
