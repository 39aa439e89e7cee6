package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/moche-ai/routine-studio/pkg/media"
)

// writeTempFile writes content to dir/name and returns the path.
func writeTempFile(dir, name, content string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// mediaOp records one fakeMedia method invocation. arg2 is only set by
// methods taking two numeric arguments.
type mediaOp struct {
	name string
	in   string
	out  string
	arg  float64
	arg2 float64
}

// fakeMedia implements the Media interface for tests. Durations are looked
// up by path; every mutating call is recorded in ops. Set failOn to a method
// name to make that method return failErr.
type fakeMedia struct {
	durations map[string]float64

	frames    []string
	framesErr error

	failOn  string
	failErr error

	// cutOutput, when set, becomes the content CutAudio writes to its
	// output path; nil copies the input file.
	cutOutput []byte

	ops     []mediaOp
	muxOpts []media.MuxOptions
}

func (m *fakeMedia) fail(name string) error {
	if m.failOn == name {
		if m.failErr != nil {
			return m.failErr
		}
		return errors.New(name + " failed")
	}
	return nil
}

func (m *fakeMedia) record(name, in, out string, arg float64) {
	m.ops = append(m.ops, mediaOp{name: name, in: in, out: out, arg: arg})
}

// opNames returns the recorded method names in call order.
func (m *fakeMedia) opNames() []string {
	names := make([]string, len(m.ops))
	for i, op := range m.ops {
		names[i] = op.name
	}
	return names
}

func (m *fakeMedia) Probe(_ context.Context, path string) (*media.ProbeInfo, error) {
	if err := m.fail("Probe"); err != nil {
		return nil, err
	}
	return &media.ProbeInfo{Duration: m.durations[path], HasVideo: true}, nil
}

func (m *fakeMedia) Duration(_ context.Context, path string) (float64, error) {
	if err := m.fail("Duration"); err != nil {
		return 0, err
	}
	return m.durations[path], nil
}

func (m *fakeMedia) CopyVideo(_ context.Context, in, out string) error {
	if err := m.fail("CopyVideo"); err != nil {
		return err
	}
	m.record("CopyVideo", in, out, 0)
	return nil
}

func (m *fakeMedia) TrimVideo(_ context.Context, in, out string, seconds float64) error {
	if err := m.fail("TrimVideo"); err != nil {
		return err
	}
	m.record("TrimVideo", in, out, seconds)
	return nil
}

func (m *fakeMedia) RetimeVideo(_ context.Context, in, out string, factor float64) error {
	if err := m.fail("RetimeVideo"); err != nil {
		return err
	}
	m.record("RetimeVideo", in, out, factor)
	return nil
}

func (m *fakeMedia) HoldLastFrame(_ context.Context, in, out string, extraSeconds float64) error {
	if err := m.fail("HoldLastFrame"); err != nil {
		return err
	}
	m.record("HoldLastFrame", in, out, extraSeconds)
	return nil
}

func (m *fakeMedia) StillToClip(_ context.Context, image, out string, seconds float64) error {
	if err := m.fail("StillToClip"); err != nil {
		return err
	}
	m.record("StillToClip", image, out, seconds)
	return nil
}

func (m *fakeMedia) ExtractFrames(_ context.Context, video, dir string, every, max int) ([]string, error) {
	if err := m.fail("ExtractFrames"); err != nil {
		return nil, err
	}
	m.record("ExtractFrames", video, dir, float64(every))
	if m.framesErr != nil {
		return nil, m.framesErr
	}
	frames := m.frames
	if max > 0 && len(frames) > max {
		frames = frames[:max]
	}
	return frames, nil
}

func (m *fakeMedia) CutAudio(_ context.Context, in, out string, startSeconds, durationSeconds float64) error {
	if err := m.fail("CutAudio"); err != nil {
		return err
	}
	m.ops = append(m.ops, mediaOp{name: "CutAudio", in: in, out: out, arg: startSeconds, arg2: durationSeconds})
	data := m.cutOutput
	if data == nil {
		var err error
		if data, err = os.ReadFile(in); err != nil {
			return err
		}
	}
	return os.WriteFile(out, data, 0o644)
}

func (m *fakeMedia) Concat(_ context.Context, inputs []string, out string) error {
	if err := m.fail("Concat"); err != nil {
		return err
	}
	m.record("Concat", strings.Join(inputs, "|"), out, float64(len(inputs)))
	return nil
}

func (m *fakeMedia) Mux(_ context.Context, video, audio, out string, opts media.MuxOptions) error {
	if err := m.fail("Mux"); err != nil {
		return err
	}
	m.record("Mux", video+"|"+audio, out, 0)
	m.muxOpts = append(m.muxOpts, opts)
	return nil
}

var _ Media = (*fakeMedia)(nil)

// fakeYouTube implements the YouTube interface for tests.
type fakeYouTube struct {
	channel    *media.ChannelMeta
	channelErr error

	videos    []media.VideoMeta
	videosErr error

	infoByURL map[string]*media.VideoMeta
	infoErr   error

	subsContent string
	subsErr     error

	audioPath string
	audioErr  error

	calls []string
}

func (y *fakeYouTube) ChannelInfo(_ context.Context, url string) (*media.ChannelMeta, error) {
	y.calls = append(y.calls, "ChannelInfo")
	if y.channelErr != nil {
		return nil, y.channelErr
	}
	return y.channel, nil
}

func (y *fakeYouTube) RecentVideos(_ context.Context, url string, n int) ([]media.VideoMeta, error) {
	y.calls = append(y.calls, "RecentVideos")
	if y.videosErr != nil {
		return nil, y.videosErr
	}
	if n > 0 && len(y.videos) > n {
		return y.videos[:n], nil
	}
	return y.videos, nil
}

func (y *fakeYouTube) VideoInfo(_ context.Context, url string) (*media.VideoMeta, error) {
	y.calls = append(y.calls, "VideoInfo")
	if y.infoErr != nil {
		return nil, y.infoErr
	}
	if v, ok := y.infoByURL[url]; ok {
		return v, nil
	}
	return &media.VideoMeta{URL: url}, nil
}

func (y *fakeYouTube) DownloadSubtitles(_ context.Context, url, lang, dir string) (string, error) {
	y.calls = append(y.calls, "DownloadSubtitles")
	if y.subsErr != nil {
		return "", y.subsErr
	}
	return writeTempFile(dir, "subs.ko.vtt", y.subsContent)
}

func (y *fakeYouTube) DownloadAudio(_ context.Context, url, dir, name string) (string, error) {
	y.calls = append(y.calls, "DownloadAudio")
	if y.audioErr != nil {
		return "", y.audioErr
	}
	if y.audioPath != "" {
		return y.audioPath, nil
	}
	return writeTempFile(dir, name+".wav", "audio")
}

var _ YouTube = (*fakeYouTube)(nil)
