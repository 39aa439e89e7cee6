// Package xtts provides a TTS provider backed by a Coqui XTTS v2 API server.
//
// Synthesis is one POST /tts_to_audio/ call per section with a JSON body; the
// voice catalogue comes from GET /studio_speakers and one-shot voice cloning
// goes through POST /clone_speaker with a multipart WAV upload. The server
// returns complete WAV files, which are validated (RIFF chunk walk) before
// being handed to the caller.
//
// Typical usage:
//
//	p, err := xtts.New("http://localhost:8020",
//	    xtts.WithLanguage("ko"),
//	    xtts.WithTimeout(2*time.Minute),
//	)
//	wav, err := p.Synthesize(ctx, tts.Request{Text: "안녕하세요", Speaker: "Claribel Dervla"})
package xtts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/moche-ai/routine-studio/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "ko"
	defaultTimeout  = 2 * time.Minute

	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	cloneSpeakerEndpoint   = "/clone_speaker"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server (e.g., "ko", "en").
// Defaults to "ko".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Synthesis of a full script
// section can take a while on CPU, so the default is generous (2 m).
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements tts.Provider against an XTTS v2 API server. It is safe
// for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client

	// cloneMu serializes clone registration; cloned speaker names are cached
	// by sample content so repeated sections reuse one server-side clone.
	cloneMu sync.Mutex
	clones  map[string]string
}

// New creates a Provider that targets the XTTS server at serverURL
// (e.g., "http://localhost:8020"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("xtts: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		clones: make(map[string]string),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/.
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// cloneSpeakerResponse is the JSON body returned by POST /clone_speaker.
type cloneSpeakerResponse struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// Synthesize implements tts.Provider. A request carrying ReferenceAudio
// registers the sample as a cloned speaker first (cached per sample), then
// synthesizes with it; otherwise the preset Speaker is used directly.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("xtts: text must not be empty")
	}

	speaker := req.Speaker
	if len(req.ReferenceAudio) > 0 {
		name, err := p.cloneSpeaker(ctx, req.ReferenceAudio, req.ReferenceText)
		if err != nil {
			return nil, err
		}
		speaker = name
	}
	if speaker == "" {
		return nil, errors.New("xtts: request needs a speaker or reference audio")
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	body := ttsRequest{
		Text:       req.Text,
		SpeakerWav: speaker,
		Language:   lang,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("xtts: marshal tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("xtts: create tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("xtts: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("xtts: POST %s returned status %d", ttsEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("xtts: read WAV response: %w", err)
	}
	if _, err := tts.ParseWAV(wav); err != nil {
		return nil, fmt.Errorf("xtts: invalid WAV response: %w", err)
	}
	return wav, nil
}

// ListSpeakers implements tts.Provider. It calls GET /studio_speakers and
// returns the speaker names sorted for deterministic output.
func (p *Provider) ListSpeakers(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+studioSpeakersEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("xtts: create list-speakers request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("xtts: GET %s: %w", studioSpeakersEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("xtts: GET %s returned status %d", studioSpeakersEndpoint, resp.StatusCode)
	}

	// Only the keys matter; values carry server-side embeddings.
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("xtts: decode studio speakers: %w", err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// cloneSpeaker uploads the WAV sample via POST /clone_speaker and returns
// the server-assigned speaker name. Results are cached by sample content so
// a six-section voiceover uploads the reference once.
func (p *Provider) cloneSpeaker(ctx context.Context, sample []byte, referenceText string) (string, error) {
	key := cloneKey(sample, referenceText)

	p.cloneMu.Lock()
	defer p.cloneMu.Unlock()
	if name, ok := p.clones[key]; ok {
		return name, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("wav_file", "reference.wav")
	if err != nil {
		return "", fmt.Errorf("xtts: create form file: %w", err)
	}
	if _, err := fw.Write(sample); err != nil {
		return "", fmt.Errorf("xtts: write form file: %w", err)
	}
	if referenceText != "" {
		if err := mw.WriteField("reference_text", referenceText); err != nil {
			return "", fmt.Errorf("xtts: write reference text field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("xtts: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+cloneSpeakerEndpoint, &body)
	if err != nil {
		return "", fmt.Errorf("xtts: create clone-speaker request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("xtts: POST %s: %w", cloneSpeakerEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("xtts: POST %s returned status %d", cloneSpeakerEndpoint, resp.StatusCode)
	}

	var cloneResp cloneSpeakerResponse
	if err := json.NewDecoder(resp.Body).Decode(&cloneResp); err != nil {
		return "", fmt.Errorf("xtts: decode clone-speaker response: %w", err)
	}
	if cloneResp.Name == "" {
		return "", errors.New("xtts: clone-speaker response missing name")
	}

	p.clones[key] = cloneResp.Name
	return cloneResp.Name, nil
}

// cloneKey fingerprints a reference sample for the clone cache. Sample sizes
// differ in practice, so length plus head and tail bytes is enough without
// hashing megabytes on every section.
func cloneKey(sample []byte, referenceText string) string {
	head := sample
	if len(head) > 64 {
		head = head[:64]
	}
	tail := sample
	if len(tail) > 64 {
		tail = tail[len(tail)-64:]
	}
	return fmt.Sprintf("%d:%x:%x:%s", len(sample), head, tail, referenceText)
}
