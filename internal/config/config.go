// Package config provides the configuration schema and loader for the
// Routine Studio content pipeline server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler used for server logs.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// QuotaPeriod is the reset cadence for a provider's usage quota.
type QuotaPeriod string

const (
	PeriodDaily   QuotaPeriod = "daily"
	PeriodMonthly QuotaPeriod = "monthly"
)

// IsValid reports whether p is a recognised quota period.
func (p QuotaPeriod) IsValid() bool {
	return p == PeriodDaily || p == PeriodMonthly
}

// SessionDriver selects the session store implementation.
type SessionDriver string

const (
	SessionFile     SessionDriver = "file"
	SessionPostgres SessionDriver = "postgres"
)

// IsValid reports whether d is a recognised session store driver.
func (d SessionDriver) IsValid() bool {
	return d == SessionFile || d == SessionPostgres
}

// Duration wraps time.Duration with YAML support for strings like "2s" or "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Routine Studio.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	DataDir      string             `yaml:"data_dir"`
	SessionStore SessionStoreConfig `yaml:"session_store"`
	Providers    []ProviderEntry    `yaml:"providers"`
	Vision       VisionConfig       `yaml:"vision"`
	TTS          TTSConfig          `yaml:"tts"`
	Workflow     WorkflowConfig     `yaml:"workflow"`
	Browser      BrowserConfig      `yaml:"browser"`
	Media        MediaConfig        `yaml:"media"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`

	// Prompts overrides the built-in prompt templates by name. Template
	// content is configuration, not logic; unknown names are passed through
	// so new templates can be tried without a code change.
	Prompts map[string]string `yaml:"prompts"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP front listens on (e.g., ":8571").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or json log output.
	LogFormat LogFormat `yaml:"log_format"`
}

// SessionStoreConfig selects where durable session state lives.
type SessionStoreConfig struct {
	// Driver is "file" (default) or "postgres".
	Driver SessionDriver `yaml:"driver"`

	// DSN is the PostgreSQL connection string, required for the postgres driver.
	// Supports ${VAR} expansion, e.g. "${STUDIO_PG_DSN}".
	DSN string `yaml:"dsn"`
}

// ProviderEntry configures one LLM provider in the fallback chain.
// Entries are tried in list order; an entry with an APIKeyEnv whose variable
// is unset at startup is skipped entirely.
type ProviderEntry struct {
	// Name identifies the entry in logs, metrics, and the quota file.
	Name string `yaml:"name"`

	// Backend selects the any-llm-go backend ("gemini", "groq", "deepseek",
	// "openai", "ollama", ...).
	Backend string `yaml:"backend"`

	// Model is the model identifier for this backend.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the credential.
	// Empty means the backend needs no credential (local inference).
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Remote marks the entry as quota-tracked. Local entries are unlimited.
	Remote bool `yaml:"remote"`

	// Quota bounds usage for remote entries. Ignored when Remote is false.
	Quota QuotaConfig `yaml:"quota"`
}

// QuotaConfig bounds a remote provider's request count per period.
type QuotaConfig struct {
	// Limit is the maximum requests per period. Zero means unlimited.
	Limit int `yaml:"limit"`

	// Period is "daily" or "monthly".
	Period QuotaPeriod `yaml:"period"`
}

// VisionConfig points at an OpenAI-compatible multimodal endpoint.
type VisionConfig struct {
	// BaseURL is the endpoint serving the vision model.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable with the API key, if any.
	APIKeyEnv string `yaml:"api_key_env"`

	// Model is the multimodal model identifier.
	Model string `yaml:"model"`

	// Timeout bounds a single analysis call.
	Timeout Duration `yaml:"timeout"`

	// Cloud optionally configures a second, cloud-hosted endpoint used for
	// the cloud quality-check mode. Nil disables cloud checks.
	Cloud *CloudVisionConfig `yaml:"cloud"`
}

// CloudVisionConfig configures the optional cloud vision endpoint.
type CloudVisionConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// TTSConfig points at the speech synthesis server.
type TTSConfig struct {
	// BaseURL is the XTTS-compatible server address.
	BaseURL string `yaml:"base_url"`

	// DefaultSpeaker is the preset speaker used when no clone is configured.
	DefaultSpeaker string `yaml:"default_speaker"`

	// Language is the synthesis language code (e.g., "ko", "en").
	Language string `yaml:"language"`

	// Timeout bounds a single synthesis call.
	Timeout Duration `yaml:"timeout"`
}

// WorkflowConfig points at the node-graph workflow engine that renders images
// and videos.
type WorkflowConfig struct {
	// BaseURL is the engine address (e.g., "http://localhost:8188").
	BaseURL string `yaml:"base_url"`

	// PollInterval is the cadence for polling run completion.
	PollInterval Duration `yaml:"poll_interval"`

	// ImageTimeout bounds an image workflow run.
	ImageTimeout Duration `yaml:"image_timeout"`

	// VideoTimeout bounds a video workflow run.
	VideoTimeout Duration `yaml:"video_timeout"`

	// Checkpoint is the image model checkpoint loaded by graphs.
	Checkpoint string `yaml:"checkpoint"`

	// VideoCheckpoint is the image-to-video model checkpoint.
	VideoCheckpoint string `yaml:"video_checkpoint"`

	// Width and Height are the render dimensions.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// Steps is the sampler step count for image graphs.
	Steps int `yaml:"steps"`

	// VideoFrames is the frame count for video graphs.
	VideoFrames int `yaml:"video_frames"`

	// FPS is the frame rate for video graphs.
	FPS int `yaml:"fps"`
}

// BrowserConfig configures the page-capture collaborator, an MCP server
// exposing browser navigation and screenshot tools.
type BrowserConfig struct {
	// Command is the argv to launch a stdio MCP server (e.g.,
	// ["npx", "@playwright/mcp@latest", "--headless"]). Mutually exclusive
	// with URL.
	Command []string `yaml:"command"`

	// URL is the address of a streamable-HTTP MCP server.
	URL string `yaml:"url"`

	// Timeout bounds one capture.
	Timeout Duration `yaml:"timeout"`

	// ViewportWidth and ViewportHeight set the capture viewport.
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`
}

// MediaConfig locates the external media binaries.
type MediaConfig struct {
	// FFmpeg is the ffmpeg binary path or name.
	FFmpeg string `yaml:"ffmpeg"`

	// FFprobe is the ffprobe binary path or name.
	FFprobe string `yaml:"ffprobe"`

	// YTDLP is the yt-dlp binary path or name.
	YTDLP string `yaml:"ytdlp"`

	// Timeout bounds a single subprocess invocation.
	Timeout Duration `yaml:"timeout"`
}

// PipelineConfig tunes the stage agents.
type PipelineConfig struct {
	// CandidateCount is how many channel names and video ideas to generate.
	CandidateCount int `yaml:"candidate_count"`

	// VideoCount is how many recent videos to collect per benchmarked channel.
	VideoCount int `yaml:"video_count"`

	// TranscriptCount is how many transcripts to fetch (top videos by views).
	TranscriptCount int `yaml:"transcript_count"`

	// TranscriptChars truncates each fetched transcript.
	TranscriptChars int `yaml:"transcript_chars"`

	// ThumbnailCount is how many thumbnails to download per channel.
	ThumbnailCount int `yaml:"thumbnail_count"`

	// ScreenshotThumbs is how many individual thumbnails to screenshot.
	ScreenshotThumbs int `yaml:"screenshot_thumbs"`

	// EnableVideo turns on per-scene image-to-video generation.
	EnableVideo bool `yaml:"enable_video"`

	// EnableQC turns on the vision quality-check loop for generated videos.
	EnableQC bool `yaml:"enable_qc"`

	// MaxRegenerations caps QC-driven regeneration attempts per scene.
	MaxRegenerations int `yaml:"max_regenerations"`

	// BurnSubtitles burns subtitles into the final video; false soft-muxes them.
	BurnSubtitles bool `yaml:"burn_subtitles"`

	// StillDuration is the clip length in seconds for still-image scenes.
	StillDuration float64 `yaml:"still_duration"`
}

// Default returns a Config populated with the documented defaults. Loading a
// file overlays it; an absent file leaves it as-is so the server can start
// against local collaborators with zero configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8571",
			LogLevel:   LogInfo,
			LogFormat:  LogText,
		},
		DataDir: "./data",
		SessionStore: SessionStoreConfig{
			Driver: SessionFile,
		},
		Providers: []ProviderEntry{
			{
				Name:      "gemini",
				Backend:   "gemini",
				Model:     "gemini-2.0-flash",
				APIKeyEnv: "GEMINI_API_KEY",
				Remote:    true,
				Quota:     QuotaConfig{Limit: 1500, Period: PeriodDaily},
			},
			{
				Name:      "groq",
				Backend:   "groq",
				Model:     "llama-3.3-70b-versatile",
				APIKeyEnv: "GROQ_API_KEY",
				Remote:    true,
				Quota:     QuotaConfig{Limit: 14400, Period: PeriodDaily},
			},
			{
				Name:    "ollama",
				Backend: "ollama",
				Model:   "qwen2.5:14b",
			},
		},
		Vision: VisionConfig{
			BaseURL: "http://localhost:11434/v1",
			Model:   "qwen2.5vl:7b",
			Timeout: Duration(120 * time.Second),
		},
		TTS: TTSConfig{
			BaseURL:        "http://localhost:8020",
			DefaultSpeaker: "Claribel Dervla",
			Language:       "ko",
			Timeout:        Duration(120 * time.Second),
		},
		Workflow: WorkflowConfig{
			BaseURL:         "http://localhost:8188",
			PollInterval:    Duration(2 * time.Second),
			ImageTimeout:    Duration(180 * time.Second),
			VideoTimeout:    Duration(600 * time.Second),
			Checkpoint:      "sd_xl_base_1.0.safetensors",
			VideoCheckpoint: "svd_xt.safetensors",
			Width:           768,
			Height:          1344,
			Steps:           28,
			VideoFrames:     25,
			FPS:             8,
		},
		Browser: BrowserConfig{
			Timeout:        Duration(60 * time.Second),
			ViewportWidth:  1280,
			ViewportHeight: 900,
		},
		Media: MediaConfig{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
			YTDLP:   "yt-dlp",
			Timeout: Duration(10 * time.Minute),
		},
		Pipeline: PipelineConfig{
			CandidateCount:   5,
			VideoCount:       20,
			TranscriptCount:  5,
			TranscriptChars:  5000,
			ThumbnailCount:   8,
			ScreenshotThumbs: 6,
			EnableVideo:      false,
			EnableQC:         true,
			MaxRegenerations: 2,
			BurnSubtitles:    true,
			StillDuration:    3.0,
		},
	}
}
