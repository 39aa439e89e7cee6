// Package qwen provides a vision provider backed by any OpenAI-compatible
// multimodal endpoint, such as a local Qwen-VL model served by Ollama or a
// hosted vision API.
package qwen

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/moche-ai/routine-studio/pkg/provider/vision"
)

// Provider implements vision.Provider against an OpenAI-compatible chat
// completions endpoint with image_url content parts.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	apiKey  string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithAPIKey sets the bearer token sent to the endpoint. Local endpoints
// usually need none.
func WithAPIKey(key string) Option {
	return func(c *config) {
		c.apiKey = key
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Provider talking to baseURL with the given model.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("qwen: baseURL must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("qwen: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(baseURL),
	}
	if cfg.apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.apiKey))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// AnalyzeImage implements vision.Provider.
func (p *Provider) AnalyzeImage(ctx context.Context, req vision.Request) (string, error) {
	parts, err := buildParts(req)
	if err != nil {
		return "", fmt.Errorf("qwen: build content parts: %w", err)
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(parts),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("qwen: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("qwen: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// buildParts assembles the multimodal user message: the prompt text followed
// by one image_url part per image, inlined as data URLs.
func buildParts(req vision.Request) ([]oai.ChatCompletionContentPartUnionParam, error) {
	if len(req.ImagePaths) == 0 && len(req.ImageData) == 0 {
		return nil, fmt.Errorf("request has no images")
	}

	parts := []oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart(req.Prompt),
	}
	for _, path := range req.ImagePaths {
		url, err := fileDataURL(path)
		if err != nil {
			return nil, err
		}
		parts = append(parts, imagePart(url, req.Detail))
	}
	for _, data := range req.ImageData {
		parts = append(parts, imagePart(dataURL(data), req.Detail))
	}
	return parts, nil
}

func imagePart(url, detail string) oai.ChatCompletionContentPartUnionParam {
	return oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
		URL:    url,
		Detail: detail,
	})
}

// fileDataURL reads an image file and encodes it as a data URL.
func fileDataURL(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %q: %w", path, err)
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeFor(path), base64.StdEncoding.EncodeToString(raw)), nil
}

// dataURL normalizes a base64 payload into a data URL. Payloads that already
// carry a data: prefix pass through untouched; bare base64 is assumed PNG.
func dataURL(data string) string {
	if strings.HasPrefix(data, "data:") {
		return data
	}
	return "data:image/png;base64," + data
}

func mimeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}

// Ensure Provider implements vision.Provider at compile time.
var _ vision.Provider = (*Provider)(nil)
