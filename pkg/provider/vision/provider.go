// Package vision defines the Provider interface for multimodal image
// analysis backends.
//
// A vision provider answers free-form questions about one or more images:
// style classification for character generation, appearance descriptions,
// and strict-JSON quality verdicts for generated video frames. The default
// implementation (subpackage qwen) talks to any OpenAI-compatible endpoint
// serving a vision-language model; the mock subpackage serves tests.
package vision

import (
	"context"
	"fmt"
	"strings"
)

// Detail levels accepted by multimodal endpoints. An empty Detail lets the
// backend choose.
const (
	DetailLow  = "low"
	DetailHigh = "high"
	DetailAuto = "auto"
)

// Request describes one analysis call. At least one image must be supplied,
// either as a file path or as a base64 payload.
type Request struct {
	// Prompt is the question or instruction sent alongside the images.
	Prompt string

	// ImagePaths are files read from disk and inlined as data URLs.
	ImagePaths []string

	// ImageData are base64-encoded images, with or without a
	// "data:<mime>;base64," prefix. Entries without a prefix are assumed
	// to be PNG.
	ImageData []string

	// Detail hints at the analysis resolution (DetailLow, DetailHigh,
	// DetailAuto). Empty uses the backend default.
	Detail string

	// MaxTokens caps the reply length. Zero means backend default.
	MaxTokens int
}

// Provider is the abstraction over any vision-language backend.
//
// Implementations must be safe for concurrent use and must return promptly
// once ctx is cancelled.
type Provider interface {
	// AnalyzeImage sends the request's images and prompt to the model and
	// returns the reply text.
	AnalyzeImage(ctx context.Context, req Request) (string, error)
}

// Styles the character pipeline understands, in weight order. Replies that
// match none of these fall back to StyleDefault.
const (
	StyleCartoon      = "cartoon"
	StyleAnime        = "anime"
	StyleRealistic    = "realistic"
	Style3D           = "3d"
	StyleIllustration = "illustration"
	StylePixel        = "pixel"

	StyleDefault = StyleIllustration
)

const styleDetectPrompt = `Classify the art style of this image. Answer with exactly one word from this list: cartoon, anime, realistic, 3d, illustration, pixel. No other text.`

// AnalyzeStyle classifies the art style of one image into one of the known
// style labels. Unrecognized replies map to StyleDefault.
func AnalyzeStyle(ctx context.Context, p Provider, imagePath string) (string, error) {
	reply, err := p.AnalyzeImage(ctx, Request{
		Prompt:     styleDetectPrompt,
		ImagePaths: []string{imagePath},
		Detail:     DetailLow,
		MaxTokens:  32,
	})
	if err != nil {
		return "", fmt.Errorf("vision: analyze style: %w", err)
	}
	return NormalizeStyle(reply), nil
}

// NormalizeStyle maps a free-form style reply onto one of the known labels.
// Matching is keyword based so verbose model replies ("The style is clearly
// anime.") still resolve; anything unmatched becomes StyleDefault.
func NormalizeStyle(reply string) string {
	s := strings.ToLower(strings.TrimSpace(reply))
	switch {
	case strings.Contains(s, StyleCartoon) || strings.Contains(s, "카툰") || strings.Contains(s, "만화"):
		return StyleCartoon
	case strings.Contains(s, StyleAnime) || strings.Contains(s, "애니"):
		return StyleAnime
	case strings.Contains(s, StyleRealistic) || strings.Contains(s, "photo") || strings.Contains(s, "실사"):
		return StyleRealistic
	case strings.Contains(s, "3d"):
		return Style3D
	case strings.Contains(s, StylePixel) || strings.Contains(s, "픽셀"):
		return StylePixel
	case strings.Contains(s, StyleIllustration) || strings.Contains(s, "일러스트"):
		return StyleIllustration
	default:
		return StyleDefault
	}
}

const describeCharacterPrompt = `이 이미지 속 캐릭터의 외형을 자세히 설명해주세요. 머리 스타일과 색깔, 눈, 의상, 체형, 특징적인 소품을 포함해서 한 문단으로 작성하세요.`

// DescribeCharacter returns a detailed Korean appearance description of the
// character in the image, used to seed image-generation prompts from a
// user-supplied reference picture.
func DescribeCharacter(ctx context.Context, p Provider, imagePath string) (string, error) {
	desc, err := p.AnalyzeImage(ctx, Request{
		Prompt:     describeCharacterPrompt,
		ImagePaths: []string{imagePath},
		Detail:     DetailHigh,
		MaxTokens:  512,
	})
	if err != nil {
		return "", fmt.Errorf("vision: describe character: %w", err)
	}
	return strings.TrimSpace(desc), nil
}

// maxQCFrames bounds how many sampled frames accompany the reference image
// in one quality-check call.
const maxQCFrames = 3

const qualityCheckPrompt = `The first image is the reference character. The remaining images are frames from a generated video of that character. Rate how faithfully the frames preserve the character's identity and visual quality. Respond with ONLY a JSON object in this exact shape, no markdown and no extra text: {"score": <integer 1-10>, "verdict": "PASS" or "FAIL"}. Use FAIL when the character is distorted, off-model, or the frames show severe artifacts.`

// QualityCheck sends the reference image plus up to three sampled frames and
// asks for a strict JSON verdict. The raw reply is returned; callers extract
// the JSON object from it.
func QualityCheck(ctx context.Context, p Provider, referencePath string, framePaths []string) (string, error) {
	if len(framePaths) == 0 {
		return "", fmt.Errorf("vision: quality check needs at least one frame")
	}
	frames := framePaths
	if len(frames) > maxQCFrames {
		frames = frames[:maxQCFrames]
	}
	paths := append([]string{referencePath}, frames...)
	reply, err := p.AnalyzeImage(ctx, Request{
		Prompt:     qualityCheckPrompt,
		ImagePaths: paths,
		Detail:     DetailLow,
		MaxTokens:  128,
	})
	if err != nil {
		return "", fmt.Errorf("vision: quality check: %w", err)
	}
	return reply, nil
}
