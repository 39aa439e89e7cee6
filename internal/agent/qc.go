package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/moche-ai/routine-studio/pkg/provider/vision"
)

// QCMode selects how generated media is evaluated.
type QCMode string

// Quality-check modes. Local needs no model; vision and cloud ask a
// vision-language backend for a strict verdict.
const (
	QCModeLocal  QCMode = "local"
	QCModeVision QCMode = "vision"
	QCModeCloud  QCMode = "cloud"
)

// Quality-check verdicts. VerdictError marks a check that could not run;
// it never triggers regeneration.
const (
	VerdictPass  = "PASS"
	VerdictFail  = "FAIL"
	VerdictError = "ERROR"
)

// QCReport is the uniform quality-check outcome across all modes. Strict
// modes fill Verdict; the local mode leaves it empty and scores on pixel
// statistics alone.
type QCReport struct {
	OverallScore float64            `json:"overall_score"`
	SubScores    map[string]float64 `json:"sub_scores"`
	Issues       []string           `json:"issues"`
	Suggestions  []string           `json:"suggestions"`
	Summary      string             `json:"summary"`
	Verdict      string             `json:"verdict,omitempty"`
}

// QualityChecker evaluates generated images and videos. The image generator
// runs it after each scene render; it also serves on its own for spot checks.
type QualityChecker struct {
	mode QCMode
	d    *Deps
}

// NewQualityChecker creates a checker in the given mode.
func NewQualityChecker(mode QCMode, d *Deps) *QualityChecker {
	return &QualityChecker{mode: mode, d: d}
}

// qcFrameEvery is the frame sampling stride for video checks.
const qcFrameEvery = 8

// CheckImage evaluates a single image. Only the local mode applies; strict
// modes need a reference and frames and go through CheckVideo.
func (q *QualityChecker) CheckImage(ctx context.Context, path string) (*QCReport, error) {
	st, err := imagePixelStats(path)
	if err != nil {
		return nil, err
	}
	return localImageReport(st), nil
}

// CheckVideo evaluates a generated video against the character reference
// image. frameDir receives extracted frames and must exist.
func (q *QualityChecker) CheckVideo(ctx context.Context, referenceImage, videoPath, frameDir string) (*QCReport, error) {
	switch q.mode {
	case QCModeLocal:
		frames, err := q.d.Media.ExtractFrames(ctx, videoPath, frameDir, qcFrameEvery, 5)
		if err != nil {
			return nil, err
		}
		return localVideoReport(frames)

	case QCModeVision, QCModeCloud:
		p := q.d.Vision
		if q.mode == QCModeCloud {
			p = q.d.CloudVision
		}
		if p == nil {
			return nil, fmt.Errorf("agent: %s quality check has no vision provider", q.mode)
		}
		frames, err := q.d.Media.ExtractFrames(ctx, videoPath, frameDir, qcFrameEvery, 4)
		if err != nil {
			return nil, err
		}
		if len(frames) == 0 {
			return nil, fmt.Errorf("agent: no frames extracted from %s", videoPath)
		}
		reply, err := vision.QualityCheck(ctx, p, referenceImage, frames)
		if err != nil {
			return nil, err
		}
		return strictReport(reply)
	}
	return nil, fmt.Errorf("agent: unknown quality-check mode %q", q.mode)
}

// strictReport parses the vision backend's {"score", "verdict"} reply into
// the uniform report shape.
func strictReport(reply string) (*QCReport, error) {
	obj := ExtractJSON(reply)
	if obj == nil {
		return nil, fmt.Errorf("agent: quality-check reply carries no JSON verdict")
	}
	var parsed struct {
		Score   float64 `json:"score"`
		Verdict string  `json:"verdict"`
	}
	raw, _ := json.Marshal(obj)
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("agent: decode quality-check verdict: %w", err)
	}

	verdict := strings.ToUpper(strings.TrimSpace(parsed.Verdict))
	if verdict != VerdictPass && verdict != VerdictFail {
		return nil, fmt.Errorf("agent: quality-check verdict %q is neither PASS nor FAIL", parsed.Verdict)
	}

	r := &QCReport{
		OverallScore: parsed.Score,
		SubScores:    map[string]float64{"character_identity": parsed.Score},
		Summary:      fmt.Sprintf("캐릭터 일관성 점수 %.0f/10", parsed.Score),
		Verdict:      verdict,
	}
	if verdict == VerdictFail {
		r.Issues = append(r.Issues, "캐릭터 일관성이 기준에 미치지 못합니다")
		r.Suggestions = append(r.Suggestions, "해당 장면을 다시 생성해보세요")
	}
	return r, nil
}

// pixelStats holds the sampled statistics of one decoded image.
type pixelStats struct {
	width, height int
	whiteRatio    float64
	blackRatio    float64
	colorStddev   float64
	meanR         float64
	meanG         float64
	meanB         float64
}

// statSampleGrid bounds sampling to roughly statSampleGrid² pixels per image.
const statSampleGrid = 100

// imagePixelStats decodes path and samples its pixels on a grid.
func imagePixelStats(path string) (*pixelStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("agent: open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("agent: decode image %s: %w", path, err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("agent: image %s has zero size", path)
	}

	stepX := w / statSampleGrid
	if stepX < 1 {
		stepX = 1
	}
	stepY := h / statSampleGrid
	if stepY < 1 {
		stepY = 1
	}

	var (
		n            float64
		white, black float64
		sum, sumSq   [3]float64
	)
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r16, g16, b16, _ := img.At(x, y).RGBA()
			r := float64(r16 >> 8)
			g := float64(g16 >> 8)
			bl := float64(b16 >> 8)

			n++
			if r > 240 && g > 240 && bl > 240 {
				white++
			}
			if r < 30 && g < 30 && bl < 30 {
				black++
			}
			for i, v := range [3]float64{r, g, bl} {
				sum[i] += v
				sumSq[i] += v * v
			}
		}
	}

	st := &pixelStats{width: w, height: h}
	st.whiteRatio = white / n
	st.blackRatio = black / n
	st.meanR = sum[0] / n
	st.meanG = sum[1] / n
	st.meanB = sum[2] / n

	var stddev float64
	for i := range sum {
		mean := sum[i] / n
		v := sumSq[i]/n - mean*mean
		if v > 0 {
			stddev += math.Sqrt(v)
		}
	}
	st.colorStddev = stddev / 3
	return st, nil
}

// localImageReport maps pixel statistics onto sub-scores and issues.
func localImageReport(st *pixelStats) *QCReport {
	r := &QCReport{SubScores: map[string]float64{}}

	exposure := 10 * (1 - math.Max(st.whiteRatio, st.blackRatio))
	r.SubScores["exposure"] = clampScore(exposure)
	if st.whiteRatio > 0.85 {
		r.Issues = append(r.Issues, "이미지가 거의 흰색입니다")
		r.Suggestions = append(r.Suggestions, "프롬프트에 배경과 피사체 묘사를 추가해보세요")
	}
	if st.blackRatio > 0.85 {
		r.Issues = append(r.Issues, "이미지가 거의 검은색입니다")
		r.Suggestions = append(r.Suggestions, "밝기나 조명 관련 묘사를 추가해보세요")
	}

	r.SubScores["color"] = clampScore(st.colorStddev / 8)
	if st.colorStddev < 12 {
		r.Issues = append(r.Issues, "색 변화가 거의 없습니다")
	}

	minDim := st.width
	if st.height < minDim {
		minDim = st.height
	}
	switch {
	case minDim >= 512:
		r.SubScores["resolution"] = 10
	case minDim >= 256:
		r.SubScores["resolution"] = 5
	default:
		r.SubScores["resolution"] = 2
		r.Issues = append(r.Issues, fmt.Sprintf("해상도가 낮습니다 (%dx%d)", st.width, st.height))
	}

	r.OverallScore = meanScore(r.SubScores)
	r.Summary = localSummary(len(r.Issues))
	return r
}

// localVideoReport aggregates per-frame statistics: exposure from the white
// ratio mean, flicker from its variance, and motion from inter-frame RGB
// drift.
func localVideoReport(framePaths []string) (*QCReport, error) {
	if len(framePaths) == 0 {
		return nil, fmt.Errorf("agent: video quality check got no frames")
	}

	stats := make([]*pixelStats, 0, len(framePaths))
	for _, p := range framePaths {
		st, err := imagePixelStats(p)
		if err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}

	var whiteSum, whiteSumSq float64
	for _, st := range stats {
		whiteSum += st.whiteRatio
		whiteSumSq += st.whiteRatio * st.whiteRatio
	}
	n := float64(len(stats))
	whiteMean := whiteSum / n
	whiteVar := whiteSumSq/n - whiteMean*whiteMean

	var drift float64
	for i := 1; i < len(stats); i++ {
		drift += math.Abs(stats[i].meanR-stats[i-1].meanR) +
			math.Abs(stats[i].meanG-stats[i-1].meanG) +
			math.Abs(stats[i].meanB-stats[i-1].meanB)
	}
	if len(stats) > 1 {
		drift /= float64(len(stats)-1) * 3
	}

	r := &QCReport{SubScores: map[string]float64{}}

	r.SubScores["exposure"] = clampScore(10 * (1 - whiteMean))
	if whiteMean > 0.85 {
		r.Issues = append(r.Issues, "영상이 거의 흰색입니다")
	}

	// whiteVar above ~0.01 means frames alternate between blown-out and
	// normal exposure.
	r.SubScores["stability"] = clampScore(10 * (1 - whiteVar*100))
	if whiteVar > 0.01 {
		r.Issues = append(r.Issues, "프레임 간 노출이 불안정합니다")
	}

	switch {
	case len(stats) > 1 && drift < 0.5:
		r.SubScores["motion"] = 3
		r.Issues = append(r.Issues, "영상이 정지 화면에 가깝습니다")
		r.Suggestions = append(r.Suggestions, "움직임 묘사를 프롬프트에 추가해보세요")
	case drift > 40:
		r.SubScores["motion"] = 3
		r.Issues = append(r.Issues, "프레임 간 변화가 지나치게 큽니다")
	default:
		r.SubScores["motion"] = 8
	}

	r.OverallScore = meanScore(r.SubScores)
	r.Summary = localSummary(len(r.Issues))
	return r, nil
}

func localSummary(issues int) string {
	if issues == 0 {
		return "픽셀 통계 기준 특이사항이 없습니다."
	}
	return fmt.Sprintf("픽셀 통계 기준 문제 %d건이 발견되었습니다.", issues)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return math.Round(v*10) / 10
}

func meanScore(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return math.Round(sum/float64(len(scores))*10) / 10
}
