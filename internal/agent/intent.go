package agent

import (
	"strconv"
	"strings"
)

// Intent parsing shared by every agent and the orchestrator. Matching is
// case-insensitive on trimmed input. Korean verb stems (넘어가다, 건너뛰다)
// conjugate, so those match as substrings; the remaining tokens match the
// whole message to keep short words like "네" unambiguous.

var skipTokens = []string{"스킵", "skip", "없어", "패스", "pass"}

var skipStems = []string{"넘어가", "건너뛰"}

var confirmTokens = []string{
	"확정", "확인", "좋아", "네", "예", "넵", "다음",
	"ok", "okay", "yes", "good",
}

var regenerateTokens = []string{"다시", "regenerate", "다시 만들어", "재생성"}

// koreanOrdinals maps ordinal stems to 1..10. 네 alone is a confirmation;
// it only selects when followed by 번/번째.
var koreanOrdinals = map[string]int{
	"첫": 1, "두": 2, "세": 3, "네": 4, "다섯": 5,
	"여섯": 6, "일곱": 7, "여덟": 8, "아홉": 9, "열": 10,
}

// IsSkip reports whether text asks to skip the current stage.
func IsSkip(text string) bool {
	t := normalize(text)
	for _, tok := range skipTokens {
		if t == tok {
			return true
		}
	}
	for _, stem := range skipStems {
		if strings.Contains(t, stem) {
			return true
		}
	}
	return false
}

// IsConfirm reports whether text accepts the agent's current proposal.
func IsConfirm(text string) bool {
	t := normalize(text)
	for _, tok := range confirmTokens {
		if t == tok {
			return true
		}
	}
	return false
}

// IsRegenerate reports whether text asks to regenerate the current output.
func IsRegenerate(text string) bool {
	t := normalize(text)
	for _, tok := range regenerateTokens {
		if t == tok {
			return true
		}
	}
	return false
}

// ParseSelection extracts a 1-based list selection from text: a bare
// integer, "N번"/"N번째", or a Korean ordinal word plus 번/번째. Returns
// (0, false) when text is not a selection.
func ParseSelection(text string) (int, bool) {
	t := normalize(text)
	if t == "" {
		return 0, false
	}

	if n, err := strconv.Atoi(t); err == nil && n > 0 {
		return n, true
	}

	if rest, ok := trimOrdinalSuffix(t); ok {
		rest = strings.TrimSpace(rest)
		if n, err := strconv.Atoi(rest); err == nil && n > 0 {
			return n, true
		}
		if n, ok := koreanOrdinals[rest]; ok {
			return n, true
		}
	}
	return 0, false
}

// ParseSceneEdit splits "N번 <instruction>" into the scene number and the
// edit instruction. A bare "N번" with no instruction is a selection, not a
// scene edit, and returns false.
func ParseSceneEdit(text string) (int, string, bool) {
	t := strings.TrimSpace(text)
	idx := strings.Index(t, "번")
	if idx <= 0 {
		return 0, "", false
	}
	n, err := strconv.Atoi(strings.TrimSpace(t[:idx]))
	if err != nil || n <= 0 {
		return 0, "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(t[idx+len("번"):], "째"))
	if rest == "" {
		return 0, "", false
	}
	return n, rest, true
}

// normalize lowercases and trims for token comparison.
func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// trimOrdinalSuffix strips a trailing 번째/번 and reports whether one was
// present.
func trimOrdinalSuffix(t string) (string, bool) {
	if rest, ok := strings.CutSuffix(t, "번째"); ok {
		return rest, true
	}
	if rest, ok := strings.CutSuffix(t, "번"); ok {
		return rest, true
	}
	return t, false
}
