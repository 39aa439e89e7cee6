package media

import (
	"strconv"
	"strings"
)

// ExtractVTTText turns WebVTT subtitle content into plain transcript text.
//
// It keeps only cue payload lines, strips styling and karaoke timing tags,
// decodes the common HTML entities YouTube emits, and collapses the rolling
// duplicates of auto-generated captions, where each cue repeats the last
// line of the previous one. Lines are joined with single spaces.
func ExtractVTTText(content string) string {
	var (
		kept  []string
		last  string
		inCue bool
	)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")

		if strings.TrimSpace(line) == "" {
			inCue = false
			continue
		}
		if strings.Contains(line, "-->") {
			inCue = true
			continue
		}
		// Anything before the first timing line is header or cue identifier.
		if !inCue {
			continue
		}

		text := strings.TrimSpace(decodeEntities(stripCueTags(line)))
		if text == "" || text == last {
			continue
		}
		kept = append(kept, text)
		last = text
	}

	return strings.Join(kept, " ")
}

// ExtractVTTWindow returns the transcript text of the cues overlapping the
// [start, end] window, given in seconds. The same tag stripping and
// duplicate collapsing as ExtractVTTText applies. An empty result means no
// cue text falls inside the window.
func ExtractVTTWindow(content string, start, end float64) string {
	var (
		kept   []string
		last   string
		inCue  bool
		inside bool
	)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")

		if strings.TrimSpace(line) == "" {
			inCue = false
			continue
		}
		if i := strings.Index(line, "-->"); i >= 0 {
			inCue = true
			cueStart, okStart := parseVTTTimestamp(line[:i])
			cueEnd, okEnd := parseVTTTimestamp(firstField(line[i+3:]))
			inside = okStart && okEnd && cueStart < end && cueEnd > start
			continue
		}
		if !inCue || !inside {
			continue
		}

		text := strings.TrimSpace(decodeEntities(stripCueTags(line)))
		if text == "" || text == last {
			continue
		}
		kept = append(kept, text)
		last = text
	}

	return strings.Join(kept, " ")
}

// parseVTTTimestamp parses "HH:MM:SS.mmm" or "MM:SS.mmm" into seconds.
func parseVTTTimestamp(s string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0, false
		}
		total = total*60 + v
	}
	return total, true
}

// firstField isolates the end timestamp from the cue settings that may
// follow it ("00:00:06.000 align:start position:0%").
func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// stripCueTags removes <...> spans: styling tags like <c> and </c>, voice
// tags like <v Name>, and inline karaoke timestamps like <00:00:01.240>.
// A minimal state machine is enough for the markup YouTube produces.
func stripCueTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

func decodeEntities(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}
	return entityReplacer.Replace(s)
}
