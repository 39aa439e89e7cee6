package benchcache

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Normalize reduces a channel URL or handle to its canonical form so that
// every way of writing the same channel produces the same cache key:
//
//	https://www.youtube.com/@HaniTV/videos → @hanitv
//	youtube.com/channel/UCabc123          → channel/UCabc123
//	https://youtube.com/c/HaniTV/         → c/hanitv
//	@HaniTV                               → @hanitv
//	HaniTV                                → @hanitv
//
// Channel IDs keep their case (they are case-sensitive); handles and custom
// names are lowercased. Normalize is idempotent.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if decoded, err := url.QueryUnescape(s); err == nil {
		s = strings.TrimSpace(decoded)
	}
	for strings.HasSuffix(s, "/") {
		s = s[:len(s)-1]
	}
	if s == "" {
		return ""
	}

	// Strip scheme and host down to the path.
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(strings.ToLower(s), prefix) {
			s = s[len(prefix):]
			break
		}
	}
	for _, prefix := range []string{"www.", "m."} {
		if strings.HasPrefix(strings.ToLower(s), prefix) {
			s = s[len(prefix):]
			break
		}
	}
	if strings.HasPrefix(strings.ToLower(s), "youtube.com/") {
		s = s[len("youtube.com/"):]
	}

	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(s, "@"):
		return "@" + strings.ToLower(firstSegment(s[1:]))

	case strings.HasPrefix(lower, "channel/"):
		// Channel IDs are case-sensitive.
		return "channel/" + firstSegment(s[len("channel/"):])

	case strings.HasPrefix(lower, "c/"):
		return "c/" + strings.ToLower(firstSegment(s[len("c/"):]))

	case strings.HasPrefix(lower, "user/"):
		// Legacy user URLs behave like custom names.
		return "c/" + strings.ToLower(firstSegment(s[len("user/"):]))

	case !strings.ContainsAny(s, "/?"):
		// A bare handle-looking token.
		return "@" + lower

	default:
		// Unknown path form. Lowercasing keeps repeated normalization stable.
		return lower
	}
}

// firstSegment cuts off any trailing path or query after the identifying part.
func firstSegment(s string) string {
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		return s[:i]
	}
	return s
}

// NormalizeAll normalizes every URL, dropping entries that reduce to nothing.
func NormalizeAll(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if n := Normalize(u); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Key derives the cache key for a set of channel URLs: the normalized forms
// are sorted, joined with "|", and hashed; the key is the first 16 hex
// characters of the MD5 digest. Order of the input does not matter.
func Key(urls []string) string {
	normalized := NormalizeAll(urls)
	sort.Strings(normalized)
	return shortHash(strings.Join(normalized, "|"))
}

// urlHash derives the index-file hash for one normalized URL.
func urlHash(normalized string) string {
	return shortHash(normalized)
}

// shortHash returns the first 16 hex characters of the MD5 of s.
func shortHash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
