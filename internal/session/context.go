package session

// Ctx is the session's accumulated stage output, keyed by well-known names.
// Values round-trip through JSON, so numbers loaded from a store arrive as
// float64 regardless of how they were written; the typed getters below accept
// both forms. A getter whose key is missing or holds the wrong type returns
// the zero value.
type Ctx map[string]any

// Has reports whether key is present, regardless of its value.
func (c Ctx) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// Str returns the string under key.
func (c Ctx) Str(key string) string {
	s, _ := c[key].(string)
	return s
}

// Int returns the integer under key. JSON numbers (float64) are truncated.
func (c Ctx) Int(key string) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Float returns the float under key, accepting integer values too.
func (c Ctx) Float(key string) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Bool returns the boolean under key.
func (c Ctx) Bool(key string) bool {
	b, _ := c[key].(bool)
	return b
}

// Map returns the nested object under key.
func (c Ctx) Map(key string) Ctx {
	switch v := c[key].(type) {
	case Ctx:
		return v
	case map[string]any:
		return Ctx(v)
	}
	return nil
}

// Slice returns the raw array under key.
func (c Ctx) Slice(key string) []any {
	s, _ := c[key].([]any)
	return s
}

// StrSlice returns the array of strings under key. It accepts both []string
// (set in memory) and []any of strings (loaded from JSON); non-string
// elements are skipped.
func (c Ctx) StrSlice(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// MapSlice returns the array of objects under key, skipping non-object
// elements.
func (c Ctx) MapSlice(key string) []Ctx {
	raw, ok := c[key].([]any)
	if !ok {
		// Also accept the in-memory form.
		if ms, ok := c[key].([]map[string]any); ok {
			out := make([]Ctx, len(ms))
			for i, m := range ms {
				out[i] = Ctx(m)
			}
			return out
		}
		return nil
	}
	out := make([]Ctx, 0, len(raw))
	for _, e := range raw {
		if m, ok := e.(map[string]any); ok {
			out = append(out, Ctx(m))
		}
	}
	return out
}

// Merge copies every key of other into c, overwriting existing keys.
func (c Ctx) Merge(other map[string]any) {
	for k, v := range other {
		c[k] = v
	}
}
