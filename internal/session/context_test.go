package session

import (
	"encoding/json"
	"testing"
)

func TestCtx_TypedGetters(t *testing.T) {
	c := Ctx{
		"name":    "달려라 하니",
		"count":   3,
		"ratio":   0.75,
		"enabled": true,
		"nested":  map[string]any{"style": "cartoon"},
		"tags":    []string{"a", "b"},
	}

	if got := c.Str("name"); got != "달려라 하니" {
		t.Errorf("Str = %q", got)
	}
	if got := c.Int("count"); got != 3 {
		t.Errorf("Int = %d", got)
	}
	if got := c.Float("ratio"); got != 0.75 {
		t.Errorf("Float = %v", got)
	}
	if got := c.Float("count"); got != 3 {
		t.Errorf("Float from int = %v", got)
	}
	if !c.Bool("enabled") {
		t.Error("Bool = false")
	}
	if got := c.Map("nested").Str("style"); got != "cartoon" {
		t.Errorf("Map.Str = %q", got)
	}
	if got := c.StrSlice("tags"); len(got) != 2 || got[0] != "a" {
		t.Errorf("StrSlice = %v", got)
	}
	if !c.Has("name") || c.Has("absent") {
		t.Error("Has misreported")
	}
}

func TestCtx_ZeroValuesForMissingOrWrongType(t *testing.T) {
	c := Ctx{"s": "text"}

	if c.Str("missing") != "" {
		t.Error("Str(missing) != \"\"")
	}
	if c.Int("s") != 0 {
		t.Error("Int(wrong type) != 0")
	}
	if c.Float("missing") != 0 {
		t.Error("Float(missing) != 0")
	}
	if c.Bool("s") {
		t.Error("Bool(wrong type) != false")
	}
	if c.Map("s") != nil {
		t.Error("Map(wrong type) != nil")
	}
	if c.StrSlice("s") != nil {
		t.Error("StrSlice(wrong type) != nil")
	}
	if c.MapSlice("s") != nil {
		t.Error("MapSlice(wrong type) != nil")
	}
}

// TestCtx_SurvivesJSONRoundTrip covers the exact degradation the stores
// produce: numbers come back as float64 and typed slices as []any.
func TestCtx_SurvivesJSONRoundTrip(t *testing.T) {
	orig := Ctx{
		"count":  20,
		"weight": 0.85,
		"names":  []string{"하니", "홍두깨"},
		"ideas": []map[string]any{
			{"title": "첫 번째", "rank": 1},
			{"title": "두 번째", "rank": 2},
		},
		"character": map[string]any{"style": "cartoon", "age": 11},
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var c Ctx
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got := c.Int("count"); got != 20 {
		t.Errorf("Int after round trip = %d, want 20", got)
	}
	if got := c.Float("weight"); got != 0.85 {
		t.Errorf("Float after round trip = %v, want 0.85", got)
	}
	if got := c.StrSlice("names"); len(got) != 2 || got[1] != "홍두깨" {
		t.Errorf("StrSlice after round trip = %v", got)
	}

	ideas := c.MapSlice("ideas")
	if len(ideas) != 2 {
		t.Fatalf("MapSlice len = %d, want 2", len(ideas))
	}
	if ideas[0].Str("title") != "첫 번째" || ideas[0].Int("rank") != 1 {
		t.Errorf("idea 0 = %+v", ideas[0])
	}

	char := c.Map("character")
	if char.Str("style") != "cartoon" || char.Int("age") != 11 {
		t.Errorf("character = %+v", char)
	}
}

func TestCtx_Merge(t *testing.T) {
	c := Ctx{"keep": "old", "replace": "old"}
	c.Merge(map[string]any{"replace": "new", "added": 7})

	if c.Str("keep") != "old" {
		t.Error("Merge dropped untouched key")
	}
	if c.Str("replace") != "new" {
		t.Error("Merge did not overwrite")
	}
	if c.Int("added") != 7 {
		t.Error("Merge did not add new key")
	}
}

func TestCtx_MapSliceInMemoryForm(t *testing.T) {
	c := Ctx{
		"rows": []map[string]any{{"k": "v"}},
	}
	rows := c.MapSlice("rows")
	if len(rows) != 1 || rows[0].Str("k") != "v" {
		t.Errorf("MapSlice in-memory form = %+v", rows)
	}
}
