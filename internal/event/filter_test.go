package event

import "testing"

func TestMatchTypeGlob(t *testing.T) {
	cases := []struct {
		eventType, pattern string
		want               bool
	}{
		{"file.changed", "file.*", true},
		{"webhook.received", "file.*", false},
		{"file.changed", "file.changed", true},
		{"file.changed", "file.change", false},
		{"anything.at.all", "*", true},
	}
	for _, tc := range cases {
		if got := MatchTypeGlob(tc.eventType, tc.pattern); got != tc.want {
			t.Fatalf("MatchTypeGlob(%q, %q) = %v, want %v", tc.eventType, tc.pattern, got, tc.want)
		}
	}
}

func TestGetByPath(t *testing.T) {
	root := map[string]any{
		"payload": map[string]any{
			"items": []any{
				map[string]any{"name": "a"},
			},
			"count": float64(2),
		},
	}

	if v, ok := GetByPath(root, "payload.items[0].name"); !ok || v != "a" {
		t.Fatalf("expected \"a\", got %v (ok=%v)", v, ok)
	}
	if _, ok := GetByPath(root, "payload.items[1].name"); ok {
		t.Fatalf("out-of-range index must resolve to nothing")
	}
	if _, ok := GetByPath(root, "payload.missing.deeper"); ok {
		t.Fatalf("missing segment must resolve to nothing")
	}
	if _, ok := GetByPath(root, "payload.count.nested"); ok {
		t.Fatalf("non-object parent must resolve to nothing")
	}
}

func TestMatchesFilterDimensions(t *testing.T) {
	evt := Event{
		Type:   "file.changed",
		Source: "watcher-1",
		Payload: map[string]any{
			"path": "/tmp/notes.txt",
			"size": float64(120),
			"tags": []any{"inbox", "todo"},
		},
	}

	if !MatchesFilter(evt, Filter{}) {
		t.Fatalf("empty filter matches everything")
	}
	if !MatchesFilter(evt, Filter{Types: []string{"webhook.*", "file.*"}}) {
		t.Fatalf("any type pattern matching should suffice")
	}
	if MatchesFilter(evt, Filter{Sources: []string{"watcher-2"}}) {
		t.Fatalf("source mismatch must fail the filter")
	}
	if !MatchesFilter(evt, Filter{
		Types: []string{"file.*"},
		Rules: []Rule{
			{Field: "payload.path", Op: OpContains, Value: "notes"},
			{Field: "payload.size", Op: OpGt, Value: 100},
		},
	}) {
		t.Fatalf("all rules hold, filter should pass")
	}
	if MatchesFilter(evt, Filter{
		Rules: []Rule{
			{Field: "payload.path", Op: OpContains, Value: "notes"},
			{Field: "payload.size", Op: OpLt, Value: 100},
		},
	}) {
		t.Fatalf("one failing rule must fail the filter")
	}
}

func TestRuleOperatorEdges(t *testing.T) {
	evt := Event{
		Type: "custom.tick",
		Payload: map[string]any{
			"name":  "report",
			"count": float64(3),
			"tags":  []any{"a", "b"},
		},
	}

	match := func(rule Rule) bool {
		return MatchesFilter(evt, Filter{Rules: []Rule{rule}})
	}

	if !match(Rule{Field: "payload.count", Op: OpEq, Value: 3}) {
		t.Fatalf("numeric eq should coerce int rule value")
	}
	if !match(Rule{Field: "payload.missing", Op: OpNeq, Value: "x"}) {
		t.Fatalf("neq on a missing field matches")
	}
	if !match(Rule{Field: "payload.tags", Op: OpContains, Value: "a"}) {
		t.Fatalf("contains should test array membership")
	}
	if match(Rule{Field: "payload.name", Op: OpMatches, Value: "([invalid"}) {
		t.Fatalf("invalid regexp must be treated as no-match")
	}
	if !match(Rule{Field: "payload.name", Op: OpMatches, Value: "^rep"}) {
		t.Fatalf("valid regexp should match")
	}
	if match(Rule{Field: "payload.name", Op: OpGt, Value: 1}) {
		t.Fatalf("gt on non-numeric operand never matches")
	}
	if !match(Rule{Field: "payload.name", Op: OpIn, Value: []any{"report", "digest"}}) {
		t.Fatalf("in should match list membership")
	}
	if match(Rule{Field: "payload.name", Op: OpIn, Value: "report"}) {
		t.Fatalf("in with a non-array rule value never matches")
	}
	if !match(Rule{Field: "payload.name", Op: OpNin, Value: []any{"digest"}}) {
		t.Fatalf("nin should match when absent from the list")
	}
}
