package event

import (
	"regexp"
	"strconv"
	"strings"
)

// MatchesFilter reports whether evt passes every dimension of filter.
// Types and Sources are OR-matched within themselves, Rules are
// AND-matched. A zero filter matches everything.
func MatchesFilter(evt Event, filter Filter) bool {
	if len(filter.Types) > 0 {
		matched := false
		for _, pattern := range filter.Types {
			if MatchTypeGlob(evt.Type, pattern) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(filter.Sources) > 0 {
		matched := false
		for _, src := range filter.Sources {
			if src == evt.Source {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, rule := range filter.Rules {
		if !matchRule(evt, rule) {
			return false
		}
	}
	return true
}

// MatchTypeGlob matches an event type against a pattern: exact equality,
// "*" for any type, or a single trailing wildcard like "file.*".
func MatchTypeGlob(eventType, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(eventType, prefix)
	}
	return eventType == pattern
}

func matchRule(evt Event, rule Rule) bool {
	value, ok := GetByPath(map[string]any{
		"id":        evt.ID,
		"type":      evt.Type,
		"source":    evt.Source,
		"timestamp": evt.Timestamp,
		"payload":   evt.Payload,
	}, rule.Field)

	switch rule.Op {
	case OpEq:
		return ok && looseEqual(value, rule.Value)
	case OpNeq:
		return !ok || !looseEqual(value, rule.Value)
	case OpContains:
		return ok && contains(value, rule.Value)
	case OpMatches:
		s, isStr := value.(string)
		pattern, patStr := rule.Value.(string)
		if !ok || !isStr || !patStr {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Invalid patterns never match, never error.
			return false
		}
		return re.MatchString(s)
	case OpGt:
		a, aok := toFloat(value)
		b, bok := toFloat(rule.Value)
		return ok && aok && bok && a > b
	case OpLt:
		a, aok := toFloat(value)
		b, bok := toFloat(rule.Value)
		return ok && aok && bok && a < b
	case OpIn:
		return ok && inList(value, rule.Value)
	case OpNin:
		return !ok || !inList(value, rule.Value)
	default:
		return false
	}
}

// GetByPath resolves a dotted path with optional bracket indices
// ("payload.items[0].name") against root. Any unresolvable segment
// yields (nil, false); it never panics.
func GetByPath(root map[string]any, path string) (any, bool) {
	var current any = root
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil, false
		}
		name := segment
		var indices []int
		for {
			open := strings.Index(name, "[")
			if open < 0 {
				break
			}
			closing := strings.Index(name[open:], "]")
			if closing < 0 {
				return nil, false
			}
			idx, err := strconv.Atoi(name[open+1 : open+closing])
			if err != nil {
				return nil, false
			}
			indices = append(indices, idx)
			name = name[:open] + name[open+closing+1:]
		}
		if name != "" {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = obj[name]
			if !ok {
				return nil, false
			}
		}
		for _, idx := range indices {
			list, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(list) {
				return nil, false
			}
			current = list[idx]
		}
	}
	return current, true
}

// looseEqual compares with numeric coercion so that a JSON-decoded
// float64(3) equals a rule value of int(3).
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(h, n)
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func inList(value, listValue any) bool {
	list, ok := listValue.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if looseEqual(item, value) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}
