// Package expr implements input resolution for workflow steps: dotted
// key-path lookup over the immutable run scope (event payload + prior step
// outputs + loop item), template interpolation of step inputs, and CEL
// evaluation of decision-branch conditions.
//
// Missing-path behavior is deliberately centralized here: a path that does
// not resolve yields an explicit nil, never a panic, so that the executor
// has a single well-tested code path for "empty vs required-field failure".
package expr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// tmplRe matches {{ dotted.key.path }} template references.
var tmplRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Lookup resolves a dotted key path against a nested scope. Path segments
// traverse map[string]any keys and []any numeric indexes. The boolean
// reports whether the full path resolved; a resolved nil value returns
// (nil, true).
func Lookup(path string, scope map[string]any) (any, bool) {
	if path == "" {
		return nil, false
	}

	var cur any = scope
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Interpolate resolves every {{path}} template reference in value against
// the scope, recursing through maps and slices. A string that is exactly
// one template is replaced by the referenced value itself (preserving its
// type); templates embedded in a longer string are stringified. References
// that do not resolve become nil (whole-string form) or the empty string
// (embedded form).
func Interpolate(value any, scope map[string]any) any {
	switch v := value.(type) {
	case string:
		return interpolateString(v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = Interpolate(elem, scope)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = Interpolate(elem, scope)
		}
		return out
	default:
		return value
	}
}

// InterpolateInput resolves a step's declared input map against the scope.
// A nil input yields an empty map so actions always receive a non-nil input.
func InterpolateInput(input map[string]any, scope map[string]any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	resolved, _ := Interpolate(input, scope).(map[string]any)
	return resolved
}

// MissingRequired returns the required keys whose resolved value is nil
// or absent, in declaration order.
func MissingRequired(resolved map[string]any, required []string) []string {
	var missing []string
	for _, key := range required {
		v, ok := resolved[key]
		if !ok || v == nil {
			missing = append(missing, key)
		}
	}
	return missing
}

func interpolateString(s string, scope map[string]any) any {
	matches := tmplRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	// Whole-string template: return the referenced value as-is.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := s[matches[0][2]:matches[0][3]]
		v, _ := Lookup(path, scope)
		return v
	}

	// Embedded templates: stringify each resolved reference.
	return tmplRe.ReplaceAllStringFunc(s, func(m string) string {
		path := strings.TrimSpace(m[2 : len(m)-2])
		v, ok := Lookup(path, scope)
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	})
}
