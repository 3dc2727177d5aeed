package chain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var refPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_\-]+(?:\.[a-zA-Z0-9_\-]+)*)\}\}`)

// interpolateArgs walks the argument tree and substitutes
// {{stepId.path.to.field}} references with stringified values from
// completed steps. Unresolvable references are left untouched.
func interpolateArgs(args map[string]any, values map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = interpolateValue(v, values)
	}
	return out
}

func interpolateValue(v any, values map[string]any) any {
	switch t := v.(type) {
	case string:
		return interpolateString(t, values)
	case map[string]any:
		return interpolateArgs(t, values)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = interpolateValue(e, values)
		}
		return out
	default:
		return v
	}
}

func interpolateString(s string, values map[string]any) string {
	return refPattern.ReplaceAllStringFunc(s, func(match string) string {
		ref := match[2 : len(match)-2]
		parts := strings.Split(ref, ".")

		val, ok := values[parts[0]]
		if !ok {
			return match
		}
		for _, field := range parts[1:] {
			m, ok := val.(map[string]any)
			if !ok {
				return match
			}
			val, ok = m[field]
			if !ok {
				return match
			}
		}
		return stringify(val)
	})
}

// stringify renders a resolved value the way string templating expects:
// numbers as decimal strings, objects as "[object Object]".
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		return "[object Object]"
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", t)
	}
}
