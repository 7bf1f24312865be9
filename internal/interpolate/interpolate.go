// Package interpolate implements the {var} and {a.b.c} substitution
// grammar used throughout machine YAML configs (spec.md §4.2).
package interpolate

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// placeholder matches a single {key} or {a.b.c} token. The key grammar
// is [A-Za-z_][A-Za-z0-9_.]* per spec.md §4.2.
var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.]*)\}`)

// wholeValue matches a string value that IS a single placeholder with
// nothing else around it, enabling the whole-payload-forwarding
// special form (spec.md §4.2, §8 E3).
var wholeValue = regexp.MustCompile(`^\{([A-Za-z_][A-Za-z0-9_.]*)\}$`)

// String interpolates every {key} occurrence in template by resolving
// key as a dot-path over ctx. Missing keys leave the placeholder
// literal (with a warning log); non-string leaves are stringified.
// Non-string inputs are returned unchanged by the caller (Value does
// that dispatch; this function always takes and returns a string).
func String(template string, ctx map[string]any) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		val, ok := resolve(ctx, key)
		if !ok {
			slog.Default().Warn("interpolate: unresolved placeholder", "key", key)
			return match
		}
		return stringify(val)
	})
}

// Value interpolates a single leaf value. If v is a string equal in
// its entirety to "{a.b.c}", the resolved value is returned verbatim
// (object/list/etc., not stringified) — the whole-payload-forwarding
// special form. Otherwise, string values run through String; non-string
// values are returned unchanged.
func Value(v any, ctx map[string]any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if m := wholeValue.FindStringSubmatch(s); m != nil {
		if resolved, ok := resolve(ctx, m[1]); ok {
			return resolved
		}
		slog.Default().Warn("interpolate: unresolved whole-value placeholder", "key", m[1])
		return s
	}
	return String(s, ctx)
}

// Dict structurally recurses over a config value (maps, slices, and
// leaves), applying Value to every leaf. Map keys are never
// interpolated. The result is a fresh value; config is not mutated.
func Dict(config any, ctx map[string]any) any {
	switch v := config.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = Dict(val, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = Dict(val, ctx)
		}
		return out
	default:
		return Value(v, ctx)
	}
}

// resolve walks ctx by dot-path. Every non-leaf segment must resolve
// to a map[string]any; any other shape (missing key, non-map
// intermediate) is treated as unresolved.
func resolve(ctx map[string]any, dotpath string) (any, bool) {
	parts := strings.Split(dotpath, ".")
	var cur any = ctx
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		val, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = val
	}
	return cur, true
}

// stringify converts a resolved leaf to its string form for
// substitution into template text.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
