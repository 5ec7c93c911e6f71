// Package template resolves {{...}} placeholders in flow node configuration.
//
// The supported grammar is deliberately small: "user.<field>",
// "account.<field>", or a bare enrollment-variable key. Unresolved
// placeholders are left verbatim; resolution never fails.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Context carries the lookup scopes for one resolution pass. Variables win
// over the user/account snapshots for bare keys.
type Context struct {
	Variables map[string]any
	User      map[string]any
	Account   map[string]any
}

// Resolve substitutes every recognized placeholder in the input string.
func Resolve(input string, ctx Context) string {
	return placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		key := strings.TrimSpace(match[2 : len(match)-2])

		value, ok := lookup(key, ctx)
		if !ok {
			return match
		}

		return stringify(value)
	})
}

// ResolveMap resolves placeholders in every string value of a map, recursing
// into nested maps. Non-string values pass through untouched.
func ResolveMap(input map[string]any, ctx Context) map[string]any {
	if input == nil {
		return nil
	}

	out := make(map[string]any, len(input))

	for k, v := range input {
		switch value := v.(type) {
		case string:
			out[k] = Resolve(value, ctx)
		case map[string]any:
			out[k] = ResolveMap(value, ctx)
		default:
			out[k] = v
		}
	}

	return out
}

func lookup(key string, ctx Context) (any, bool) {
	scope, rest, found := strings.Cut(key, ".")

	if found {
		switch scope {
		case "user":
			return pathLookup(ctx.User, rest)
		case "account":
			return pathLookup(ctx.Account, rest)
		}
	}

	if ctx.Variables != nil {
		if v, ok := ctx.Variables[key]; ok {
			return v, true
		}
	}

	return nil, false
}

func pathLookup(root map[string]any, path string) (any, bool) {
	if root == nil {
		return nil, false
	}

	var current any = root

	for _, part := range strings.Split(path, ".") {
		container, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = container[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func stringify(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		// Render integral floats without a trailing ".0".
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}

		return fmt.Sprintf("%g", value)
	default:
		return fmt.Sprintf("%v", value)
	}
}
