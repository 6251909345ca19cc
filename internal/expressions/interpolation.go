// Package expressions provides token interpolation for action inputs and
// jq-based extraction of values from structured action results.
package expressions

import (
	"os"
	"regexp"
	"strings"
)

// tokenRe matches the supported interpolation tokens. Brace content that does
// not match (JSON object literals in bodies, for example) is left untouched.
var tokenRe = regexp.MustCompile(`\{(input|output|env\.[A-Za-z_][A-Za-z0-9_]*|var\.[^{}\s]+)\}`)

// Scope holds the data available for token resolution within one instance.
type Scope struct {
	Input  string                          // value bound under the instance's input label
	Output string                          // last-result slot
	Lookup func(key string) (string, bool) // variable store access, may be nil
}

// Resolve substitutes {input}, {output}, {env.NAME} and {var.key} tokens in
// template. Tokens whose source is absent resolve to the empty string; their
// names are returned so the caller can log a warning. Non-token brace content
// passes through unchanged.
func Resolve(template string, scope Scope) (string, []string) {
	if !strings.ContainsRune(template, '{') {
		return template, nil
	}

	var missing []string
	resolved := tokenRe.ReplaceAllStringFunc(template, func(match string) string {
		token := match[1 : len(match)-1]
		switch {
		case token == "input":
			return scope.Input
		case token == "output":
			return scope.Output
		case strings.HasPrefix(token, "env."):
			name := strings.TrimPrefix(token, "env.")
			v, ok := os.LookupEnv(name)
			if !ok {
				missing = append(missing, token)
			}
			return v
		case strings.HasPrefix(token, "var."):
			key := strings.TrimPrefix(token, "var.")
			if scope.Lookup == nil {
				missing = append(missing, token)
				return ""
			}
			v, ok := scope.Lookup(key)
			if !ok {
				missing = append(missing, token)
			}
			return v
		}
		return match
	})

	return resolved, missing
}

// HasTokens reports whether template contains any interpolation tokens.
func HasTokens(template string) bool {
	return tokenRe.MatchString(template)
}
