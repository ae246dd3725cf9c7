package dom

import (
	"strings"
	"unicode"
)

// SplitTarget splits a compound target into its locator and selector parts.
// Targets take three forms: "<locator> <selector>", a bare locator, or a
// bare selector. The head token is a locator when it has a url scheme or a
// path shape; otherwise the whole target is selector text, which may itself
// contain spaces ("ul > li.item").
func SplitTarget(target string) (string, string) {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return "", ""
	}
	head := trimmed
	rest := ""
	if i := strings.IndexFunc(trimmed, unicode.IsSpace); 0 <= i {
		head = trimmed[:i]
		rest = strings.TrimSpace(trimmed[i:])
	}
	if isLocator(head) {
		return head, rest
	}
	return "", trimmed
}

func isLocator(token string) bool {
	if strings.Contains(token, "://") {
		return true
	}
	if strings.HasPrefix(token, "/") || strings.HasPrefix(token, "./") || strings.HasPrefix(token, "../") {
		return true
	}
	// selector lead characters rule out a bare relative path like "a/b"
	switch token[0] {
	case '#', '.', '[', '*', ':':
		return false
	}
	return strings.Contains(token, "/")
}
