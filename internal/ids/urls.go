package ids

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// greedyTemplate matches from the first '{' to the last '}' in the string.
// Connectors emit one trailing template block in practice; when they emit
// more, everything between the outermost braces goes, literal ids included.
var greedyTemplate = regexp.MustCompile(`\{.*\}`)

var trailingTemplate = regexp.MustCompile(`\{[^{}]*\}$`)

// StripTemplate removes URI-template text with the greedy rule.
func StripTemplate(href string) string {
	return strings.TrimSpace(greedyTemplate.ReplaceAllString(href, ""))
}

// StripTrailingTemplate removes only a trailing "{...}" block such as
// "{?page,size}", leaving earlier placeholders untouched.
func StripTrailingTemplate(href string) string {
	return strings.TrimSpace(trailingTemplate.ReplaceAllString(strings.TrimSpace(href), ""))
}

// CutTemplate drops everything from the first '{' onward.
func CutTemplate(href string) string {
	before, _, _ := strings.Cut(href, "{")
	return before
}

// NormalizeBase makes base end with exactly one slash. Empty stays empty.
func NormalizeBase(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/"
}

// Rebase keeps only the path of href and re-roots it under base, which must
// already end in '/'. Hosts and queries in href are discarded so follow-up
// calls stay pinned to the configured connector.
func Rebase(base, href string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", href, err)
	}
	path := u.Path
	if u.RawPath != "" {
		path = u.RawPath
	}
	return base + strings.TrimLeft(path, "/"), nil
}

// RebaseTemplated strips a trailing template block, then rebases.
func RebaseTemplated(base, href string) (string, error) {
	return Rebase(base, StripTrailingTemplate(href))
}

// Absolute resolves a possibly relative href against base.
func Absolute(base, href string) string {
	switch {
	case strings.HasPrefix(href, "/"):
		return base + strings.TrimLeft(href, "/")
	case strings.HasPrefix(href, "http"):
		return href
	default:
		return base + href
	}
}

// WithTrailingSlash appends '/' if missing.
func WithTrailingSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

// WithPage appends page and size query parameters.
func WithPage(u string, page, size int) string {
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d&size=%d", u, sep, page, size)
}

// LastSegment returns the final non-empty path segment of u.
func LastSegment(u string) string {
	trimmed := strings.TrimRight(u, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
