package persistence

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Identity provider slugs are lowercase words joined by single hyphens or underscores.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// NormalizeSlug trims and lowercases an organization slug and checks that it is URL safe.
func NormalizeSlug(input string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", errors.New("slug is required")
	}
	if len(normalized) > 100 {
		return "", fmt.Errorf("slug must be at most 100 characters")
	}
	if !slugPattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid slug %q: use lowercase letters, digits, single hyphens or underscores", input)
	}
	return normalized, nil
}
