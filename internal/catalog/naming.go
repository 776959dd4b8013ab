package catalog

import (
	"regexp"
	"strings"

	"github.com/aiidateam/renku2-aiida-integration/internal/constants"
)

// Pre-compiled regexes for sanitization (compiled once at package init)
var (
	separatorRegex   = regexp.MustCompile(`[/:\\@\s.]+`)
	unsafeCharRegex  = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	multiHyphenRegex = regexp.MustCompile(`-+`)
)

// Maximum length for profile names
const maxProfileNameLength = 64

// ProfileNameFromStem derives a profile name from an archive file stem.
func ProfileNameFromStem(stem string) string {
	return sanitizeProfileName(stem)
}

// sanitizeProfileName converts s into a name verdi accepts.
func sanitizeProfileName(s string) string {
	// Replace path separators, dots and whitespace with hyphens
	name := separatorRegex.ReplaceAllString(s, "-")

	// Remove any remaining unsafe characters
	name = unsafeCharRegex.ReplaceAllString(name, "")

	// Collapse multiple hyphens
	name = multiHyphenRegex.ReplaceAllString(name, "-")

	name = strings.Trim(name, "-_")

	if len(name) > maxProfileNameLength {
		name = strings.TrimRight(name[:maxProfileNameLength], "-_")
	}

	if name == "" {
		name = constants.DefaultWritableProfile
	}

	return name
}
