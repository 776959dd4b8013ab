// Package locator parses dataset locators of the form
// <base>/records/<record_id>/files/<filename>[/content].
//
// Parse is total: every input maps to exactly one of Absent, Invalid or Valid,
// and later stages only ever see the parsed value.
package locator

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/aiidateam/renku2-aiida-integration/internal/constants"
)

// Kind tags a parsed locator.
type Kind int

const (
	Absent Kind = iota
	Invalid
	Valid
)

func (k Kind) String() string {
	switch k {
	case Absent:
		return "absent"
	case Invalid:
		return "invalid"
	case Valid:
		return "valid"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Locator is an immutable parsed dataset locator.
type Locator struct {
	Kind Kind

	// Raw is the input as supplied, untrimmed.
	Raw string

	// Reason explains why an Invalid locator was rejected.
	Reason string

	// Normalized, RecordID and FileName are only set for Valid locators.
	Normalized string
	RecordID   string
	FileName   string
}

// Parse classifies and normalizes raw.
func Parse(raw string) Locator {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Locator{Kind: Absent, Raw: raw}
	}

	normalized := stripContentSuffix(trimmed)
	invalid := func(reason string) Locator {
		return Locator{Kind: Invalid, Raw: raw, Reason: reason}
	}

	recordIdx := strings.Index(normalized, constants.RecordsSegment)
	if recordIdx < 0 {
		return invalid("missing " + constants.RecordsSegment + " segment")
	}
	rest := normalized[recordIdx+len(constants.RecordsSegment):]
	filesIdx := strings.Index(rest, constants.FilesSegment)
	if filesIdx < 0 {
		return invalid("missing " + constants.FilesSegment + " segment")
	}

	recordID := firstSegment(rest)
	if recordID == "" || filesIdx < len(recordID) {
		return invalid("empty record identifier")
	}

	encodedName := firstSegment(rest[filesIdx+len(constants.FilesSegment):])
	fileName, err := url.PathUnescape(encodedName)
	if err != nil {
		return invalid(fmt.Sprintf("malformed file name %q: %v", encodedName, err))
	}
	fileName = norm.NFC.String(fileName)
	if !strings.HasSuffix(fileName, constants.ArchiveExtension) ||
		len(fileName) == len(constants.ArchiveExtension) {
		return invalid("file name must end in " + constants.ArchiveExtension)
	}

	return Locator{
		Kind:       Valid,
		Raw:        raw,
		Normalized: normalized,
		RecordID:   recordID,
		FileName:   fileName,
	}
}

func stripContentSuffix(s string) string {
	s = strings.TrimRight(s, "/")
	if strings.HasSuffix(s, constants.ContentSuffix) {
		s = strings.TrimSuffix(s, constants.ContentSuffix)
		s = strings.TrimRight(s, "/")
	}
	return s
}

func firstSegment(s string) string {
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		return s[:i]
	}
	return s
}

// IsValid reports whether l can be used for fetching and provisioning.
func (l Locator) IsValid() bool {
	return l.Kind == Valid
}

// Equal compares two locators by normalized form. Non-valid locators are never equal.
func (l Locator) Equal(other Locator) bool {
	return l.IsValid() && other.IsValid() && l.Normalized == other.Normalized
}

// Stem returns the file name without the archive extension.
func (l Locator) Stem() string {
	if !l.IsValid() {
		return ""
	}
	return strings.TrimSuffix(l.FileName, path.Ext(l.FileName))
}

// Host returns scheme://host of a valid locator, or "" when it has none.
func (l Locator) Host() string {
	if !l.IsValid() {
		return ""
	}
	u, err := url.Parse(l.Normalized)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func (l Locator) String() string {
	switch l.Kind {
	case Valid:
		return l.Normalized
	case Invalid:
		return fmt.Sprintf("invalid(%s)", l.Reason)
	default:
		return "absent"
	}
}
