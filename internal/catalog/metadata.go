// Package catalog resolves dataset locators to descriptive metadata using the
// remote archive catalog and keeps the result in the session's cache slot.
package catalog

import (
	"github.com/aiidateam/renku2-aiida-integration/internal/locator"
)

// Metadata describes the dataset bound to a session. Title, DOI and MCAEntry
// are empty when the catalog could not be reached.
type Metadata struct {
	ArchiveURL      string `json:"archive_url"`
	ArchiveFilename string `json:"archive_filename"`
	RecordID        string `json:"record_id"`
	Title           string `json:"title,omitempty"`
	DOI             string `json:"doi,omitempty"`
	MCAEntry        string `json:"mca_entry,omitempty"`
	AiidaProfile    string `json:"aiida_profile"`
}

// Degraded reports whether m was synthesized without catalog data.
func (m Metadata) Degraded() bool {
	return m.Title == ""
}

// DOIURL returns the resolver URL for the DOI, or "" when there is none.
func (m Metadata) DOIURL() string {
	if m.DOI == "" {
		return ""
	}
	return "https://doi.org/" + m.DOI
}

// DegradedMetadata builds the minimal record available without the catalog.
func DegradedMetadata(loc locator.Locator) Metadata {
	return Metadata{
		ArchiveURL:      loc.Normalized,
		ArchiveFilename: loc.FileName,
		RecordID:        loc.RecordID,
		AiidaProfile:    ProfileNameFromStem(loc.Stem()),
	}
}
