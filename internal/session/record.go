// Package session reads and writes the per-user session records kept by the
// hosting platform. The bootstrap only ever reads them through Registry.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/aiidateam/renku2-aiida-integration/internal/constants"
	"github.com/aiidateam/renku2-aiida-integration/internal/statestore"
)

// sessionIDLength is the number of hex characters kept from the identity digest.
const sessionIDLength = 12

// Identity names the running session.
type Identity struct {
	User      string `json:"user"`
	Workspace string `json:"workspace"`
	PodName   string `json:"pod_name"`
}

// ID returns a stable short identifier for the identity.
func (i Identity) ID() string {
	raw, err := json.Marshal(i)
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:sessionIDLength]
}

// Record is the persisted binding of a user's active session to a locator.
type Record struct {
	SessionID  string    `json:"session_id"`
	User       string    `json:"user"`
	ArchiveURL string    `json:"archive_url,omitempty"`
	StartedAt  time.Time `json:"timestamp"`
	PID        int       `json:"pid,omitempty"`
	Hostname   string    `json:"hostname,omitempty"`
}

// RecordKey returns the store key holding user's record.
func RecordKey(user string) string {
	return statestore.Key(constants.RegistryPrefix, url.PathEscape(user)+".json")
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode session record: %w", err)
	}
	return rec, nil
}

func encodeRecord(rec Record) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode session record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize session record: %w", err)
	}
	return canonical, nil
}
