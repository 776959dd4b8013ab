// Package state inspects a session without changing it.
package state

import (
	"context"
	"os"
	"time"

	"github.com/aiidateam/renku2-aiida-integration/internal/catalog"
	"github.com/aiidateam/renku2-aiida-integration/internal/locator"
	"github.com/aiidateam/renku2-aiida-integration/internal/orchestrator"
	"github.com/aiidateam/renku2-aiida-integration/internal/platform"
	"github.com/aiidateam/renku2-aiida-integration/internal/profile"
	"github.com/aiidateam/renku2-aiida-integration/internal/session"
	"github.com/aiidateam/renku2-aiida-integration/internal/statestore"
)

// Timeout for state detection commands
const stateCheckTimeout = 10 * time.Second

// SessionState is a snapshot of everything the bootstrap touches.
type SessionState struct {
	Host      platform.Host
	User      string
	SessionID string

	Locator locator.Locator

	Bound      bool
	BoundURL   string
	BoundSince time.Time
	Conflict   bool

	CacheExists bool
	Metadata    catalog.Metadata

	NoticeExists bool

	NotebookPath   string
	NotebookExists bool

	WritableProfile       string
	WritableProfileExists bool
	ArchiveProfileExists  bool
	ProfileCheckError     string

	BrokerRunning bool

	ArchivePath       string
	ArchiveDownloaded bool
}

// DetectorConfig holds what the detector reads. Profiles and Broker may be
// nil to skip those checks.
type DetectorConfig struct {
	User            string
	SessionID       string
	RawLocator      string
	NotebookPath    string
	WritableProfile string

	Store    statestore.Store
	Registry *session.Registry
	Profiles profile.Store
	Broker   profile.Broker
	Archives orchestrator.ArchiveResolver
}

// Detector checks the state of a session.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector creates a new state detector.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect checks all aspects of the session state. Missing pieces are
// reported as absent, never as errors.
func (d *Detector) Detect(ctx context.Context) *SessionState {
	state := &SessionState{
		Host:            platform.DetectHost(),
		User:            d.cfg.User,
		SessionID:       d.cfg.SessionID,
		Locator:         locator.Parse(d.cfg.RawLocator),
		NotebookPath:    d.cfg.NotebookPath,
		WritableProfile: d.cfg.WritableProfile,
	}

	d.checkRegistry(ctx, state)
	d.checkStore(ctx, state)

	if info, err := os.Stat(d.cfg.NotebookPath); err == nil && info.Mode().IsRegular() {
		state.NotebookExists = true
	}

	d.checkProfiles(ctx, state)
	d.checkArchive(state)

	return state
}

func (d *Detector) checkRegistry(ctx context.Context, state *SessionState) {
	if d.cfg.Registry == nil {
		return
	}
	if rec, ok := d.cfg.Registry.Lookup(ctx, d.cfg.User); ok {
		state.Bound = rec.ArchiveURL != ""
		state.BoundURL = rec.ArchiveURL
		state.BoundSince = rec.StartedAt
	}
	if state.Locator.IsValid() {
		state.Conflict = d.cfg.Registry.Conflict(ctx, d.cfg.User, state.Locator)
	}
}

func (d *Detector) checkStore(ctx context.Context, state *SessionState) {
	if d.cfg.Store == nil {
		return
	}
	if md, ok, err := catalog.NewCache(d.cfg.Store).Load(ctx, d.cfg.SessionID); err == nil && ok {
		state.CacheExists = true
		state.Metadata = md
	}
	if ok, err := d.cfg.Store.Exists(ctx, orchestrator.NoticeKey(d.cfg.SessionID)); err == nil {
		state.NoticeExists = ok
	}
}

// checkProfiles asks the profile backend and broker, each bounded by its own
// timeout.
func (d *Detector) checkProfiles(ctx context.Context, state *SessionState) {
	ctx, cancel := context.WithTimeout(ctx, stateCheckTimeout)
	defer cancel()

	if d.cfg.Profiles != nil {
		exists, err := d.cfg.Profiles.Exists(ctx, d.cfg.WritableProfile)
		if err != nil {
			state.ProfileCheckError = err.Error()
		}
		state.WritableProfileExists = exists

		if state.CacheExists && state.Metadata.AiidaProfile != "" && err == nil {
			state.ArchiveProfileExists, _ = d.cfg.Profiles.Exists(ctx, state.Metadata.AiidaProfile)
		}
	}
	if d.cfg.Broker != nil {
		state.BrokerRunning = d.cfg.Broker.Running(ctx)
	}
}

func (d *Detector) checkArchive(state *SessionState) {
	if !state.CacheExists || d.cfg.Archives == nil {
		return
	}
	path, err := d.cfg.Archives.Path(state.Metadata)
	if err != nil {
		return
	}
	state.ArchivePath = path
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		state.ArchiveDownloaded = true
	}
}
