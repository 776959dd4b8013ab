package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aiidateam/renku2-aiida-integration/internal/catalog"
	bterrors "github.com/aiidateam/renku2-aiida-integration/internal/errors"
	"github.com/aiidateam/renku2-aiida-integration/internal/profile"
	"github.com/aiidateam/renku2-aiida-integration/internal/statestore"
)

var (
	// ErrNoMetadata is returned when the session has no cached archive metadata.
	ErrNoMetadata = errors.New("no archive metadata")

	// ErrDeclined is returned when the user declines to continue past a conflict.
	ErrDeclined = errors.New("provisioning cancelled")
)

// Downloader fetches an archive file to local disk.
type Downloader interface {
	Fetch(ctx context.Context, md catalog.Metadata) (path string, reused bool, err error)
}

// ArchiveProvisioning holds the collaborators of the user-triggered step.
type ArchiveProvisioning struct {
	SessionID   string
	Store       statestore.Store
	Downloader  Downloader
	Provisioner Provisioner

	// Confirm is asked before continuing when a conflict notice is present.
	// A nil Confirm continues without asking.
	Confirm func(notice string) (bool, error)

	Logger *slog.Logger
}

// ArchiveResult reports what ProvisionArchive did.
type ArchiveResult struct {
	Metadata    catalog.Metadata
	ArchivePath string
	Reused      bool
	Outcome     profile.Outcome
}

// ProvisionArchive downloads the session's archive and creates its read-only
// profile. It is the deferred half of an archive bootstrap.
func ProvisionArchive(ctx context.Context, p ArchiveProvisioning) (ArchiveResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	md, ok, err := catalog.NewCache(p.Store).Load(ctx, p.SessionID)
	if err != nil {
		logger.Warn("cached archive metadata is unusable", "error", err)
		return ArchiveResult{}, ErrNoMetadata
	}
	if !ok {
		return ArchiveResult{}, ErrNoMetadata
	}
	res := ArchiveResult{Metadata: md}

	notice, err := p.Store.Get(ctx, NoticeKey(p.SessionID))
	switch {
	case err == nil && p.Confirm != nil:
		proceed, err := p.Confirm(string(notice))
		if err != nil {
			return res, fmt.Errorf("confirmation failed: %w", err)
		}
		if !proceed {
			return res, ErrDeclined
		}
	case err == nil:
		logger.Warn("continuing despite a session conflict", "session_id", p.SessionID)
	case !errors.Is(err, statestore.ErrNotFound):
		logger.Warn("could not read conflict notice", "error", err)
	}

	path, reused, err := p.Downloader.Fetch(ctx, md)
	if err != nil {
		return res, bterrors.Wrap(fmt.Errorf("download archive: %w", err), bterrors.KindProfileCreationFailed,
			"check the network connection and re-run provisioning")
	}
	res.ArchivePath = path
	res.Reused = reused

	outcome, err := p.Provisioner.Ensure(ctx, md.AiidaProfile, profile.ReadOnlyArchive(path))
	if err != nil {
		return res, err
	}
	res.Outcome = outcome
	return res, nil
}
