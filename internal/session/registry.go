package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	bterrors "github.com/aiidateam/renku2-aiida-integration/internal/errors"
	"github.com/aiidateam/renku2-aiida-integration/internal/locator"
	"github.com/aiidateam/renku2-aiida-integration/internal/statestore"
)

// Registry is a read-only, best-effort view of session records.
//
// Records are written by another process and may be missing, half-written or
// left behind by a session that already ended. All of these read as "no
// binding": a missed conflict is acceptable, a failed bootstrap is not.
type Registry struct {
	store      statestore.Store
	clock      clockwork.Clock
	staleAfter time.Duration
	logger     *slog.Logger
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithClock sets the clock used for staleness checks.
func WithClock(clock clockwork.Clock) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

// WithStaleAfter ignores records older than d. Zero disables the check.
func WithStaleAfter(d time.Duration) RegistryOption {
	return func(r *Registry) { r.staleAfter = d }
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

func NewRegistry(store statestore.Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:  store,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the live record for user, if any.
func (r *Registry) Lookup(ctx context.Context, user string) (Record, bool) {
	user = strings.TrimSpace(user)
	if user == "" || r.store == nil {
		return Record{}, false
	}

	data, err := r.store.Get(ctx, RecordKey(user))
	if errors.Is(err, statestore.ErrNotFound) {
		return Record{}, false
	}
	if err != nil {
		r.logger.Warn("session registry unavailable, assuming no binding",
			"user", user,
			"error", bterrors.Wrap(err, bterrors.KindRegistryUnavailable, ""),
		)
		return Record{}, false
	}

	rec, err := decodeRecord(data)
	if err != nil {
		r.logger.Warn("ignoring unreadable session record", "user", user, "error", err)
		return Record{}, false
	}
	if rec.User != "" && rec.User != user {
		r.logger.Debug("session record belongs to another user", "user", user, "record_user", rec.User)
		return Record{}, false
	}
	if r.stale(rec) {
		r.logger.Debug("ignoring stale session record", "user", user, "started_at", rec.StartedAt)
		return Record{}, false
	}
	return rec, true
}

func (r *Registry) stale(rec Record) bool {
	if r.staleAfter <= 0 || rec.StartedAt.IsZero() {
		return false
	}
	return r.clock.Since(rec.StartedAt) > r.staleAfter
}

// CurrentBinding returns the locator user's active session is bound to.
// Records without a usable locator report no binding.
func (r *Registry) CurrentBinding(ctx context.Context, user string) (locator.Locator, bool) {
	rec, ok := r.Lookup(ctx, user)
	if !ok {
		return locator.Locator{}, false
	}
	bound := locator.Parse(rec.ArchiveURL)
	if !bound.IsValid() {
		return locator.Locator{}, false
	}
	return bound, true
}

// Conflict reports whether user is bound to a locator other than incoming.
func (r *Registry) Conflict(ctx context.Context, user string, incoming locator.Locator) bool {
	bound, ok := r.CurrentBinding(ctx, user)
	if !ok {
		return false
	}
	return !bound.Equal(incoming)
}

// Register records that the session identified by id is bound to archiveURL.
// It is used by the hosting platform, never by the bootstrap itself.
func Register(ctx context.Context, store statestore.Store, clock clockwork.Clock, id Identity, archiveURL string, pid int) (Record, error) {
	if strings.TrimSpace(id.User) == "" {
		return Record{}, fmt.Errorf("user is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	rec := Record{
		SessionID:  id.ID(),
		User:       id.User,
		ArchiveURL: strings.TrimSpace(archiveURL),
		StartedAt:  clock.Now().UTC(),
		PID:        pid,
		Hostname:   id.PodName,
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return Record{}, err
	}
	if err := store.Put(ctx, RecordKey(id.User), data); err != nil {
		return Record{}, bterrors.Wrap(fmt.Errorf("write session record: %w", err), bterrors.KindStoreFailure, "check the state directory permissions")
	}
	return rec, nil
}

// Clear removes user's session record.
func Clear(ctx context.Context, store statestore.Store, user string) error {
	if strings.TrimSpace(user) == "" {
		return fmt.Errorf("user is required")
	}
	if err := store.Delete(ctx, RecordKey(user)); err != nil {
		return bterrors.Wrap(fmt.Errorf("clear session record: %w", err), bterrors.KindStoreFailure, "check the state directory permissions")
	}
	return nil
}
