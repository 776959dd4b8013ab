package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiidateam/renku2-aiida-integration/internal/locator"
	"github.com/aiidateam/renku2-aiida-integration/internal/statestore"
)

const (
	urlA = "https://host/records/a1/files/alpha.aiida"
	urlB = "https://host/records/b2/files/beta.aiida"
)

func newTestRegistry(t *testing.T, opts ...RegistryOption) (*Registry, statestore.Store) {
	t.Helper()
	store, err := statestore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	opts = append([]RegistryOption{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewRegistry(store, opts...), store
}

func register(t *testing.T, store statestore.Store, clock clockwork.Clock, user, archiveURL string) Record {
	t.Helper()
	rec, err := Register(context.Background(), store, clock, Identity{User: user, Workspace: "proj", PodName: "pod-1"}, archiveURL, 42)
	require.NoError(t, err)
	return rec
}

func TestConflictDetection(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)
	register(t, store, nil, "alice", urlA)

	assert.True(t, reg.Conflict(ctx, "alice", locator.Parse(urlB)))
	assert.False(t, reg.Conflict(ctx, "alice", locator.Parse(urlA)))
	assert.False(t, reg.Conflict(ctx, "alice", locator.Parse(urlA+"/content")))
	assert.False(t, reg.Conflict(ctx, "bob", locator.Parse(urlB)))
}

func TestCurrentBinding(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	_, ok := reg.CurrentBinding(ctx, "alice")
	assert.False(t, ok)

	register(t, store, nil, "alice", urlA+"/content")
	bound, ok := reg.CurrentBinding(ctx, "alice")
	require.True(t, ok)
	assert.Equal(t, urlA, bound.Normalized)
	assert.Equal(t, "a1", bound.RecordID)
}

func TestRecordWithoutLocatorIsNoBinding(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)
	register(t, store, nil, "alice", "")

	_, ok := reg.CurrentBinding(ctx, "alice")
	assert.False(t, ok)
	assert.False(t, reg.Conflict(ctx, "alice", locator.Parse(urlB)))

	rec, ok := reg.Lookup(ctx, "alice")
	require.True(t, ok)
	assert.Equal(t, 42, rec.PID)
}

func TestPartialRecordIsNoBinding(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)
	require.NoError(t, store.Put(ctx, RecordKey("alice"), []byte(`{"session_id":"abc","archive_url":"htt`)))

	assert.False(t, reg.Conflict(ctx, "alice", locator.Parse(urlB)))
}

func TestRecordForOtherUserIsIgnored(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)
	require.NoError(t, store.Put(ctx, RecordKey("alice"), []byte(`{"user":"mallory","archive_url":"`+urlA+`"}`)))

	assert.False(t, reg.Conflict(ctx, "alice", locator.Parse(urlB)))
}

func TestStaleRecordIsIgnored(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	reg, store := newTestRegistry(t, WithClock(clock), WithStaleAfter(time.Hour))
	register(t, store, clock, "alice", urlA)

	assert.True(t, reg.Conflict(ctx, "alice", locator.Parse(urlB)))

	clock.Advance(2 * time.Hour)
	assert.False(t, reg.Conflict(ctx, "alice", locator.Parse(urlB)))
}

func TestUnavailableStoreIsNoBinding(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg, store := newTestRegistry(t)
	register(t, store, nil, "alice", urlA)
	cancel()

	assert.False(t, reg.Conflict(ctx, "alice", locator.Parse(urlB)))
	assert.False(t, NewRegistry(nil).Conflict(context.Background(), "alice", locator.Parse(urlB)))
}

func TestRegisterAndClear(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	reg, store := newTestRegistry(t)

	rec := register(t, store, clock, "alice", urlA)
	assert.Len(t, rec.SessionID, sessionIDLength)
	assert.True(t, clock.Now().Equal(rec.StartedAt))
	assert.Equal(t, "pod-1", rec.Hostname)

	got, ok := reg.Lookup(ctx, "alice")
	require.True(t, ok)
	assert.Equal(t, rec.SessionID, got.SessionID)
	assert.True(t, rec.StartedAt.Equal(got.StartedAt))

	require.NoError(t, Clear(ctx, store, "alice"))
	_, ok = reg.Lookup(ctx, "alice")
	assert.False(t, ok)

	_, err := Register(ctx, store, clock, Identity{}, urlA, 1)
	assert.Error(t, err)
	assert.Error(t, Clear(ctx, store, " "))
}

func TestIdentityID(t *testing.T) {
	a := Identity{User: "alice", Workspace: "proj", PodName: "pod-1"}
	b := Identity{User: "alice", Workspace: "proj", PodName: "pod-2"}

	assert.Len(t, a.ID(), sessionIDLength)
	assert.Equal(t, a.ID(), a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestRecordKeyEscapesUser(t *testing.T) {
	assert.Equal(t, "registry/alice.json", RecordKey("alice"))
	assert.NoError(t, statestore.ValidateKey(RecordKey("../../etc/passwd")))
}
