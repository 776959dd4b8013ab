package state

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiidateam/renku2-aiida-integration/internal/archive"
	"github.com/aiidateam/renku2-aiida-integration/internal/catalog"
	"github.com/aiidateam/renku2-aiida-integration/internal/locator"
	"github.com/aiidateam/renku2-aiida-integration/internal/orchestrator"
	"github.com/aiidateam/renku2-aiida-integration/internal/profile"
	"github.com/aiidateam/renku2-aiida-integration/internal/session"
	"github.com/aiidateam/renku2-aiida-integration/internal/statestore"
)

func TestDetectEmptySession(t *testing.T) {
	store, err := statestore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	st := NewDetector(DetectorConfig{
		User:            "alice",
		SessionID:       "s1",
		NotebookPath:    filepath.Join(t.TempDir(), "explore.ipynb"),
		WritableProfile: "aiida-renku",
		Store:           store,
		Registry:        session.NewRegistry(store),
		Profiles:        profile.NewMemoryStore(),
		Broker:          &profile.MemoryBroker{},
	}).Detect(context.Background())

	assert.Equal(t, locator.Absent, st.Locator.Kind)
	assert.False(t, st.Bound)
	assert.False(t, st.CacheExists)
	assert.False(t, st.NoticeExists)
	assert.False(t, st.NotebookExists)
	assert.False(t, st.WritableProfileExists)
	assert.False(t, st.BrokerRunning)
	assert.Empty(t, st.ArchivePath)
}

func TestDetectPopulatedSession(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := statestore.NewFileStore(filepath.Join(root, "state"))
	require.NoError(t, err)

	urlA := "https://h/records/a/files/alpha.aiida"
	urlB := "https://h/records/b/files/beta.aiida"
	_, err = session.Register(ctx, store, nil, session.Identity{User: "alice"}, urlA, 1)
	require.NoError(t, err)
	md := catalog.Metadata{ArchiveURL: urlB, ArchiveFilename: "beta.aiida", RecordID: "b", Title: "Beta", AiidaProfile: "beta"}
	require.NoError(t, catalog.NewCache(store).Save(ctx, "s1", md))
	require.NoError(t, store.Put(ctx, orchestrator.NoticeKey("s1"), []byte("conflict")))

	notebookPath := filepath.Join(root, "explore.ipynb")
	require.NoError(t, os.WriteFile(notebookPath, []byte("{}"), 0o644))
	archiveDir := filepath.Join(root, "archives")
	require.NoError(t, os.MkdirAll(archiveDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(archiveDir, "beta.aiida"), []byte("PK"), 0o644))

	profiles := profile.NewMemoryStore()
	broker := &profile.MemoryBroker{}
	_, err = profile.NewProvisioner(profiles, broker, profile.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))).
		Ensure(ctx, "aiida-renku", profile.Writable())
	require.NoError(t, err)

	st := NewDetector(DetectorConfig{
		User:            "alice",
		SessionID:       "s1",
		RawLocator:      urlB,
		NotebookPath:    notebookPath,
		WritableProfile: "aiida-renku",
		Store:           store,
		Registry:        session.NewRegistry(store),
		Profiles:        profiles,
		Broker:          broker,
		Archives:        archive.NewDownloader(archive.Config{Dir: archiveDir}),
	}).Detect(ctx)

	assert.True(t, st.Bound)
	assert.Equal(t, urlA, st.BoundURL)
	assert.True(t, st.Conflict)
	assert.True(t, st.CacheExists)
	assert.Equal(t, "Beta", st.Metadata.Title)
	assert.True(t, st.NoticeExists)
	assert.True(t, st.NotebookExists)
	assert.True(t, st.WritableProfileExists)
	assert.False(t, st.ArchiveProfileExists)
	assert.True(t, st.BrokerRunning)
	assert.True(t, st.ArchiveDownloaded)
	assert.Equal(t, filepath.Join(archiveDir, "beta.aiida"), st.ArchivePath)
}
