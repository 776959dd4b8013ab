package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bterrors "github.com/aiidateam/renku2-aiida-integration/internal/errors"
	"github.com/aiidateam/renku2-aiida-integration/internal/orchestrator"
)

// sessionEnv points every setting at a temp directory and enables dry runs.
func sessionEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, value := range map[string]string{
		"RENKU_AIIDA_ENV_FILE":      filepath.Join(dir, "missing.env"),
		"RENKU_AIIDA_STATE_DIR":     filepath.Join(dir, "state"),
		"RENKU_AIIDA_STATE_BACKEND": "file",
		"RENKU_AIIDA_NOTEBOOK_PATH": filepath.Join(dir, "explore.ipynb"),
		"RENKU_AIIDA_ARCHIVE_DIR":   filepath.Join(dir, "archives"),
		"RENKU_AIIDA_METRICS_FILE":  filepath.Join(dir, "metrics", "bootstrap.prom"),
		"RENKU_AIIDA_PROFILE":       "aiida-renku",
		"RENKU_AIIDA_DRY_RUN":       "true",
		"RENKU_AIIDA_LOG_LEVEL":     "error",
		"RENKU_AIIDA_LOG_FORMAT":    "text",
		"RENKU_AIIDA_CONFIG":        "",
		"RENKU_AIIDA_TEMPLATE_DIR":  "",
		"RENKU_AIIDA_CATALOG_URL":   "",
		"RENKU_AIIDA_OTEL_ENDPOINT": "",
		"RENKU_USERNAME":            "alice",
		"archive_url":               "",
	} {
		t.Setenv(name, value)
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBootstrapWithoutLocator(t *testing.T) {
	dir := sessionEnv(t)

	out, err := execute(t, "bootstrap")
	require.NoError(t, err)
	assert.Contains(t, out, "Notebook created: "+filepath.Join(dir, "explore.ipynb"))
	assert.Contains(t, out, "Profile aiida-renku: created")
	assert.FileExists(t, filepath.Join(dir, "explore.ipynb"))
	assert.FileExists(t, filepath.Join(dir, "metrics", "bootstrap.prom"))

	out, err = execute(t, "bootstrap")
	require.NoError(t, err)
	assert.Contains(t, out, "Notebook kept:")
}

func TestSessionRegisterStatusClear(t *testing.T) {
	sessionEnv(t)
	bound := "https://h/records/a/files/alpha.aiida"

	out, err := execute(t, "session", "register", "--archive-url", bound)
	require.NoError(t, err)
	assert.Contains(t, out, "bound to "+bound)

	out, err = execute(t, "status", "--archive-url", "https://h/records/b/files/beta.aiida")
	require.NoError(t, err)
	assert.Contains(t, out, "Locator:    valid")
	assert.Contains(t, out, "Registry:   bound to "+bound)
	assert.Contains(t, out, "Warning: another session")

	_, err = execute(t, "session", "clear")
	require.NoError(t, err)

	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Locator:    absent")
	assert.Contains(t, out, "Registry:   not bound")
	assert.Contains(t, out, "Metadata:   not cached")
	assert.NotContains(t, out, "Warning")
}

func TestProvisionWithoutMetadata(t *testing.T) {
	sessionEnv(t)

	_, err := execute(t, "provision", "--yes")
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrNoMetadata)
	assert.Equal(t, bterrors.ExitFailure, bterrors.ExitCode(err))
}

func TestFlagOverridesAreValidated(t *testing.T) {
	sessionEnv(t)

	_, err := execute(t, "status", "--state-backend", "redis")
	require.Error(t, err)
	assert.Equal(t, bterrors.ExitConfigInvalid, bterrors.ExitCode(err))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "renku-aiida version "+version)
}

func TestBootstrapWithoutStateRendersManualNotebook(t *testing.T) {
	dir := sessionEnv(t)
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	t.Setenv("RENKU_AIIDA_STATE_DIR", filepath.Join(blocker, "state"))
	t.Setenv("archive_url", "https://h/records/a/files/alpha.aiida")

	out, err := execute(t, "bootstrap")
	require.NoError(t, err)
	assert.Contains(t, out, "Notebook created:")
	assert.Contains(t, out, "Profile aiida-renku: created")

	raw, err := os.ReadFile(filepath.Join(dir, "explore.ipynb"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `load_profile(\"aiida-renku\")`)

	_, err = execute(t, "status")
	require.Error(t, err)
	assert.Equal(t, bterrors.KindStoreFailure, bterrors.KindOf(err))
}
