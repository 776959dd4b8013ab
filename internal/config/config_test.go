package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bterrors "github.com/aiidateam/renku2-aiida-integration/internal/errors"
	"github.com/aiidateam/renku2-aiida-integration/internal/profile"
)

// isolate points the dotenv lookup at an empty directory and clears the
// variables a developer machine commonly sets.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvFileVar, filepath.Join(dir, "missing.env"))
	for _, name := range []string{"archive_url", "RENKU_USERNAME", "RENKU_AIIDA_CONFIG", "RENKU_AIIDA_TEMPLATE_DIR", "RENKU_AIIDA_CATALOG_URL"} {
		t.Setenv(name, "")
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("USER", "jovyan")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/renku_sessions", cfg.StateDir)
	assert.Equal(t, "file", cfg.StateBackend)
	assert.Equal(t, "aiida-renku", cfg.WritableProfile)
	assert.Equal(t, 10*time.Second, cfg.CatalogTimeout)
	assert.Equal(t, "auto", cfg.LogFormat)
	assert.Equal(t, "jovyan", cfg.User())
	assert.Equal(t, profile.DefaultOwner(), cfg.Owner)
}

func TestLoadUserFallback(t *testing.T) {
	isolate(t)
	t.Setenv("USER", "jovyan")
	t.Setenv("RENKU_USERNAME", "alice")
	t.Setenv("RENKU_PROJECT_NAME", "proj")
	t.Setenv("HOSTNAME", "pod-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.User())

	id := cfg.Identity()
	assert.Equal(t, "alice", id.User)
	assert.Equal(t, "proj", id.Workspace)
	assert.Equal(t, "pod-1", id.PodName)

	cfg.RenkuUsername, cfg.SystemUser = "", ""
	assert.Equal(t, "unknown", cfg.User())
}

func TestLoadDotenvDoesNotOverrideEnvironment(t *testing.T) {
	dir := isolate(t)
	envFile := filepath.Join(dir, "session.env")
	require.NoError(t, os.WriteFile(envFile, []byte("RENKU_AIIDA_STATE_BACKEND=sqlite\nRENKU_AIIDA_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv(EnvFileVar, envFile)
	t.Setenv("RENKU_AIIDA_LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("RENKU_AIIDA_STATE_BACKEND") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StateBackend)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "renku-aiida.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
owner:
  first_name: " Ada "
  email: ada@example.org
writable_profile: sandbox
catalog_url: https://archive.example.org/api/records
`), 0o600))
	t.Setenv("RENKU_AIIDA_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Ada", cfg.Owner.FirstName)
	assert.Equal(t, "ada@example.org", cfg.Owner.Email)
	assert.Equal(t, profile.DefaultOwner().LastName, cfg.Owner.LastName)
	assert.Equal(t, "sandbox", cfg.WritableProfile)
	assert.Equal(t, "https://archive.example.org/api/records", cfg.CatalogBaseURL)
}

func TestLoadYAMLFileEnvironmentWins(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "renku-aiida.yaml")
	require.NoError(t, os.WriteFile(path, []byte("writable_profile: sandbox\n"), 0o600))
	t.Setenv("RENKU_AIIDA_CONFIG", path)
	t.Setenv("RENKU_AIIDA_PROFILE", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.WritableProfile)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	isolate(t)
	t.Setenv("RENKU_AIIDA_STATE_BACKEND", "redis")
	t.Setenv("RENKU_AIIDA_LOG_FORMAT", "xml")
	t.Setenv("RENKU_AIIDA_CATALOG_URL", "ftp://nope")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, bterrors.KindConfigInvalid, bterrors.KindOf(err))
	assert.Equal(t, bterrors.ExitConfigInvalid, bterrors.ExitCode(err))
	assert.Contains(t, err.Error(), "RENKU_AIIDA_STATE_BACKEND")
	assert.Contains(t, err.Error(), "RENKU_AIIDA_LOG_FORMAT")
	assert.Contains(t, err.Error(), "RENKU_AIIDA_CATALOG_URL")
}

func TestLoadRejectsUnparsableDuration(t *testing.T) {
	isolate(t)
	t.Setenv("RENKU_AIIDA_CATALOG_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
	assert.Equal(t, bterrors.KindConfigInvalid, bterrors.KindOf(err))
}

func TestLoadFile(t *testing.T) {
	_, err := LoadFile("", true)
	assert.Error(t, err)

	f, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), true)
	require.NoError(t, err)
	assert.Equal(t, File{}, f)

	_, err = LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), false)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("owner: [unterminated"), 0o600))
	_, err = LoadFile(path, false)
	assert.Error(t, err)
}
