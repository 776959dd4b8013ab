// Package config loads bootstrap settings from the environment, an optional
// dotenv file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/aiidateam/renku2-aiida-integration/internal/constants"
	bterrors "github.com/aiidateam/renku2-aiida-integration/internal/errors"
	"github.com/aiidateam/renku2-aiida-integration/internal/profile"
	"github.com/aiidateam/renku2-aiida-integration/internal/session"
	"github.com/aiidateam/renku2-aiida-integration/internal/statestore"
)

// EnvFileVar names the dotenv file loaded before the environment is parsed.
const EnvFileVar = "RENKU_AIIDA_ENV_FILE"

const unknownValue = "unknown"

type Config struct {
	// ArchiveURL is the dataset locator supplied by the session launcher.
	ArchiveURL string `env:"archive_url"`

	RenkuUsername string `env:"RENKU_USERNAME"`
	SystemUser    string `env:"USER"`
	ProjectName   string `env:"RENKU_PROJECT_NAME"`
	Hostname      string `env:"HOSTNAME"`

	StateDir     string `env:"RENKU_AIIDA_STATE_DIR" envDefault:"/tmp/renku_sessions"`
	StateBackend string `env:"RENKU_AIIDA_STATE_BACKEND" envDefault:"file"`
	NotebookPath string `env:"RENKU_AIIDA_NOTEBOOK_PATH" envDefault:"/home/jovyan/work/notebooks/explore.ipynb"`
	TemplateDir  string `env:"RENKU_AIIDA_TEMPLATE_DIR"`
	ArchiveDir   string `env:"RENKU_AIIDA_ARCHIVE_DIR" envDefault:"/home/jovyan/work/archives"`
	ConfigFile   string `env:"RENKU_AIIDA_CONFIG"`

	WritableProfile   string        `env:"RENKU_AIIDA_PROFILE" envDefault:"aiida-renku"`
	CatalogBaseURL    string        `env:"RENKU_AIIDA_CATALOG_URL"`
	CatalogTimeout    time.Duration `env:"RENKU_AIIDA_CATALOG_TIMEOUT" envDefault:"10s"`
	CommandTimeout    time.Duration `env:"RENKU_AIIDA_COMMAND_TIMEOUT" envDefault:"2m"`
	DownloadTimeout   time.Duration `env:"RENKU_AIIDA_DOWNLOAD_TIMEOUT" envDefault:"30m"`
	SessionStaleAfter time.Duration `env:"RENKU_AIIDA_SESSION_STALE_AFTER" envDefault:"0s"`

	// DryRun provisions profiles in memory instead of calling verdi.
	DryRun bool `env:"RENKU_AIIDA_DRY_RUN"`

	LogLevel        string `env:"RENKU_AIIDA_LOG_LEVEL" envDefault:"info"`
	LogFormat       string `env:"RENKU_AIIDA_LOG_FORMAT" envDefault:"auto"`
	OTelEndpoint    string `env:"RENKU_AIIDA_OTEL_ENDPOINT"`
	MetricsTextfile string `env:"RENKU_AIIDA_METRICS_FILE"`

	// Owner is recorded on new profiles. It only comes from the YAML file.
	Owner profile.Owner `env:"-"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the dotenv file, the environment and the YAML file, in that
// order, and validates the result. Variables already set in the environment
// win over the dotenv file.
func Load() (*Config, error) {
	envFile := strings.TrimSpace(os.Getenv(EnvFileVar))
	if envFile == "" {
		envFile = constants.DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, invalid(fmt.Errorf("load %s: %w", envFile, err))
	}

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, invalid(err)
	}

	if cfg.ConfigFile != "" {
		file, err := LoadFile(cfg.ConfigFile, false)
		if err != nil {
			return nil, invalid(err)
		}
		cfg.apply(file)
	}
	cfg.Owner = cfg.Owner.WithDefaults()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// apply fills settings the environment left at their defaults.
func (c *Config) apply(f File) {
	c.Owner = f.Owner
	if f.WritableProfile != "" && os.Getenv("RENKU_AIIDA_PROFILE") == "" {
		c.WritableProfile = f.WritableProfile
	}
	if f.TemplateDir != "" && c.TemplateDir == "" {
		c.TemplateDir = f.TemplateDir
	}
	if f.CatalogBaseURL != "" && c.CatalogBaseURL == "" {
		c.CatalogBaseURL = f.CatalogBaseURL
	}
}

func (c *Config) normalize() {
	c.ArchiveURL = strings.TrimSpace(c.ArchiveURL)
	c.RenkuUsername = strings.TrimSpace(c.RenkuUsername)
	c.SystemUser = strings.TrimSpace(c.SystemUser)
	c.StateBackend = strings.ToLower(strings.TrimSpace(c.StateBackend))
	c.WritableProfile = strings.TrimSpace(c.WritableProfile)
	c.CatalogBaseURL = strings.TrimSpace(c.CatalogBaseURL)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []error
	switch c.StateBackend {
	case statestore.BackendFile, statestore.BackendSQLite:
	default:
		problems = append(problems, fmt.Errorf("RENKU_AIIDA_STATE_BACKEND must be %q or %q, got %q",
			statestore.BackendFile, statestore.BackendSQLite, c.StateBackend))
	}
	if strings.TrimSpace(c.StateDir) == "" {
		problems = append(problems, errors.New("RENKU_AIIDA_STATE_DIR is required"))
	}
	if !strings.HasSuffix(c.NotebookPath, ".ipynb") {
		problems = append(problems, fmt.Errorf("RENKU_AIIDA_NOTEBOOK_PATH must name an .ipynb file, got %q", c.NotebookPath))
	}
	if c.WritableProfile == "" {
		problems = append(problems, errors.New("RENKU_AIIDA_PROFILE must not be empty"))
	}
	if c.CatalogBaseURL != "" {
		u, err := url.Parse(c.CatalogBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Errorf("RENKU_AIIDA_CATALOG_URL must be an absolute http(s) URL, got %q", c.CatalogBaseURL))
		}
	}
	if c.CatalogTimeout <= 0 {
		problems = append(problems, errors.New("RENKU_AIIDA_CATALOG_TIMEOUT must be positive"))
	}
	if c.CommandTimeout <= 0 {
		problems = append(problems, errors.New("RENKU_AIIDA_COMMAND_TIMEOUT must be positive"))
	}
	if c.DownloadTimeout <= 0 {
		problems = append(problems, errors.New("RENKU_AIIDA_DOWNLOAD_TIMEOUT must be positive"))
	}
	if c.SessionStaleAfter < 0 {
		problems = append(problems, errors.New("RENKU_AIIDA_SESSION_STALE_AFTER must not be negative"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Errorf("RENKU_AIIDA_LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "auto", "text", "json":
	default:
		problems = append(problems, fmt.Errorf("RENKU_AIIDA_LOG_FORMAT must be auto, text or json, got %q", c.LogFormat))
	}
	if len(problems) > 0 {
		return invalid(errors.Join(problems...))
	}
	return nil
}

// User returns the session user, falling back from the Renku user name to
// the system user.
func (c *Config) User() string {
	if c.RenkuUsername != "" {
		return c.RenkuUsername
	}
	if c.SystemUser != "" {
		return c.SystemUser
	}
	return unknownValue
}

// Identity returns the identity of the running session.
func (c *Config) Identity() session.Identity {
	return session.Identity{
		User:      c.User(),
		Workspace: orUnknown(c.ProjectName),
		PodName:   orUnknown(c.Hostname),
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknownValue
	}
	return s
}

func invalid(err error) error {
	return bterrors.Wrap(err, bterrors.KindConfigInvalid, "fix the RENKU_AIIDA_* settings and re-run")
}
