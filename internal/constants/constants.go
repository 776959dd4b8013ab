package constants

import (
	"os"
	"time"
)

// Locator-related constants
const (
	// RecordsSegment marks the catalog record identifier in a dataset locator.
	RecordsSegment = "/records/"

	// FilesSegment marks the archive file name in a dataset locator.
	FilesSegment = "/files/"

	// ContentSuffix is the content-fetch alias some catalogs append to file URLs.
	ContentSuffix = "/content"

	// ArchiveExtension is the only file extension accepted as a dataset archive.
	ArchiveExtension = ".aiida"
)

// Profile-related constants
const (
	// DefaultWritableProfile is the profile provisioned when no archive is supplied.
	DefaultWritableProfile = "aiida-renku"

	// DefaultOwnerFirstName is the owner first name recorded on new profiles.
	DefaultOwnerFirstName = "Renku"

	// DefaultOwnerLastName is the owner last name recorded on new profiles.
	DefaultOwnerLastName = "User"

	// DefaultOwnerEmail is the owner email recorded on new profiles.
	DefaultOwnerEmail = "aiida@localhost"

	// DefaultOwnerInstitution is the owner institution recorded on new profiles.
	DefaultOwnerInstitution = "RenkuLab"
)

// State store keys and file names
const (
	// RegistryPrefix holds one session record per user.
	RegistryPrefix = "registry"

	// SessionsPrefix holds per-session state (metadata cache, conflict notice).
	SessionsPrefix = "sessions"

	// MetadataFile is the per-session metadata cache slot.
	MetadataFile = "metadata.json"

	// NoticeFile is the per-session conflict notice.
	NoticeFile = "session_warning.txt"

	// SQLiteFile is the database file used by the sqlite state backend.
	SQLiteFile = "state.db"
)

// Default locations inside a session container
const (
	DefaultStateDir     = "/tmp/renku_sessions"
	DefaultNotebookPath = "/home/jovyan/work/notebooks/explore.ipynb"
	DefaultArchiveDir   = "/home/jovyan/work/archives"
	DefaultEnvFile      = ".renku-aiida.env"
)

// Timeouts
const (
	// CatalogTimeout bounds the whole metadata fetch including retries.
	CatalogTimeout = 10 * time.Second

	// CommandTimeout bounds a single verdi or broker command.
	CommandTimeout = 2 * time.Minute

	// BrokerStartTimeout bounds waiting for the message broker to accept connections.
	BrokerStartTimeout = 30 * time.Second

	// DownloadTimeout bounds the deferred archive download.
	DownloadTimeout = 30 * time.Minute
)

// File permissions
const (
	// DirPermissions is the default permission mode for directories.
	DirPermissions os.FileMode = 0755

	// FilePermissions is the default permission mode for state files.
	FilePermissions os.FileMode = 0644

	// PrivateFilePermissions is used for the session registry.
	PrivateFilePermissions os.FileMode = 0600
)
