package profile

import (
	"context"
	"fmt"
	"strings"

	"github.com/aiidateam/renku2-aiida-integration/internal/constants"
)

// ModeKind distinguishes the two profile flavours.
type ModeKind string

const (
	KindReadOnlyArchive ModeKind = "read-only-archive"
	KindWritable        ModeKind = "writable"
)

// Mode is fixed when a profile is created and never changed afterwards.
type Mode struct {
	Kind ModeKind

	// ArchivePath is the local archive file backing a read-only profile.
	ArchivePath string
}

// ReadOnlyArchive returns a mode backed by the archive file at path.
func ReadOnlyArchive(path string) Mode {
	return Mode{Kind: KindReadOnlyArchive, ArchivePath: path}
}

// Writable returns a mode for a fresh, broker-backed profile.
func Writable() Mode {
	return Mode{Kind: KindWritable}
}

func (m Mode) String() string {
	if m.Kind == KindReadOnlyArchive {
		return fmt.Sprintf("%s(%s)", m.Kind, m.ArchivePath)
	}
	return string(m.Kind)
}

// Validate checks that the mode can be provisioned.
func (m Mode) Validate() error {
	switch m.Kind {
	case KindWritable:
		return nil
	case KindReadOnlyArchive:
		if strings.TrimSpace(m.ArchivePath) == "" {
			return fmt.Errorf("read-only archive mode requires an archive path")
		}
		return nil
	default:
		return fmt.Errorf("unknown profile mode %q", m.Kind)
	}
}

// Outcome reports what Ensure did. An existing profile is not an error.
type Outcome int

const (
	Created Outcome = iota + 1
	AlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already-exists"
	default:
		return "none"
	}
}

// Owner is recorded on every new profile.
type Owner struct {
	FirstName   string `yaml:"first_name"`
	LastName    string `yaml:"last_name"`
	Email       string `yaml:"email"`
	Institution string `yaml:"institution"`
}

// DefaultOwner returns the built-in owner used inside session containers.
func DefaultOwner() Owner {
	return Owner{
		FirstName:   constants.DefaultOwnerFirstName,
		LastName:    constants.DefaultOwnerLastName,
		Email:       constants.DefaultOwnerEmail,
		Institution: constants.DefaultOwnerInstitution,
	}
}

// WithDefaults fills empty fields from DefaultOwner.
func (o Owner) WithDefaults() Owner {
	d := DefaultOwner()
	if strings.TrimSpace(o.FirstName) == "" {
		o.FirstName = d.FirstName
	}
	if strings.TrimSpace(o.LastName) == "" {
		o.LastName = d.LastName
	}
	if strings.TrimSpace(o.Email) == "" {
		o.Email = d.Email
	}
	if strings.TrimSpace(o.Institution) == "" {
		o.Institution = d.Institution
	}
	return o
}

// Store registers profiles with the profile backend.
type Store interface {
	// Exists reports whether a profile with the given name is registered.
	// It must never download or create anything.
	Exists(ctx context.Context, name string) (bool, error)

	// Create registers a new profile.
	Create(ctx context.Context, name string, mode Mode, owner Owner) error

	// Delete removes a profile. Deleting a missing profile is not an error.
	Delete(ctx context.Context, name string) error
}

// ModeReader is implemented by stores that can report the mode an existing
// profile was created with.
type ModeReader interface {
	ModeOf(ctx context.Context, name string) (Mode, error)
}

// Broker is the message broker writable profiles depend on.
type Broker interface {
	// Running reports whether the broker accepts connections.
	Running(ctx context.Context) bool

	// EnsureRunning starts the broker if needed. Already running is success.
	EnsureRunning(ctx context.Context) error

	// Configure attaches the named profile to the broker.
	Configure(ctx context.Context, name string) error
}
