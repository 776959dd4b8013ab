// Package profile provisions AiiDA profiles idempotently.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aiidateam/renku2-aiida-integration/internal/constants"
	bterrors "github.com/aiidateam/renku2-aiida-integration/internal/errors"
)

const creationHint = "inspect the verdi output above, then re-run the command; no automatic retry is attempted"

// Provisioner creates profiles at most once.
type Provisioner struct {
	store  Store
	broker Broker
	owner  Owner
	logger *slog.Logger
}

// Option customises a Provisioner.
type Option func(*Provisioner)

func WithOwner(owner Owner) Option {
	return func(p *Provisioner) { p.owner = owner.WithDefaults() }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provisioner) { p.logger = logger }
}

// NewProvisioner creates a Provisioner. broker may be nil when only
// read-only archive profiles are provisioned.
func NewProvisioner(store Store, broker Broker, opts ...Option) *Provisioner {
	p := &Provisioner{
		store:  store,
		broker: broker,
		owner:  DefaultOwner(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ensure makes sure a profile called name exists. An existing profile is
// reused as is, even if it was created with a different mode. Writable
// profiles also get a running message broker, whether or not they existed.
func (p *Provisioner) Ensure(ctx context.Context, name string, mode Mode) (Outcome, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, p.fail(fmt.Errorf("profile name is required"))
	}
	if err := mode.Validate(); err != nil {
		return 0, p.fail(err)
	}

	exists, err := p.store.Exists(ctx, name)
	if err != nil {
		return 0, p.fail(fmt.Errorf("check profile %q: %w", name, err))
	}
	writable := mode.Kind == KindWritable
	if exists {
		p.reportMismatch(ctx, name, mode)
		p.logger.Debug("profile already exists", "profile", name)
		// The broker does not survive a container restart, the profile does.
		if writable {
			if err := p.ensureBroker(ctx, name); err != nil {
				return 0, err
			}
		}
		return AlreadyExists, nil
	}

	if writable {
		if err := p.ensureBroker(ctx, name); err != nil {
			return 0, err
		}
	}

	p.logger.Info("creating profile", "profile", name, "mode", mode.String())
	if err := p.store.Create(ctx, name, mode, p.owner); err != nil {
		p.cleanup(ctx, name)
		return 0, p.fail(fmt.Errorf("create profile %q: %w", name, err))
	}
	if writable {
		if err := p.broker.Configure(ctx, name); err != nil {
			p.cleanup(ctx, name)
			return 0, p.fail(fmt.Errorf("configure broker for profile %q: %w", name, err))
		}
	}
	return Created, nil
}

func (p *Provisioner) ensureBroker(ctx context.Context, name string) error {
	if p.broker == nil {
		return p.fail(fmt.Errorf("writable profile %q needs a message broker", name))
	}
	if err := p.broker.EnsureRunning(ctx); err != nil {
		return p.fail(fmt.Errorf("start message broker: %w", err))
	}
	return nil
}

func (p *Provisioner) reportMismatch(ctx context.Context, name string, want Mode) {
	reader, ok := p.store.(ModeReader)
	if !ok {
		return
	}
	have, err := reader.ModeOf(ctx, name)
	if err != nil || have.Kind == want.Kind {
		return
	}
	p.logger.Info("reusing existing profile created with a different mode",
		"profile", name,
		"existing_mode", string(have.Kind),
		"requested_mode", string(want.Kind),
	)
}

// cleanup removes a partially registered profile. It runs even when ctx has
// been cancelled, bounded by its own timeout.
func (p *Provisioner) cleanup(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.CommandTimeout)
	defer cancel()
	if err := p.store.Delete(ctx, name); err != nil {
		p.logger.Warn("could not remove partially created profile", "profile", name, "error", err)
	}
}

func (p *Provisioner) fail(err error) error {
	return bterrors.Wrap(err, bterrors.KindProfileCreationFailed, creationHint)
}
