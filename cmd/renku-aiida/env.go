package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/aiidateam/renku2-aiida-integration/internal/config"
	bterrors "github.com/aiidateam/renku2-aiida-integration/internal/errors"
	"github.com/aiidateam/renku2-aiida-integration/internal/logging"
	"github.com/aiidateam/renku2-aiida-integration/internal/profile"
	"github.com/aiidateam/renku2-aiida-integration/internal/statestore"
	"github.com/aiidateam/renku2-aiida-integration/internal/telemetry"
)

const serviceName = "renku-aiida"

// Timeout for flushing spans on exit
const shutdownTimeout = 5 * time.Second

// environment is what every subcommand needs: settings, a logger, the state
// store and the telemetry sinks. store is nil until openStore succeeds.
type environment struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    statestore.Store
	metrics  *telemetry.Metrics
	shutdown func(context.Context) error
}

func setup(cmd *cobra.Command) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}

	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)

	shutdown, err := telemetry.SetupTracing(cmd.Context(), serviceName, cfg.OTelEndpoint, version)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	return &environment{
		cfg:      cfg,
		logger:   logger,
		metrics:  telemetry.NewMetrics(),
		shutdown: shutdown,
	}, nil
}

// openStore opens the configured state store.
func (e *environment) openStore() error {
	store, err := statestore.Open(e.cfg.StateBackend, e.cfg.StateDir)
	if err != nil {
		return bterrors.Wrap(fmt.Errorf("failed to open state store: %w", err), bterrors.KindStoreFailure,
			"check that "+e.cfg.StateDir+" is a writable directory")
	}
	e.store = store
	return nil
}

// withStore is setup followed by openStore, for commands that cannot work
// without session state.
func withStore(cmd *cobra.Command) (*environment, error) {
	env, err := setup(cmd)
	if err != nil {
		return nil, err
	}
	if err := env.openStore(); err != nil {
		env.close()
		return nil, err
	}
	return env, nil
}

// applyFlags overrides settings with the flags set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	overrides := []struct {
		flag   string
		target *string
	}{
		{"archive-url", &cfg.ArchiveURL},
		{"state-dir", &cfg.StateDir},
		{"state-backend", &cfg.StateBackend},
		{"notebook", &cfg.NotebookPath},
		{"archive-dir", &cfg.ArchiveDir},
		{"profile", &cfg.WritableProfile},
		{"log-level", &cfg.LogLevel},
	}
	for _, o := range overrides {
		if !cmd.Flags().Changed(o.flag) {
			continue
		}
		value, err := cmd.Flags().GetString(o.flag)
		if err != nil {
			return fmt.Errorf("invalid %s flag: %w", o.flag, err)
		}
		*o.target = value
	}
	if cmd.Flags().Changed("dry-run") {
		dryRun, err := cmd.Flags().GetBool("dry-run")
		if err != nil {
			return fmt.Errorf("invalid dry-run flag: %w", err)
		}
		cfg.DryRun = dryRun
	}
	return cfg.Validate()
}

// profiles returns the profile backend and broker. Dry runs never call verdi.
func (e *environment) profiles() (profile.Store, profile.Broker) {
	if e.cfg.DryRun {
		return profile.NewMemoryStore(), &profile.MemoryBroker{}
	}
	runner := profile.ExecRunner{Timeout: e.cfg.CommandTimeout}
	return profile.NewVerdiStore(runner), profile.NewRabbitMQ(runner, e.logger)
}

func (e *environment) provisioner() *profile.Provisioner {
	store, broker := e.profiles()
	return profile.NewProvisioner(store, broker,
		profile.WithOwner(e.cfg.Owner),
		profile.WithLogger(e.logger),
	)
}

func (e *environment) writeMetrics() {
	if err := e.metrics.WriteTextfile(e.cfg.MetricsTextfile); err != nil {
		e.logger.Warn("could not write metrics", "path", e.cfg.MetricsTextfile, "error", err)
	}
}

func (e *environment) close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("could not close state store", "error", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.shutdown(ctx); err != nil {
		e.logger.Warn("could not flush traces", "error", err)
	}
}
