package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aiidateam/renku2-aiida-integration/internal/archive"
	"github.com/aiidateam/renku2-aiida-integration/internal/catalog"
	bterrors "github.com/aiidateam/renku2-aiida-integration/internal/errors"
	"github.com/aiidateam/renku2-aiida-integration/internal/notebook"
	"github.com/aiidateam/renku2-aiida-integration/internal/orchestrator"
	"github.com/aiidateam/renku2-aiida-integration/internal/platform"
	"github.com/aiidateam/renku2-aiida-integration/internal/profile"
	"github.com/aiidateam/renku2-aiida-integration/internal/session"
	"github.com/aiidateam/renku2-aiida-integration/internal/state"
	"github.com/aiidateam/renku2-aiida-integration/internal/terminal"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := bterrors.HintOf(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(bterrors.ExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "renku-aiida",
		Short:         "AiiDA session bootstrap for RenkuLab",
		Long:          "Prepares an AiiDA profile and an exploration notebook when a RenkuLab session starts, optionally bound to a published archive.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("archive-url", "", "Dataset locator (defaults to $archive_url)")
	flags.String("state-dir", "", "Directory holding session state")
	flags.String("state-backend", "", "State backend: file or sqlite")
	flags.String("notebook", "", "Path of the generated notebook")
	flags.String("archive-dir", "", "Directory archives are downloaded into")
	flags.String("profile", "", "Name of the writable profile")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.Bool("dry-run", false, "Provision profiles in memory instead of calling verdi")

	rootCmd.AddCommand(
		newBootstrapCmd(),
		newProvisionCmd(),
		newStatusCmd(),
		newSessionCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Prepare the session: profile, metadata and notebook",
		Long:  "Runs once at session start. A valid archive locator defers the download to 'renku-aiida provision'; otherwise a writable profile is created.",
		Args:  cobra.NoArgs,
		RunE:  runBootstrap,
	}
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	cfg := env.cfg
	logger := env.logger
	renderer := notebook.NewRenderer(notebook.Config{
		OutputPath:  cfg.NotebookPath,
		TemplateDir: cfg.TemplateDir,
		Logger:      logger,
	})

	if err := env.openStore(); err != nil {
		logger.Warn("session state unavailable, starting without a dataset", "error", err, "hint", bterrors.HintOf(err))
		fmt.Fprintf(os.Stderr, "[bootstrap] Warning: session state is unavailable (%v); starting without a dataset\n", err)
		return bootstrapWithoutState(cmd, env, renderer)
	}

	downloader := archive.NewDownloader(archive.Config{
		Dir:     cfg.ArchiveDir,
		Timeout: cfg.DownloadTimeout,
		Logger:  logger,
	})

	orch, err := orchestrator.New(orchestrator.Config{
		User:            cfg.User(),
		SessionID:       cfg.Identity().ID(),
		WritableProfile: cfg.WritableProfile,
		Store:           env.store,
		Registry: session.NewRegistry(env.store,
			session.WithStaleAfter(cfg.SessionStaleAfter),
			session.WithLogger(logger),
		),
		Fetcher: catalog.NewFetcher(catalog.FetcherConfig{
			BaseURL: cfg.CatalogBaseURL,
			Timeout: cfg.CatalogTimeout,
			Logger:  logger,
		}),
		Provisioner: env.provisioner(),
		Renderer:    renderer,
		Archives:    downloader,
		Logger:      logger,
		Console:     os.Stderr,
		Metrics:     env.metrics,
	})
	if err != nil {
		return err
	}

	res, runErr := orch.Run(cmd.Context(), cfg.ArchiveURL)
	env.writeMetrics()

	out := cmd.OutOrStdout()
	printBootstrapSummary(cmd, cfg.NotebookPath, cfg.WritableProfile, res.NotebookWritten, res.Outcome)
	if res.Deferred != nil {
		fmt.Fprintf(out, "Archive profile %s is ready to provision from %s\n", res.Deferred.Profile, res.Deferred.ArchiveURL)
		fmt.Fprintln(out, "Run 'renku-aiida provision' to download it.")
	}
	return runErr
}

// bootstrapWithoutState provisions the writable profile and renders the manual
// notebook when no session state can be read or written.
func bootstrapWithoutState(cmd *cobra.Command, env *environment, renderer *notebook.Renderer) error {
	cfg := env.cfg
	outcome, provisionErr := env.provisioner().Ensure(cmd.Context(), cfg.WritableProfile, profile.Writable())
	if provisionErr != nil {
		fmt.Fprintf(os.Stderr, "[bootstrap] Error: could not set up AiiDA profile %q: %v\n", cfg.WritableProfile, provisionErr)
		env.metrics.ObserveProfile("failed")
	} else {
		env.metrics.ObserveProfile(outcome.String())
	}

	written, err := renderer.Render(notebook.Input{State: notebook.StateManual, Profile: cfg.WritableProfile})
	if err != nil {
		env.logger.Warn("notebook render failed", "error", err, "hint", bterrors.HintOf(err))
	}
	env.metrics.ObserveRun(string(notebook.StateManual), provisionErr != nil, time.Now())
	env.writeMetrics()

	printBootstrapSummary(cmd, cfg.NotebookPath, cfg.WritableProfile, written, outcome)
	return provisionErr
}

func printBootstrapSummary(cmd *cobra.Command, notebookPath, profileName string, written bool, outcome profile.Outcome) {
	out := cmd.OutOrStdout()
	if written {
		fmt.Fprintf(out, "Notebook created: %s\n", notebookPath)
	} else {
		fmt.Fprintf(out, "Notebook kept: %s\n", notebookPath)
	}
	if outcome != 0 {
		fmt.Fprintf(out, "Profile %s: %s\n", profileName, outcome)
	}
}

func newProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Download the session archive and create its read-only profile",
		Args:  cobra.NoArgs,
		RunE:  runProvision,
	}

	cmd.Flags().BoolP("yes", "y", false, "Continue past a session conflict without asking")

	return cmd
}

func runProvision(cmd *cobra.Command, args []string) error {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("invalid yes flag: %w", err)
	}

	env, err := withStore(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	cfg := env.cfg
	var confirm func(string) (bool, error)
	if !yes && terminal.IsTerminal() {
		confirm = func(notice string) (bool, error) {
			fmt.Fprintln(os.Stderr, notice)
			return terminal.PromptConfirm("Provision this archive anyway?", false)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Provisioning session archive...")

	res, err := orchestrator.ProvisionArchive(cmd.Context(), orchestrator.ArchiveProvisioning{
		SessionID: cfg.Identity().ID(),
		Store:     env.store,
		Downloader: archive.NewDownloader(archive.Config{
			Dir:     cfg.ArchiveDir,
			Timeout: cfg.DownloadTimeout,
			Logger:  env.logger,
		}),
		Provisioner: env.provisioner(),
		Confirm:     confirm,
		Logger:      env.logger,
	})
	if err == nil {
		env.metrics.ObserveProfile(res.Outcome.String())
	}
	env.writeMetrics()
	if errors.Is(err, orchestrator.ErrNoMetadata) {
		return fmt.Errorf("%w: run 'renku-aiida bootstrap' with an archive locator first", err)
	}
	if errors.Is(err, orchestrator.ErrDeclined) {
		fmt.Fprintln(out, "Cancelled.")
		return nil
	}
	if err != nil {
		return err
	}

	if res.Reused {
		fmt.Fprintf(out, "Archive already downloaded: %s\n", res.ArchivePath)
	} else {
		fmt.Fprintf(out, "Archive downloaded: %s\n", res.ArchivePath)
	}
	fmt.Fprintf(out, "Profile %s: %s\n", res.Metadata.AiidaProfile, res.Outcome)
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Load it in the notebook with: load_profile(%q)\n", res.Metadata.AiidaProfile)
	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session bootstrap status",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := withStore(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	cfg := env.cfg
	profiles, broker := env.profiles()
	detector := state.NewDetector(state.DetectorConfig{
		User:            cfg.User(),
		SessionID:       cfg.Identity().ID(),
		RawLocator:      cfg.ArchiveURL,
		NotebookPath:    cfg.NotebookPath,
		WritableProfile: cfg.WritableProfile,
		Store:           env.store,
		Registry: session.NewRegistry(env.store,
			session.WithStaleAfter(cfg.SessionStaleAfter),
			session.WithLogger(env.logger),
		),
		Profiles: profiles,
		Broker:   broker,
		Archives: archive.NewDownloader(archive.Config{Dir: cfg.ArchiveDir}),
	})
	st := detector.Detect(cmd.Context())

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "AiiDA Session Status")
	fmt.Fprintln(out, "====================")
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Host:       %s\n", st.Host)
	fmt.Fprintf(out, "User:       %s (session %s)\n", st.User, st.SessionID)

	// Locator
	switch {
	case st.Locator.IsValid():
		fmt.Fprintf(out, "Locator:    valid (%s)\n", st.Locator.Normalized)
	case st.Locator.Reason != "":
		fmt.Fprintf(out, "Locator:    %s (%s)\n", st.Locator.Kind, st.Locator.Reason)
	default:
		fmt.Fprintf(out, "Locator:    %s\n", st.Locator.Kind)
	}

	// Registry
	if st.Bound {
		fmt.Fprintf(out, "Registry:   bound to %s since %s\n", st.BoundURL, st.BoundSince.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintln(out, "Registry:   not bound")
	}

	// Metadata cache
	if st.CacheExists {
		label := st.Metadata.Title
		if st.Metadata.Degraded() {
			label += " (degraded)"
		}
		fmt.Fprintf(out, "Metadata:   %s\n", label)
	} else {
		fmt.Fprintln(out, "Metadata:   not cached")
	}

	// Notebook
	if st.NotebookExists {
		fmt.Fprintf(out, "Notebook:   %s (exists)\n", st.NotebookPath)
	} else {
		fmt.Fprintf(out, "Notebook:   %s (not created)\n", st.NotebookPath)
	}

	// Profiles
	switch {
	case st.ProfileCheckError != "":
		fmt.Fprintf(out, "Profile:    %s (unknown: %s)\n", st.WritableProfile, st.ProfileCheckError)
	case st.WritableProfileExists:
		fmt.Fprintf(out, "Profile:    %s (exists)\n", st.WritableProfile)
	default:
		fmt.Fprintf(out, "Profile:    %s (not created)\n", st.WritableProfile)
	}
	if st.ArchivePath != "" {
		downloaded := "not downloaded"
		if st.ArchiveDownloaded {
			downloaded = "downloaded"
		}
		created := "not created"
		if st.ArchiveProfileExists {
			created = "created"
		}
		fmt.Fprintf(out, "Archive:    %s (%s, profile %s %s)\n", st.ArchivePath, downloaded, st.Metadata.AiidaProfile, created)
	}

	// Broker
	if st.BrokerRunning {
		fmt.Fprintln(out, "Broker:     running")
	} else {
		fmt.Fprintln(out, "Broker:     not running")
	}

	if !platform.IsSupported() && !cfg.DryRun {
		fmt.Fprintf(out, "\nWarning: %s is not supported; profile checks will fail.\n", platform.Detect())
	}
	if st.Conflict || st.NoticeExists {
		fmt.Fprintln(out, "\nWarning: another session is bound to a different archive.")
	}
	if st.CacheExists && !st.ArchiveProfileExists && st.ArchivePath != "" {
		fmt.Fprintln(out, "Run 'renku-aiida provision' to create the archive profile.")
	}

	return nil
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the session record used for conflict detection",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "register",
			Short: "Record the archive the current session is bound to",
			Args:  cobra.NoArgs,
			RunE:  runSessionRegister,
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the current user's session record",
			Args:  cobra.NoArgs,
			RunE:  runSessionClear,
		},
	)
	return cmd
}

func runSessionRegister(cmd *cobra.Command, args []string) error {
	env, err := withStore(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	rec, err := session.Register(cmd.Context(), env.store, nil, env.cfg.Identity(), env.cfg.ArchiveURL, os.Getpid())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if rec.ArchiveURL == "" {
		fmt.Fprintf(out, "Registered session %s for %s (no archive)\n", rec.SessionID, rec.User)
	} else {
		fmt.Fprintf(out, "Registered session %s for %s bound to %s\n", rec.SessionID, rec.User, rec.ArchiveURL)
	}
	return nil
}

func runSessionClear(cmd *cobra.Command, args []string) error {
	env, err := withStore(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	if err := session.Clear(cmd.Context(), env.store, env.cfg.User()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared session record for %s\n", env.cfg.User())
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "renku-aiida version %s\n", version)
			fmt.Fprintf(out, "Platform: %s (%s)\n", platform.Detect(), platform.DetectHost())
			if !platform.IsSupported() {
				fmt.Fprintln(out, "Warning: verdi and rabbitmq are only supported on linux and darwin.")
			}
		},
	}
}
