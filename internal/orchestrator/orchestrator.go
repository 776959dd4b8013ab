// Package orchestrator sequences a session bootstrap: locator validation,
// conflict detection, metadata fetch, profile provisioning and notebook
// rendering.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aiidateam/renku2-aiida-integration/internal/catalog"
	"github.com/aiidateam/renku2-aiida-integration/internal/constants"
	bterrors "github.com/aiidateam/renku2-aiida-integration/internal/errors"
	"github.com/aiidateam/renku2-aiida-integration/internal/locator"
	"github.com/aiidateam/renku2-aiida-integration/internal/notebook"
	"github.com/aiidateam/renku2-aiida-integration/internal/profile"
	"github.com/aiidateam/renku2-aiida-integration/internal/session"
	"github.com/aiidateam/renku2-aiida-integration/internal/statestore"
	"github.com/aiidateam/renku2-aiida-integration/internal/telemetry"
)

// Registry is the read side of the session registry.
type Registry interface {
	Lookup(ctx context.Context, user string) (session.Record, bool)
	Conflict(ctx context.Context, user string, incoming locator.Locator) bool
}

type MetadataFetcher interface {
	Fetch(ctx context.Context, loc locator.Locator) catalog.Metadata
}

type Provisioner interface {
	Ensure(ctx context.Context, name string, mode profile.Mode) (profile.Outcome, error)
}

type Renderer interface {
	Render(in notebook.Input) (bool, error)
}

// ArchiveResolver maps metadata to the local archive path without downloading.
type ArchiveResolver interface {
	Path(md catalog.Metadata) (string, error)
}

// NoticeKey returns the store key of the session's conflict notice.
func NoticeKey(sessionID string) string {
	return statestore.Key(constants.SessionsPrefix, sessionID, constants.NoticeFile)
}

// Config holds the collaborators of an Orchestrator.
type Config struct {
	User            string
	SessionID       string
	WritableProfile string

	Store       statestore.Store
	Registry    Registry
	Fetcher     MetadataFetcher
	Provisioner Provisioner
	Renderer    Renderer
	Archives    ArchiveResolver

	Logger  *slog.Logger
	Console io.Writer
	Tracer  trace.Tracer
	Metrics *telemetry.Metrics
	Clock   clockwork.Clock
}

// Deferred describes archive provisioning left for the user to trigger.
type Deferred struct {
	Profile     string
	ArchivePath string
	ArchiveURL  string
}

// Result summarises one bootstrap run.
type Result struct {
	RunID           string
	State           notebook.State
	Locator         locator.Locator
	Metadata        *catalog.Metadata
	Outcome         profile.Outcome
	Deferred        *Deferred
	NotebookWritten bool
	Notice          string

	// RenderErr is the recoverable render failure, if any.
	RenderErr error
}

// Orchestrator runs the bootstrap once per session start.
type Orchestrator struct {
	cfg Config
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Orchestrator, error) {
	var missing []string
	if cfg.Store == nil {
		missing = append(missing, "store")
	}
	if cfg.Registry == nil {
		missing = append(missing, "registry")
	}
	if cfg.Fetcher == nil {
		missing = append(missing, "fetcher")
	}
	if cfg.Provisioner == nil {
		missing = append(missing, "provisioner")
	}
	if cfg.Renderer == nil {
		missing = append(missing, "renderer")
	}
	if cfg.Archives == nil {
		missing = append(missing, "archive resolver")
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		missing = append(missing, "session id")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("orchestrator: missing %s", strings.Join(missing, ", "))
	}

	if cfg.WritableProfile == "" {
		cfg.WritableProfile = constants.DefaultWritableProfile
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Console == nil {
		cfg.Console = io.Discard
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.Tracer()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Orchestrator{cfg: cfg}, nil
}

// run carries per-invocation state.
type run struct {
	*Orchestrator
	ctx    context.Context
	logger *slog.Logger
	res    Result
}

// Run performs the bootstrap for rawLocator. The returned error is non-nil
// only when the writable profile could not be provisioned, and the notebook
// is rendered before returning even then.
func (o *Orchestrator) Run(ctx context.Context, rawLocator string) (Result, error) {
	started := o.cfg.Clock.Now()
	runID := uuid.NewString()

	ctx, span := o.cfg.Tracer.Start(ctx, "bootstrap.run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	r := &run{
		Orchestrator: o,
		ctx:          ctx,
		logger:       o.cfg.Logger.With("run_id", runID, "session_id", o.cfg.SessionID),
		res:          Result{RunID: runID},
	}

	err := r.execute(rawLocator)

	span.SetAttributes(
		attribute.String("bootstrap.state", string(r.res.State)),
		attribute.String("locator.kind", r.res.Locator.Kind.String()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.cfg.Metrics.ObserveRun(string(r.res.State), err != nil, o.cfg.Clock.Now())
	r.logger.Info("bootstrap finished",
		"state", string(r.res.State),
		"notebook_written", r.res.NotebookWritten,
		"duration", o.cfg.Clock.Since(started),
		"error", err,
	)
	return r.res, err
}

func (r *run) execute(rawLocator string) error {
	loc := r.normalize(rawLocator)
	r.res.Locator = loc

	conflict := false
	if loc.IsValid() {
		conflict = r.detectConflict(loc)
	}
	if !conflict {
		r.clearNotice()
	}

	var md *catalog.Metadata
	if loc.IsValid() {
		md = r.fetchMetadata(loc)
		r.res.Metadata = md
	}

	provisionErr := r.provision(loc, md)

	switch {
	case conflict:
		r.res.State = notebook.StateConflict
	case loc.IsValid():
		r.res.State = notebook.StateArchive
	default:
		r.res.State = notebook.StateManual
	}
	r.render()

	return provisionErr
}

func (r *run) normalize(raw string) locator.Locator {
	_, span := r.cfg.Tracer.Start(r.ctx, "bootstrap.normalize")
	defer span.End()

	loc := locator.Parse(raw)
	if loc.Kind == locator.Invalid {
		err := bterrors.Wrap(fmt.Errorf("invalid archive locator %q: %s", loc.Raw, loc.Reason),
			bterrors.KindLocatorInvalid, "expected <base>/records/<id>/files/<name>.aiida")
		r.logger.Warn("ignoring invalid archive locator", "locator", loc.Raw, "reason", loc.Reason, "error", err)
		fmt.Fprintf(r.cfg.Console, "[bootstrap] Warning: archive_url is not a valid archive locator (%s); starting without a dataset\n", loc.Reason)
	}
	span.SetAttributes(attribute.String("locator.kind", loc.Kind.String()))
	return loc
}

func (r *run) detectConflict(loc locator.Locator) bool {
	ctx, span := r.cfg.Tracer.Start(r.ctx, "bootstrap.detect_conflict")
	defer span.End()

	if !r.cfg.Registry.Conflict(ctx, r.cfg.User, loc) {
		return false
	}
	existing, _ := r.cfg.Registry.Lookup(ctx, r.cfg.User)
	notice := conflictNotice(existing, loc.Normalized)
	r.res.Notice = notice
	span.SetAttributes(attribute.Bool("session.conflict", true))

	r.logger.Warn("another session is bound to a different archive",
		"user", r.cfg.User,
		"bound_to", existing.ArchiveURL,
		"requested", loc.Normalized,
	)
	fmt.Fprint(r.cfg.Console, notice)

	if err := r.cfg.Store.Put(ctx, NoticeKey(r.cfg.SessionID), []byte(notice)); err != nil {
		r.storeFailed("write conflict notice", err)
	}
	return true
}

func (r *run) clearNotice() {
	if err := r.cfg.Store.Delete(r.ctx, NoticeKey(r.cfg.SessionID)); err != nil {
		r.logger.Warn("could not remove stale conflict notice", "error", err)
	}
}

func (r *run) fetchMetadata(loc locator.Locator) *catalog.Metadata {
	ctx, span := r.cfg.Tracer.Start(r.ctx, "bootstrap.fetch_metadata")
	defer span.End()
	start := r.cfg.Clock.Now()

	md := r.cfg.Fetcher.Fetch(ctx, loc)
	r.cfg.Metrics.ObserveStep("fetch_metadata", r.cfg.Clock.Since(start))
	r.cfg.Metrics.ObserveMetadata(md.Degraded())
	span.SetAttributes(attribute.Bool("metadata.degraded", md.Degraded()))

	if md.Degraded() {
		fmt.Fprintf(r.cfg.Console, "[bootstrap] Warning: could not load catalog metadata for %s; showing file details only\n", md.ArchiveFilename)
	}

	if err := catalog.NewCache(r.cfg.Store).Save(ctx, r.cfg.SessionID, md); err != nil {
		r.storeFailed("save metadata cache", err)
	}
	return &md
}

func (r *run) provision(loc locator.Locator, md *catalog.Metadata) error {
	ctx, span := r.cfg.Tracer.Start(r.ctx, "bootstrap.provision")
	defer span.End()
	start := r.cfg.Clock.Now()
	defer func() { r.cfg.Metrics.ObserveStep("provision", r.cfg.Clock.Since(start)) }()

	if loc.IsValid() && md != nil {
		path, err := r.cfg.Archives.Path(*md)
		if err != nil {
			r.logger.Warn("could not resolve archive path", "error", err)
		}
		r.res.Deferred = &Deferred{
			Profile:     md.AiidaProfile,
			ArchivePath: path,
			ArchiveURL:  md.ArchiveURL,
		}
		span.SetAttributes(attribute.String("profile.name", md.AiidaProfile), attribute.Bool("profile.deferred", true))
		r.logger.Info("archive provisioning deferred", "profile", md.AiidaProfile, "archive_path", path)
		return nil
	}

	name := r.cfg.WritableProfile
	span.SetAttributes(attribute.String("profile.name", name))
	outcome, err := r.cfg.Provisioner.Ensure(ctx, name, profile.Writable())
	if err != nil {
		r.cfg.Metrics.ObserveProfile("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile creation failed")
		fmt.Fprintf(r.cfg.Console, "[bootstrap] Error: could not set up AiiDA profile %q: %v\n", name, err)
		return err
	}
	r.res.Outcome = outcome
	r.cfg.Metrics.ObserveProfile(outcome.String())
	r.logger.Info("writable profile ready", "profile", name, "outcome", outcome.String())
	return nil
}

func (r *run) render() {
	_, span := r.cfg.Tracer.Start(r.ctx, "bootstrap.render")
	defer span.End()
	start := r.cfg.Clock.Now()

	in := notebook.Input{
		State:    r.res.State,
		Metadata: r.res.Metadata,
		Notice:   r.res.Notice,
	}
	if r.res.State == notebook.StateManual {
		in.Profile = r.cfg.WritableProfile
	}

	written, err := r.cfg.Renderer.Render(in)
	r.cfg.Metrics.ObserveStep("render", r.cfg.Clock.Since(start))
	r.res.NotebookWritten = written
	if err != nil {
		r.res.RenderErr = err
		span.RecordError(err)
		r.logger.Warn("notebook render failed", "error", err, "hint", bterrors.HintOf(err))
	}
}

// storeFailed logs a state store write failure. It never ends the run.
func (r *run) storeFailed(op string, err error) {
	err = bterrors.Wrap(fmt.Errorf("%s: %w", op, err), bterrors.KindStoreFailure, "check that the state directory is writable")
	r.logger.Warn("state store write failed", "error", err, "hint", bterrors.HintOf(err))
}
