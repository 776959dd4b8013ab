// Package notebook renders the session's exploration notebook from one of a
// fixed set of templates.
package notebook

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aiidateam/renku2-aiida-integration/internal/catalog"
	"github.com/aiidateam/renku2-aiida-integration/internal/constants"
	bterrors "github.com/aiidateam/renku2-aiida-integration/internal/errors"
	"github.com/aiidateam/renku2-aiida-integration/internal/fsx"
)

//go:embed templates/*.ipynb
var templates embed.FS

// State selects the notebook template. Exactly one applies to a run.
type State string

const (
	StateManual   State = "manual"
	StateArchive  State = "archive"
	StateConflict State = "conflict"
)

// Placeholder defaults for values the run could not provide.
const (
	defaultTitle    = "Unknown Dataset"
	defaultDOI      = "DOI not available"
	defaultUnknown  = "Unknown"
	defaultNotice   = "No details were recorded."
	templateSuffix  = ".ipynb"
	fallbackState   = StateManual
	renderFailHint  = "the manual notebook was written instead; check the template directory"
)

// Input is everything a template may show.
type Input struct {
	State    State
	Metadata *catalog.Metadata

	// Profile overrides the profile name shown, e.g. the writable profile in
	// the manual state.
	Profile string

	// Notice is the conflict notice text.
	Notice string
}

// Config configures a Renderer.
type Config struct {
	// OutputPath is the notebook written for the session.
	OutputPath string

	// TemplateDir, when set, is searched for <state>.ipynb before the
	// built-in templates.
	TemplateDir string

	Logger *slog.Logger
}

// Renderer writes the session notebook.
type Renderer struct {
	outputPath  string
	templateDir string
	logger      *slog.Logger
}

func NewRenderer(cfg Config) *Renderer {
	r := &Renderer{
		outputPath:  cfg.OutputPath,
		templateDir: cfg.TemplateDir,
		logger:      cfg.Logger,
	}
	if r.outputPath == "" {
		r.outputPath = constants.DefaultNotebookPath
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// OutputPath returns the path the notebook is written to.
func (r *Renderer) OutputPath() string {
	return r.outputPath
}

// Render writes the notebook for in unless one already exists. written is
// false when an existing notebook was left untouched. When the template
// cannot be rendered the manual template is copied verbatim instead and the
// returned error is classified as a recoverable render failure.
func (r *Renderer) Render(in Input) (written bool, err error) {
	if err := os.MkdirAll(filepath.Dir(r.outputPath), constants.DirPermissions); err != nil {
		return false, bterrors.Wrap(fmt.Errorf("failed to create notebook directory: %w", err),
			bterrors.KindTemplateRenderFailed, "check that the work directory is writable")
	}
	if fsx.Exists(r.outputPath) {
		r.logger.Debug("notebook already exists, leaving it untouched", "path", r.outputPath)
		return false, nil
	}

	content, renderErr := r.render(in)
	if renderErr != nil {
		r.logger.Warn("notebook render failed, falling back to the manual template",
			"state", string(in.State), "error", renderErr)
		fallback, err := templates.ReadFile("templates/" + string(fallbackState) + templateSuffix)
		if err != nil {
			return false, bterrors.Wrap(errors.Join(renderErr, err), bterrors.KindTemplateRenderFailed, renderFailHint)
		}
		content = fallback
	}

	written, err = r.write(content)
	if err != nil {
		return false, bterrors.Wrap(errors.Join(renderErr, err), bterrors.KindTemplateRenderFailed, renderFailHint)
	}
	if renderErr != nil {
		return written, bterrors.Wrap(renderErr, bterrors.KindTemplateRenderFailed, renderFailHint)
	}
	return written, nil
}

func (r *Renderer) write(content []byte) (bool, error) {
	err := fsx.WriteFileExclusive(r.outputPath, content, constants.FilePermissions)
	if errors.Is(err, fsx.ErrExists) {
		r.logger.Debug("notebook created concurrently, leaving it untouched", "path", r.outputPath)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("write notebook: %w", err)
	}
	return true, nil
}

func (r *Renderer) render(in Input) ([]byte, error) {
	raw, err := r.loadTemplate(in.State)
	if err != nil {
		return nil, err
	}
	return substitute(raw, placeholders(in))
}

func (r *Renderer) loadTemplate(state State) ([]byte, error) {
	switch state {
	case StateManual, StateArchive, StateConflict:
	default:
		return nil, fmt.Errorf("unknown notebook state %q", state)
	}
	name := string(state) + templateSuffix
	if r.templateDir != "" {
		raw, err := os.ReadFile(filepath.Join(r.templateDir, name))
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
	}
	raw, err := templates.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("read built-in template %s: %w", name, err)
	}
	return raw, nil
}

func placeholders(in Input) map[string]string {
	var md catalog.Metadata
	if in.Metadata != nil {
		md = *in.Metadata
	}
	profile := in.Profile
	if profile == "" {
		profile = md.AiidaProfile
	}
	notice := strings.TrimSpace(in.Notice)
	if notice == "" {
		notice = defaultNotice
	}
	return map[string]string{
		"title":            orDefault(md.Title, defaultTitle),
		"doi":              orDefault(md.DOI, defaultDOI),
		"doi_url":          orDefault(md.DOIURL(), defaultDOI),
		"mca_entry":        orDefault(md.MCAEntry, defaultUnknown),
		"archive_filename": orDefault(md.ArchiveFilename, defaultUnknown),
		"archive_url":      orDefault(md.ArchiveURL, defaultUnknown),
		"aiida_profile":    orDefault(profile, constants.DefaultWritableProfile),
		"session_notice":   notice,
	}
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// substitute replaces {{name}} placeholders inside every cell source. Values
// are inserted into decoded strings, so JSON escaping is handled on encode.
func substitute(raw []byte, values map[string]string) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse notebook template: %w", err)
	}
	rawCells, ok := doc["cells"]
	if !ok {
		return nil, fmt.Errorf("notebook template has no cells")
	}
	var cells []map[string]json.RawMessage
	if err := json.Unmarshal(rawCells, &cells); err != nil {
		return nil, fmt.Errorf("parse notebook cells: %w", err)
	}

	pairs := make([]string, 0, len(values)*2)
	for name, value := range values {
		pairs = append(pairs, "{{"+name+"}}", value)
	}
	replacer := strings.NewReplacer(pairs...)

	for i, cell := range cells {
		source, ok := cell["source"]
		if !ok {
			continue
		}
		replaced, err := substituteSource(source, replacer)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		cell["source"] = replaced
	}

	encodedCells, err := encode(cells)
	if err != nil {
		return nil, err
	}
	doc["cells"] = encodedCells

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", " ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode notebook: %w", err)
	}
	return buf.Bytes(), nil
}

// substituteSource handles both encodings nbformat allows for a cell source:
// a single string or a list of lines.
func substituteSource(source json.RawMessage, replacer *strings.Replacer) (json.RawMessage, error) {
	var lines []string
	if err := json.Unmarshal(source, &lines); err == nil {
		for i := range lines {
			lines[i] = replacer.Replace(lines[i])
		}
		return encode(lines)
	}
	var text string
	if err := json.Unmarshal(source, &text); err != nil {
		return nil, fmt.Errorf("cell source is neither a string nor a list of strings")
	}
	return encode(replacer.Replace(text))
}

func encode(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode notebook: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
