// Package errors classifies bootstrap failures so callers can decide between
// degrading and aborting without string matching.
package errors

import "errors"

type Kind string

const (
	KindLocatorInvalid        Kind = "locator_invalid"
	KindMetadataFetchFailed   Kind = "metadata_fetch_failed"
	KindRegistryUnavailable   Kind = "registry_unavailable"
	KindProfileCreationFailed Kind = "profile_creation_failed"
	KindTemplateRenderFailed  Kind = "template_render_failed"
	KindConfigInvalid         Kind = "config_invalid"
	KindStoreFailure          Kind = "store_failure"
)

// Exit codes returned by the CLI.
const (
	ExitOK                    = 0
	ExitFailure               = 1
	ExitConfigInvalid         = 2
	ExitProfileCreationFailed = 3
)

type classifiedError struct {
	kind        Kind
	hint        string
	recoverable bool
	cause       error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

// Wrap attaches a kind and a user-facing hint to cause. Returns nil for a nil cause.
func Wrap(cause error, kind Kind, hint string) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		kind:        kind,
		hint:        hint,
		recoverable: recoverableKind(kind),
		cause:       cause,
	}
}

func recoverableKind(kind Kind) bool {
	switch kind {
	case KindLocatorInvalid, KindMetadataFetchFailed, KindRegistryUnavailable, KindTemplateRenderFailed:
		return true
	}
	return false
}

func KindOf(err error) Kind {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.kind
	}
	return ""
}

func HintOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.hint
	}
	return ""
}

// Recoverable reports whether err may be downgraded instead of aborting the run.
func Recoverable(err error) bool {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.recoverable
	}
	return false
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindProfileCreationFailed:
		return ExitProfileCreationFailed
	case KindConfigInvalid:
		return ExitConfigInvalid
	}
	return ExitFailure
}
