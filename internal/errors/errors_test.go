package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, KindStoreFailure, "hint"))
}

func TestWrapPreservesCauseAndKind(t *testing.T) {
	cause := stderrors.New("verdi exited 1")
	err := fmt.Errorf("ensure profile: %w", Wrap(cause, KindProfileCreationFailed, "re-run bootstrap"))

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindProfileCreationFailed, KindOf(err))
	assert.Equal(t, "re-run bootstrap", HintOf(err))
	assert.False(t, Recoverable(err))
	assert.Equal(t, ExitProfileCreationFailed, ExitCode(err))
}

func TestRecoverableKinds(t *testing.T) {
	tests := []struct {
		kind        Kind
		recoverable bool
		exit        int
	}{
		{KindLocatorInvalid, true, ExitFailure},
		{KindMetadataFetchFailed, true, ExitFailure},
		{KindRegistryUnavailable, true, ExitFailure},
		{KindTemplateRenderFailed, true, ExitFailure},
		{KindProfileCreationFailed, false, ExitProfileCreationFailed},
		{KindConfigInvalid, false, ExitConfigInvalid},
		{KindStoreFailure, false, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := Wrap(stderrors.New("boom"), tt.kind, "")
			assert.Equal(t, tt.recoverable, Recoverable(err))
			assert.Equal(t, tt.exit, ExitCode(err))
		})
	}
}

func TestUnclassified(t *testing.T) {
	err := stderrors.New("plain")
	assert.Equal(t, Kind(""), KindOf(err))
	assert.Empty(t, HintOf(err))
	assert.False(t, Recoverable(err))
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.Equal(t, ExitOK, ExitCode(nil))
}
