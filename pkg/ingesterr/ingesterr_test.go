package ingesterr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 1, ConfigInvalid.ExitCode())
	assert.Equal(t, 2, ShapeMismatch.ExitCode())
	assert.Equal(t, 2, BadUVW.ExitCode())
	assert.Equal(t, 3, Interrupted.ExitCode())
	assert.Equal(t, 0, DatagramLost.ExitCode())
	assert.Equal(t, 0, BadCycle.ExitCode())
}

func TestWrapAndAs(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(BadUVW, "mergedsource", cause)

	assert.True(t, As(err, BadUVW))
	assert.False(t, As(err, ShapeMismatch))
	assert.ErrorIs(t, err.Unwrap(), cause)
	assert.Contains(t, err.Error(), "mergedsource")
}

func TestAsFalseForPlainError(t *testing.T) {
	assert.False(t, As(errors.New("plain"), BadUVW))
	assert.False(t, As(nil, BadUVW))
}
