package shell

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewExitError(42))

	assert.True(t, IsExitError(err))
	assert.Equal(t, 42, ExitCode(err))
	assert.EqualError(t, NewExitError(3), "shell exited with 3")
}

func TestExitError_Other(t *testing.T) {
	assert.False(t, IsExitError(nil))
	assert.False(t, IsExitError(errors.New("boom")))

	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
}
