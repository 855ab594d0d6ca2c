package worker

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetExitEvent_Success(t *testing.T) {
	evt := getExitEvent(nil)

	if assert.NotNil(t, evt.Code) {
		assert.Equal(t, 0, *evt.Code)
	}
	assert.Nil(t, evt.Signal)
}

func TestGetExitEvent_UnknownError(t *testing.T) {
	evt := getExitEvent(errors.New("boom"))

	assert.Equal(t, 1, evt.ExitCode())
}

func TestExitEvent_ExitCode_NoStatus(t *testing.T) {
	assert.Equal(t, 1, ExitEvent{}.ExitCode())
}

func TestClassifyStartError(t *testing.T) {
	assert.Equal(t, ReasonNotFound, classifyStartError(exec.ErrNotFound))
	assert.Equal(t, ReasonNotFound, classifyStartError(&fs.PathError{Err: fs.ErrNotExist}))
	assert.Equal(t, ReasonPermissionDenied, classifyStartError(&fs.PathError{Err: fs.ErrPermission}))
	assert.Equal(t, ReasonUnknown, classifyStartError(errors.New("boom")))
}

func TestCheckWorkDir(t *testing.T) {
	dir := t.TempDir()

	file := filepath.Join(dir, "file")
	assert.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.NoError(t, checkWorkDir(""))
	assert.NoError(t, checkWorkDir(dir))
	assert.Error(t, checkWorkDir(file))
	assert.Error(t, checkWorkDir(filepath.Join(dir, "missing")))
}

func TestLaunchError_Message(t *testing.T) {
	err := &LaunchError{
		Reason:  ReasonInvalidWorkingDir,
		Command: []string{"cat"},
		Cwd:     "/nope",
		Err:     fs.ErrNotExist,
	}

	assert.Contains(t, err.Error(), "invalid working directory")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
