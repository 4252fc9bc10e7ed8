package errs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/embedfat/fat32/errs"
)

func TestCodeIsError(t *testing.T) {
	assert.False(t, errs.Ok.IsError())
	assert.False(t, errs.MoreData.IsError())
	assert.True(t, errs.PathNotFound.IsError())
	assert.True(t, errs.IoError.IsError())
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "PathNotFound", errs.PathNotFound.String())
	assert.Contains(t, errs.Code(250).String(), "Code(250)")
}

func TestNewAndIs(t *testing.T) {
	err := errs.New(errs.DeviceFull)
	assert.Equal(t, errs.DeviceFull, errs.CodeOf(err))
	assert.ErrorIs(t, err, errs.New(errs.DeviceFull))
}

func TestNewf(t *testing.T) {
	err := errs.Newf(errs.InvalidFilename, "name %q has a reserved character", "a*b")
	assert.Contains(t, err.Error(), "a*b")
	assert.Equal(t, errs.InvalidFilename, errs.CodeOf(err))
}

func TestWrap(t *testing.T) {
	underlying := errors.New("device timed out")
	wrapped := errs.Wrap(errs.IoError, underlying)

	assert.Equal(t, errs.IoError, errs.CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, underlying)
}

func TestCodeOfNonDriverError(t *testing.T) {
	assert.Equal(t, errs.IoError, errs.CodeOf(errors.New("unrelated failure")))
	assert.Equal(t, errs.Ok, errs.CodeOf(nil))
}
