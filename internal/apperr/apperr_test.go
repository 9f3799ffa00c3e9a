package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_WrappedSentinel(t *testing.T) {
	err := fmt.Errorf("enroll u1: %w", ErrNoQuota)

	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "no_quota", CodeOf(err))
	assert.True(t, errors.Is(err, ErrNoQuota))
	assert.False(t, IsTransient(err))
}

func TestKindOf_TransientWrap(t *testing.T) {
	cause := errors.New("deadlock detected")
	err := Wrap(KindTransient, "storage_busy", cause, "update entry")

	assert.True(t, IsTransient(err))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "update entry: deadlock detected", err.Error())
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, "internal", CodeOf(errors.New("boom")))
	assert.Nil(t, Wrap(KindTransient, "x", nil, "nothing"))
}

func TestValidationf(t *testing.T) {
	err := Validationf("page must be positive, got %d", -1)

	assert.Equal(t, KindValidation, KindOf(err))
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "got -1")
}
