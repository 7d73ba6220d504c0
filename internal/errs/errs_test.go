package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindStateConflict, KindOf(Conflict("brief %s is %s", "b1", "approved")))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))

	wrapped := fmt.Errorf("decide: %w", NotFound("brief %s not found", "b1"))
	assert.True(t, Is(wrapped, KindNotFound))
	assert.Equal(t, "decide: brief b1 not found", wrapped.Error())
}

func TestFieldErrors(t *testing.T) {
	fe := FieldErrors{}
	assert.NoError(t, fe.Err("invalid brief"))

	fe.Add("title", "required")
	fe.Add("title", "too long")
	err := fe.Err("invalid brief")
	assert.True(t, Is(err, KindValidationFailed))
	assert.Equal(t, map[string]string{"title": "required"}, FieldsOf(err))
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Internal(cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal error", err.Error())
	assert.NoError(t, Internal(nil))
}
