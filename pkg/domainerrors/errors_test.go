package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	err := New(CodeValidation, "field is required")
	assert.Equal(t, "validation: field is required", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, CodeInternal, "cannot persist document")

	assert.Equal(t, "internal: cannot persist document: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestWrapNilYieldsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestHasCodeWalksChain(t *testing.T) {
	inner := New(CodeValidation, "bad field")
	middle := Wrap(inner, CodeInternal, "processing failed")
	outer := fmt.Errorf("handler: %w", middle)

	assert.True(t, HasCode(outer, CodeInternal))
	assert.True(t, HasCode(outer, CodeValidation))
	assert.False(t, HasCode(outer, CodeNotFound))
	assert.False(t, HasCode(nil, CodeInternal))
	assert.False(t, HasCode(errors.New("plain"), CodeInternal))
}

func TestWithDetail(t *testing.T) {
	err := New(CodeValidation, "documents not eligible").
		WithDetail("offending_ids", "a,b").
		WithDetail("reason", "delivered")

	assert.Equal(t, "a,b", Detail(err, "offending_ids"))
	assert.Equal(t, "delivered", Detail(err, "reason"))
	assert.Empty(t, Detail(err, "missing"))
}

func TestDetailReadsOutermostCodedError(t *testing.T) {
	inner := New(CodeValidation, "inner").WithDetail("key", "inner-value")
	outer := Wrap(inner, CodeInternal, "outer").WithDetail("key", "outer-value")

	assert.Equal(t, "outer-value", Detail(outer, "key"))
	assert.Empty(t, Detail(errors.New("plain"), "key"))
}

func TestIsAlias(t *testing.T) {
	err := New(CodeConflict, "taken")
	require.True(t, Is(err, CodeConflict))
	require.False(t, Is(err, CodeValidation))
}
