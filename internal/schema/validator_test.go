package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInitializedValidator(t *testing.T) *Validator {
	t.Helper()
	v := NewValidator(nil)
	require.NoError(t, v.Initialize(context.Background()))
	return v
}

func TestValidator_AcceptsWellFormedCall(t *testing.T) {
	v := newInitializedValidator(t)
	err := v.Validate(context.Background(), KindCall, []byte(`{"method":"org.varlink.service.GetInfo"}`))
	assert.NoError(t, err)
}

func TestValidator_AcceptsCallWithAllFields(t *testing.T) {
	v := newInitializedValidator(t)
	err := v.Validate(context.Background(), KindCall, []byte(`{"method":"org.example.Foo","parameters":{"a":1},"more":true}`))
	assert.NoError(t, err)
}

func TestValidator_RejectsCallMissingMethod(t *testing.T) {
	v := newInitializedValidator(t)
	err := v.Validate(context.Background(), KindCall, []byte(`{"parameters":{}}`))
	assert.Error(t, err)
}

func TestValidator_RejectsCallWithUnknownField(t *testing.T) {
	v := newInitializedValidator(t)
	err := v.Validate(context.Background(), KindCall, []byte(`{"method":"org.example.Foo","bogus":true}`))
	assert.Error(t, err)
}

func TestValidator_RejectsInvalidJSON(t *testing.T) {
	v := newInitializedValidator(t)
	err := v.Validate(context.Background(), KindCall, []byte(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestValidator_AcceptsSuccessReply(t *testing.T) {
	v := newInitializedValidator(t)
	err := v.Validate(context.Background(), KindReply, []byte(`{"parameters":{"vendor":"Acme"}}`))
	assert.NoError(t, err)
}

func TestValidator_AcceptsErrorReply(t *testing.T) {
	v := newInitializedValidator(t)
	err := v.Validate(context.Background(), KindReply, []byte(`{"error":"org.varlink.service.MethodNotFound","parameters":{"method":"Foo"}}`))
	assert.NoError(t, err)
}

func TestValidator_RejectsReplyWithUnknownField(t *testing.T) {
	v := newInitializedValidator(t)
	err := v.Validate(context.Background(), KindReply, []byte(`{"unexpected":true}`))
	assert.Error(t, err)
}

func TestValidator_RejectsUseBeforeInitialize(t *testing.T) {
	v := NewValidator(nil)
	err := v.Validate(context.Background(), KindCall, []byte(`{"method":"org.example.Foo"}`))
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, v.IsInitialized())
}

func TestValidator_InitializeIsIdempotent(t *testing.T) {
	v := newInitializedValidator(t)
	assert.NoError(t, v.Initialize(context.Background()))
	assert.True(t, v.IsInitialized())
}

func TestValidator_RejectsUnknownKind(t *testing.T) {
	v := newInitializedValidator(t)
	err := v.Validate(context.Background(), "bogus", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}
