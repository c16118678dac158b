package errors

import (
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetsDefaults(t *testing.T) {
	t.Parallel()

	err := New(CodeInvalidArgument, "bad input")
	assert.Equal(t, CodeInvalidArgument, err.Code)
	assert.Equal(t, "bad input", err.Message)
	assert.Equal(t, CategoryClient, err.Category)
	assert.False(t, err.Timestamp.IsZero())
	assert.NotNil(t, err.Details)
}

func TestCategoryFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code Code
		want Category
	}{
		{CodeUnauthenticated, CategoryAuth},
		{CodeForbidden, CategoryAuth},
		{CodeNotFound, CategoryClient},
		{CodeConflict, CategoryClient},
		{CodePermissionDenied, CategoryProvider},
		{CodeQuotaExceeded, CategoryProvider},
		{CodeProviderUnavailable, CategoryProvider},
		{CodeOverloaded, CategoryEngine},
		{CodeTransient, CategoryEngine},
		{CodeInternal, CategoryInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "x").Category)
		})
	}
}

func TestRetryableByDefault(t *testing.T) {
	t.Parallel()

	retryable := []Code{CodeTransient, CodeQuotaExceeded, CodeOverloaded, CodeProviderUnavailable}
	for _, c := range retryable {
		assert.True(t, New(c, "x").Retryable, "%s should be retryable by default", c)
	}

	nonRetryable := []Code{CodeInvalidArgument, CodeNotFound, CodePermissionDenied, CodeConflict}
	for _, c := range nonRetryable {
		assert.False(t, New(c, "x").Retryable, "%s should not be retryable by default", c)
	}
}

func TestHTTPStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code Code
		want int
	}{
		{CodeUnauthenticated, 401},
		{CodeForbidden, 403},
		{CodeNotFound, 404},
		{CodeInvalidArgument, 400},
		{CodeConflict, 409},
		{CodeOverloaded, 429},
		{CodeQuotaExceeded, 429},
		{CodeProviderUnavailable, 503},
		{CodeUnavailable, 503},
		{CodeTransient, 504},
		{CodeInternal, 500},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "x").HTTPStatus)
		})
	}
}

func TestErrorStringFormatting(t *testing.T) {
	t.Parallel()

	full := New(CodeNotFound, "no such object").WithComponent("catalog").WithOperation("Get")
	assert.Equal(t, "[catalog:Get] NOT_FOUND: no such object", full.Error())

	componentOnly := New(CodeInvalidArgument, "bad value").WithComponent("api")
	assert.Equal(t, "[api] INVALID_ARGUMENT: bad value", componentOnly.Error())

	minimal := New(CodeInternal, "boom")
	assert.Equal(t, "INTERNAL: boom", minimal.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("underlying failure")
	err := Wrap(CodeProviderUnavailable, cause, "provider call failed")

	assert.Same(t, cause, err.Unwrap())
	assert.ErrorIs(t, err, cause)
}

func TestWithDetail(t *testing.T) {
	t.Parallel()

	err := New(CodeInvalidArgument, "bad request").WithDetail("field", "file_list")
	assert.Equal(t, "file_list", err.Details["field"])
}

func TestIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := New(CodeConflict, "already running")
	assert.True(t, Is(err, CodeConflict))
	assert.False(t, Is(err, CodeNotFound))
	assert.False(t, Is(stderrors.New("plain error"), CodeConflict))
}

func TestIsInspectsOutermostError(t *testing.T) {
	t.Parallel()

	inner := New(CodeTransient, "retry me")
	outer := Wrap(CodeInternal, inner, "outer failure")
	// Wrap sets Cause to inner but outer's own code is CodeInternal;
	// Is only inspects the outermost *Error, matching the propagation
	// policy that boundaries translate rather than tunnel codes.
	assert.True(t, Is(outer, CodeInternal))
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CodeNotFound, CodeOf(New(CodeNotFound, "missing")))
	assert.Equal(t, CodeInternal, CodeOf(stderrors.New("some other error")))
	assert.Equal(t, CodeTransient, CodeOf(stderrors.New("context deadline exceeded")))
}

func TestJSONRendersStableFields(t *testing.T) {
	t.Parallel()

	err := New(CodeInvalidArgument, "invalid request").WithComponent("api").WithOperation("CreateJob")

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(err.JSON()), &parsed))
	assert.Equal(t, "INVALID_ARGUMENT", parsed["code"])
	assert.Equal(t, "invalid request", parsed["message"])
	assert.Equal(t, "api", parsed["component"])
	assert.Equal(t, "CreateJob", parsed["operation"])
	assert.NotContains(t, parsed, "cause")
}
