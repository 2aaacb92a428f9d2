package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNew(t *testing.T) {
	err := New(CodeServiceNotFound, "service not found")
	assert.Equal(t, CodeServiceNotFound, err.Code)
	assert.Equal(t, "service not found", err.Message)
	assert.Equal(t, SeverityError, err.Severity)
	assert.Empty(t, err.Field)
	assert.NotNil(t, err.Details)
}

func TestErrorString(t *testing.T) {
	err := New(CodeConfigMissing, "missing key")
	assert.Equal(t, "[CONFIG_MISSING] missing key", err.Error())

	withField := NewWithField(CodeInvalidArgument, "bad value", "port")
	assert.Equal(t, "[INVALID_ARGUMENT] bad value (field: port)", withField.Error())
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(cause, CodeHandlerException, "handler failed")
	assert.Same(t, cause, wrapped.Unwrap())
	assert.True(t, errors.Is(wrapped, cause))
}

func TestWithHelpers(t *testing.T) {
	err := New(CodeCheckReject, "rejected").
		WithField("quota").
		WithSeverity(SeverityCritical).
		WithDetails("limit", 10).
		WithWire(WireHandlerException)

	assert.Equal(t, "quota", err.Field)
	assert.Equal(t, SeverityCritical, err.Severity)
	assert.Equal(t, 10, err.Details["limit"])
	assert.Equal(t, WireHandlerException, err.Wire)
}

func TestWireCodeOrDefault(t *testing.T) {
	bare := New(CodeHandlerException, "panic in handler")
	assert.Equal(t, WireHandlerException, bare.WireCodeOrDefault())

	withWire := New(CodeTransportPreSend, "send failed").WithWire(WireTransportPreSend)
	assert.Equal(t, WireTransportPreSend, withWire.WireCodeOrDefault())
}

func TestIsAndCode(t *testing.T) {
	err := New(CodeNoEnableInstance, "no healthy instance")
	assert.True(t, Is(err, CodeNoEnableInstance))
	assert.False(t, Is(err, CodeServiceNotFound))
	assert.Equal(t, CodeNoEnableInstance, Code(err))
	assert.Equal(t, CodeInternal, Code(errors.New("plain")))
}

func TestGRPCStatusMapping(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want codes.Code
	}{
		{CodeInvalidArgument, codes.InvalidArgument},
		{CodeServiceNotFound, codes.NotFound},
		{CodeNoEnableInstance, codes.Unavailable},
		{CodeTimeout, codes.DeadlineExceeded},
		{CodeUnauthenticated, codes.Unauthenticated},
		{CodeCheckReject, codes.PermissionDenied},
		{CodeUnimplemented, codes.Unimplemented},
		{CodeLeaseLost, codes.Aborted},
		{CodeConfigMissing, codes.FailedPrecondition},
		{CodeHandlerException, codes.Internal},
		{CodeInternal, codes.Internal},
	}

	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			err := New(tc.code, "msg")
			assert.Equal(t, tc.want, err.GRPCStatus().Code())
		})
	}
}

func TestToGRPCAndFromGRPC(t *testing.T) {
	appErr := New(CodeServiceNotFound, "not found")
	grpcErr := ToGRPC(appErr)
	st, ok := status.FromError(grpcErr)
	require.True(t, ok)
	assert.Equal(t, codes.NotFound, st.Code())

	back := FromGRPC(grpcErr)
	assert.Equal(t, CodeServiceNotFound, back.Code)

	plain := errors.New("generic failure")
	wrapped := ToGRPC(plain)
	st2, ok := status.FromError(wrapped)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st2.Code())

	assert.Nil(t, ToGRPC(nil))
	assert.Nil(t, FromGRPC(nil))
}

func TestSeverityHelpers(t *testing.T) {
	warn := NewWarning(CodeCheckReject, "soft reject")
	assert.True(t, IsWarning(warn))
	assert.False(t, IsCritical(warn))

	crit := NewCritical(CodeLeaseLost, "lost mastership")
	assert.True(t, IsCritical(crit))
	assert.False(t, IsWarning(crit))
}

func TestValidationErrors(t *testing.T) {
	ve := NewValidationErrors()
	assert.True(t, ve.IsValid())

	ve.AddError(CodeInvalidArgument, "bad port")
	ve.AddWarning(CodeCheckReject, "near quota")
	ve.AddErrorWithField(CodeNilInput, "descriptor required", "descriptor")

	assert.False(t, ve.IsValid())
	assert.True(t, ve.HasErrors())
	assert.True(t, ve.HasWarnings())
	assert.Len(t, ve.Errors, 2)
	assert.Len(t, ve.Warnings, 1)

	other := NewValidationErrors()
	other.AddError(CodeTimeout, "slow")
	ve.Merge(other)
	assert.Len(t, ve.Errors, 3)

	assert.Contains(t, ve.ErrorMessages()[0], "INVALID_ARGUMENT")
	assert.Contains(t, ve.WarningMessages()[0], "near quota")
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "warning", SeverityWarning.String())
	assert.Equal(t, "error", SeverityError.String())
	assert.Equal(t, "critical", SeverityCritical.String())
	assert.Equal(t, "unknown", Severity(99).String())
}

func TestErrorMessagesFormatting(t *testing.T) {
	err := fmt.Errorf("wrap: %w", New(CodeAdapterLoadFailure, "bad descriptor"))
	assert.True(t, Is(err, CodeAdapterLoadFailure))
}
