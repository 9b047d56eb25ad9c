package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code ErrorCode
		want int
	}{
		{Success, http.StatusOK},
		{InvalidParams, http.StatusBadRequest},
		{ValidationFailed, http.StatusBadRequest},
		{CodeTooLarge, http.StatusBadRequest},
		{InvalidResultStatus, http.StatusBadRequest},
		{Unauthorized, http.StatusUnauthorized},
		{ResultTokenInvalid, http.StatusUnauthorized},
		{NotFound, http.StatusNotFound},
		{SubmissionNotFound, http.StatusNotFound},
		{FinalizeConflict, http.StatusConflict},
		{TooManyRequests, http.StatusTooManyRequests},
		{SubmitTooFrequently, http.StatusTooManyRequests},
		{ServiceUnavailable, http.StatusServiceUnavailable},
		{StoreUnavailable, http.StatusServiceUnavailable},
		{QueueUnavailable, http.StatusServiceUnavailable},
		{DatabaseError, http.StatusServiceUnavailable},
		{InternalServerError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Errorf("HTTPStatus(%d) = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := Wrapf(cause, StoreUnavailable, "create submission failed")

	if GetCode(err) != StoreUnavailable {
		t.Fatalf("code = %d, want %d", GetCode(err), StoreUnavailable)
	}
	if !errors.Is(err, cause) {
		t.Fatal("wrapped error lost its cause")
	}
}

func TestGetCodeOnForeignError(t *testing.T) {
	t.Parallel()

	if got := GetCode(errors.New("plain")); got != InternalServerError {
		t.Fatalf("GetCode(plain) = %d, want %d", got, InternalServerError)
	}
	if got := GetCode(nil); got != Success {
		t.Fatalf("GetCode(nil) = %d, want %d", got, Success)
	}
}

func TestWithDetail(t *testing.T) {
	t.Parallel()

	err := New(CodeTooLarge).WithDetail("max_bytes", 1024)
	if err.Details["max_bytes"] != 1024 {
		t.Fatalf("details = %v", err.Details)
	}
	if err.Code.Message() == "" {
		t.Fatal("missing default message")
	}
}
