package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_StatusMapping(t *testing.T) {
	cases := map[Code]int{
		CodeMissingAuth:    http.StatusUnauthorized,
		CodeInvalidToken:   http.StatusUnauthorized,
		CodeRevoked:        http.StatusUnauthorized,
		CodeExpired:        http.StatusUnauthorized,
		CodeTrialExpired:   http.StatusUnauthorized,
		CodeWrongSeller:    http.StatusForbidden,
		CodeNotApproved:    http.StatusForbidden,
		CodeShareNotFound:  http.StatusNotFound,
		CodeBadPredicate:   http.StatusBadRequest,
		CodeUnknownColumn:  http.StatusBadRequest,
		CodeLimitOverflow:  http.StatusBadRequest,
		CodeSchemaMismatch: http.StatusInternalServerError,
		CodeInternal:       http.StatusInternalServerError,
	}
	for code, want := range cases {
		err := New(code, "boom")
		if got := err.Status(); got != want {
			t.Errorf("code %s: want status %d, got %d", code, want, got)
		}
	}
}

func TestError_UnknownCodeDefaultsTo500(t *testing.T) {
	err := New(Code("something_new"), "boom")
	if err.Status() != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unmapped code, got %d", err.Status())
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("underlying failure")
	err := Wrap(CodeInternal, "lookup failed", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected Wrap to preserve the cause via errors.Is")
	}
	if err.Error() == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestAs_ExtractsFromWrappedError(t *testing.T) {
	apiErr := New(CodeNotApproved, "share not approved")
	wrapped := fmt.Errorf("handler: %w", apiErr)

	got, ok := As(wrapped)
	if !ok {
		t.Fatalf("expected As to find the wrapped *Error")
	}
	if got.Code != CodeNotApproved {
		t.Fatalf("expected code %s, got %s", CodeNotApproved, got.Code)
	}
}

func TestStatusFor_NonAPIError(t *testing.T) {
	if got := StatusFor(errors.New("plain error")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for a non-apierr error, got %d", got)
	}
}
