package auth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"configuration", newError(KindConfiguration, "configure", "bad", nil), http.StatusInternalServerError},
		{"validation", newError(KindValidation, opLogin, "bad redirect", nil), http.StatusBadRequest},
		{"csrf", newError(KindCSRFMismatch, opCallback, "state mismatch", nil), http.StatusBadRequest},
		{"provider at callback", newError(KindProvider, opCallback, "exchange failed", nil), http.StatusBadGateway},
		{"provider at refresh", newError(KindProvider, opRefresh, "refresh failed", nil), http.StatusUnauthorized},
		{"transport", newError(KindTransport, opCallback, "write failed", nil), http.StatusInternalServerError},
		{"access denied", newError(KindAccessDenied, opCallback, "rejected", nil), http.StatusForbidden},
		{"unauthenticated", newError(KindUnauthenticated, opToken, "no session", nil), http.StatusUnauthorized},
		{"wrapped", fmt.Errorf("handler: %w", newError(KindCSRFMismatch, opCallback, "x", nil)), http.StatusBadRequest},
		{"foreign error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestError_Is(t *testing.T) {
	cause := errors.New("invalid_grant")
	err := newError(KindProvider, opRefresh, "token refresh failed", cause)

	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, &Error{Kind: KindProvider, Op: opRefresh})
	assert.NotErrorIs(t, err, &Error{Kind: KindProvider, Op: opCallback})
	assert.NotErrorIs(t, err, ErrCSRFMismatch)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, KindProvider, KindOf(fmt.Errorf("wrap: %w", err)))
	assert.Equal(t, Kind(0), KindOf(cause))
}

func TestError_Message(t *testing.T) {
	err := newError(KindCSRFMismatch, opCallback, "state mismatch", nil)
	assert.Equal(t, "auth: callback: state mismatch", err.Error())

	err = newError(KindTransport, "", "", errors.New("disk full"))
	assert.Equal(t, "auth: transport_error: disk full", err.Error())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "csrf_mismatch", KindCSRFMismatch.String())
	assert.Equal(t, "access_denied", KindAccessDenied.String())
	assert.Equal(t, "unknown_error", Kind(99).String())
}
