package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{InvalidErr("bad"), http.StatusBadRequest},
		{MismatchErr("amount", "Amount mismatch"), http.StatusBadRequest},
		{UnauthorizedErr("who"), http.StatusUnauthorized},
		{ForbiddenErr("no"), http.StatusForbidden},
		{NotFoundErr("gone"), http.StatusNotFound},
		{ConflictErr("busy"), http.StatusConflict},
		{ChainUnavailableErr("rpc down", errors.New("dial")), http.StatusServiceUnavailable},
		{Wrap(errors.New("boom")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestWrappedAppError(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("confirm: %w", ChainUnavailableErr("Chain RPC unavailable", cause))

	assert.True(t, Is(err, ChainUnavailable))
	assert.False(t, Is(err, Conflict))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Chain RPC unavailable", PublicMessage(err))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(err))
}

func TestKindOfAndPublicMessage(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("x")))
	assert.Equal(t, "Unexpected error", PublicMessage(errors.New("secret detail")))
	assert.False(t, Is(nil, Internal))
	assert.Nil(t, Wrap(nil))

	ae, ok := As(MismatchErr("recipient", "Recipient mismatch"))
	assert.True(t, ok)
	assert.Equal(t, "recipient", ae.Reason)
}

func TestAppError_Error(t *testing.T) {
	assert.Equal(t, "invalid: bad", InvalidErrf("%s", "bad").Error())
	assert.Equal(t, "internal: Unexpected error: boom", Wrap(errors.New("boom")).Error())
	assert.Equal(t, "conflict", (&AppError{Kind: Conflict}).Error())
	assert.Equal(t, "internal: boom", (&AppError{Kind: Internal, Err: errors.New("boom")}).Error())
}
