package errs

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageFallsBackToCause(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(InternalError, "", cause)
	assert.Equal(t, "boom", e.Error())
}

func TestErrorMessagePrefersExplicitMessage(t *testing.T) {
	e := New(NameTaken, "name already in use")
	assert.Equal(t, "name already in use", e.Error())
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := Wrap(NotFound, "agent missing", cause)
	assert.ErrorIs(t, e, cause)
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Code]int{
		Unauthorized:       http.StatusUnauthorized,
		MissingField:       http.StatusBadRequest,
		InvalidField:       http.StatusBadRequest,
		NotFound:           http.StatusNotFound,
		NameTaken:          http.StatusConflict,
		ExternalProvider:   http.StatusBadRequest,
		RateLimited:        http.StatusTooManyRequests,
		PayloadTooLarge:    http.StatusRequestEntityTooLarge,
		DuplicateMessage:   http.StatusConflict,
		OrganizationNotSet: http.StatusPreconditionRequired,
		InvalidRequest:     http.StatusBadRequest,
		InternalError:      http.StatusInternalServerError,
	}
	for code, want := range cases {
		e := New(code, "x")
		assert.Equal(t, want, e.HTTPStatus(), "code %s", code)
	}
}

func TestCodeOfAndStatusOfDefaultForForeignErrors(t *testing.T) {
	foreign := errors.New("not ours")
	assert.Equal(t, InternalError, CodeOf(foreign))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(foreign))
}

func TestCodeOfAndStatusOfUnwrapThroughWrapping(t *testing.T) {
	e := New(RateLimited, "slow down")
	wrapped := errors.Join(e)
	assert.Equal(t, RateLimited, CodeOf(wrapped))
	assert.Equal(t, http.StatusTooManyRequests, StatusOf(wrapped))
}

func TestWithFields(t *testing.T) {
	e := New(NameTaken, "taken").WithFields(map[string]any{
		"suggestions": []string{"alice-2", "alice-3"},
	})
	assert.Equal(t, e, New(NameTaken, "taken").WithFields(e.Fields))
	assert.Len(t, e.Fields["suggestions"], 2)
}
