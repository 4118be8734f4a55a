package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimaestro/meshhost/internal/errs"
)

func TestValidateRegisterAcceptsMinimalBody(t *testing.T) {
	err := Validate("register", []byte(`{"name":"bot-1","publicKeyPem":"-----BEGIN PUBLIC KEY-----..."}`))
	require.NoError(t, err)
}

func TestValidateRegisterRejectsMissingPublicKey(t *testing.T) {
	err := Validate("register", []byte(`{"name":"bot-1"}`))
	require.Error(t, err)
	assert.Equal(t, errs.InvalidField, errs.CodeOf(err))
}

func TestValidateRegisterRejectsMalformedJSON(t *testing.T) {
	err := Validate("register", []byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, errs.InvalidField, errs.CodeOf(err))
}

func TestValidateRouteAcceptsMinimalBody(t *testing.T) {
	err := Validate("route", []byte(`{"to":"agent://bot-2","payload":{"type":"text","message":"hi"}}`))
	require.NoError(t, err)
}

func TestValidateRouteRejectsMissingPayloadType(t *testing.T) {
	err := Validate("route", []byte(`{"to":"agent://bot-2","payload":{"message":"hi"}}`))
	require.Error(t, err)
}

func TestValidateUnknownSchemaName(t *testing.T) {
	err := Validate("nonexistent", []byte(`{}`))
	require.Error(t, err)
}
