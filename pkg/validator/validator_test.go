package validator

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signupBody struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Client   string `json:"client" validate:"omitempty,oneof=android ios web"`
}

func TestValidate_Valid(t *testing.T) {
	err := Validate(signupBody{Name: "Ana", Email: "ana@x.com", Password: "secret1"})
	assert.NoError(t, err)
}

func TestValidate_ReportsJSONFieldNames(t *testing.T) {
	err := Validate(signupBody{Email: "not-an-email", Password: "abc", Client: "desktop"})
	require.Error(t, err)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))

	fields := valErr.Fields()
	assert.Equal(t, "is required", fields["name"])
	assert.Equal(t, "must be a valid email address", fields["email"])
	assert.Equal(t, "must be at least 6 characters", fields["password"])
	assert.Equal(t, "must be one of: android ios web", fields["client"])
	assert.Contains(t, valErr.Error(), "field 'email'")
}

func TestDecodeAndValidate(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"Ana","email":"ana@x.com","password":"secret1"}`))
	w := httptest.NewRecorder()

	var body signupBody
	require.NoError(t, DecodeAndValidate(w, r, &body))
	assert.Equal(t, "Ana", body.Name)
}

func TestDecodeAndValidate_MalformedJSON(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":`))
	w := httptest.NewRecorder()

	var body signupBody
	err := DecodeAndValidate(w, r, &body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}
