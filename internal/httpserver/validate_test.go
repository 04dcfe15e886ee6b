package httpserver

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Name  string `json:"name" validate:"required,min=2"`
	Email string `json:"email" validate:"omitempty,email"`
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"x","bogus":1}`))
	var dst sampleRequest
	err := Decode(r, &dst)
	assert.Error(t, err)
}

func TestDecodeRejectsEmptyBody(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(""))
	var dst sampleRequest
	err := Decode(r, &dst)
	assert.ErrorContains(t, err, "empty")
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"ok"}{"name":"again"}`))
	var dst sampleRequest
	err := Decode(r, &dst)
	assert.Error(t, err)
}

func TestValidateFieldErrors(t *testing.T) {
	errs := Validate(sampleRequest{Name: "a", Email: "not-an-email"})
	require.Len(t, errs, 2)

	fields := []string{errs[0].Field, errs[1].Field}
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "email")
}

func TestValidatePasses(t *testing.T) {
	errs := Validate(sampleRequest{Name: "Acme Insurance"})
	assert.Empty(t, errs)
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "sending_speed", toSnakeCase("SendingSpeed"))
	assert.Equal(t, "name", toSnakeCase("Name"))
}
