package httpserver

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePageParamsDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/leads", nil)
	p, err := ParsePageParams(r)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.PerPage)
	assert.Equal(t, 0, p.Offset())
}

func TestParsePageParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/leads?page=3&per_page=10", nil)
	p, err := ParsePageParams(r)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 10, p.PerPage)
	assert.Equal(t, 20, p.Offset())
}

func TestParsePageParamsClampsPerPage(t *testing.T) {
	r := httptest.NewRequest("GET", "/leads?per_page=5000", nil)
	p, err := ParsePageParams(r)
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, p.PerPage)
}

func TestParsePageParamsRejectsGarbage(t *testing.T) {
	for _, q := range []string{"page=0", "page=-1", "page=abc", "per_page=0", "per_page=x"} {
		r := httptest.NewRequest("GET", "/leads?"+q, nil)
		_, err := ParsePageParams(r)
		assert.Error(t, err, q)
	}
}
