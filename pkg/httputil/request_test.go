package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func muxRequest(t *testing.T, vars map[string]string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	return mux.SetURLVars(req, vars)
}

func TestParseJSON(t *testing.T) {
	var dest struct {
		PRNumber int `json:"pr_number"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"pr_number": 42}`))
	require.NoError(t, ParseJSON(req, &dest))
	assert.Equal(t, 42, dest.PRNumber)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"pr_number":`))
	assert.Error(t, ParseJSON(req, &dest), "truncated body")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.Error(t, ParseJSON(req, &dest), "empty body")
}

func TestPathString(t *testing.T) {
	req := muxRequest(t, map[string]string{"owner": "acme"})

	got, err := PathString(req, "owner")
	require.NoError(t, err)
	assert.Equal(t, "acme", got)

	_, err = PathString(req, "repo")
	assert.Error(t, err, "absent variable")
}

func TestPathInt(t *testing.T) {
	req := muxRequest(t, map[string]string{"prNumber": "42", "bad": "seven"})

	got, err := PathInt(req, "prNumber")
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	_, err = PathInt(req, "bad")
	assert.Error(t, err, "non-numeric variable")

	_, err = PathInt(req, "absent")
	assert.Error(t, err, "absent variable")
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25&bad=x", nil)

	got, err := QueryInt(req, "limit", 10)
	require.NoError(t, err)
	assert.Equal(t, 25, got)

	got, err = QueryInt(req, "absent", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, got)

	_, err = QueryInt(req, "bad", 10)
	assert.Error(t, err, "non-numeric value")
}
