package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
		expected    string
	}{
		{
			name:     "valid JSON",
			body:     `{"planId": "premium"}`,
			expected: "premium",
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
		{
			name: "empty body",
			body: ``,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/plans/upgrade", bytes.NewBufferString(tt.body))
			var dest struct {
				PlanID string `json:"planId"`
			}

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, dest.PlanID)
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`[`))
	var dest map[string]string

	assert.False(t, ParseJSONOrError(w, req, &dest))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathString(t *testing.T) {
	router := mux.NewRouter()
	var got string
	var ok bool
	router.HandleFunc("/plans/check-limit/{resource}", func(w http.ResponseWriter, r *http.Request) {
		got, ok = ParsePathStringOrError(w, r, "resource")
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plans/check-limit/students", nil))
	assert.True(t, ok)
	assert.Equal(t, "students", got)

	w := httptest.NewRecorder()
	_, ok = ParsePathStringOrError(w, httptest.NewRequest(http.MethodGet, "/", nil), "resource")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadBody(t *testing.T) {
	body, err := ReadBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello")), 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	_, err = ReadBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello!")), 5)
	assert.Error(t, err)
}

func TestParseQueryInt(t *testing.T) {
	val, err := ParseQueryInt(httptest.NewRequest("GET", "/test?limit=5", nil), "limit", 20)
	assert.NoError(t, err)
	assert.Equal(t, 5, val)

	val, err = ParseQueryInt(httptest.NewRequest("GET", "/test", nil), "limit", 20)
	assert.NoError(t, err)
	assert.Equal(t, 20, val)

	_, err = ParseQueryInt(httptest.NewRequest("GET", "/test?limit=ten", nil), "limit", 20)
	assert.ErrorContains(t, err, "limit")
}
