// Package testutil holds helpers shared by handler and integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityid/pkg/platform/httputil"
)

// NewJSONRequest builds a request whose body is v marshalled to JSON. A nil v
// sends no body. A non-empty token is sent as a bearer credential.
func NewJSONRequest(t *testing.T, method, path, token string, v any) *http.Request {
	t.Helper()

	var body io.Reader
	if v != nil {
		raw, err := json.Marshal(v)
		require.NoError(t, err, "marshal request body")
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// DoRequest serves req through handler and returns the recorder.
func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// UnmarshalResponse decodes the response body into a T. The body is left
// readable for later assertions.
func UnmarshalResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "decode response: %s", rr.Body.String())
	return out
}

// AssertStatus checks the status code and prints the body on mismatch.
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	assert.Equal(t, want, rr.Code, "unexpected status, body: %s", rr.Body.String())
}

// AssertStatusAndError checks the status code and the error code of an
// error envelope.
func AssertStatusAndError(t *testing.T, rr *httptest.ResponseRecorder, want int, code string) {
	t.Helper()
	AssertStatus(t, rr, want)
	resp := UnmarshalResponse[httputil.ErrorResponse](t, rr)
	assert.Equal(t, code, resp.Error, "unexpected error code")
}
