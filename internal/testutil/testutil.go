// Package testutil holds helpers shared by the debug page tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// LoopbackAddr is a RemoteAddr that passes tsweb's debug access check.
const LoopbackAddr = "127.0.0.1:12345"

// NewDebugRequest creates a request that appears to come from localhost.
func NewDebugRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = LoopbackAddr
	return req
}

// ServeDebug sends a loopback request to h and returns the recorded response.
func ServeDebug(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, NewDebugRequest(method, path, nil))
	return rec
}

// AssertStatusCode checks the recorded status, showing the body on mismatch.
func AssertStatusCode(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Errorf("status code = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}
