package util

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unbasical/devgate/pkg/constants"
)

func TestAssignRequestUID(t *testing.T) {
	r := AssignRequestUID(httptest.NewRequest(http.MethodGet, "/tango", nil))
	first := GetRequestUID(r)
	assert.Len(t, first, 36)

	second := GetRequestUID(AssignRequestUID(httptest.NewRequest(http.MethodGet, "/tango", nil)))
	assert.NotEqual(t, first, second)
}

func TestAssignRequestUIDKeepsClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/tango", nil)
	req.Header.Set(constants.HeaderRequestID, "abc-123")
	assert.Equal(t, "abc-123", GetRequestUID(AssignRequestUID(req)))
}

func TestGetRequestUIDWithoutID(t *testing.T) {
	assert.Equal(t, "", GetRequestUID(httptest.NewRequest(http.MethodGet, "/tango", nil)))
}

func TestInMemResponseWriter(t *testing.T) {
	w := NewInMemResponseWriter()
	assert.Equal(t, http.StatusOK, w.StatusCode())

	http.Error(w, "denied", http.StatusMethodNotAllowed)
	n, err := w.Write([]byte("more"))
	require.NoError(t, err)

	assert.Equal(t, 4, n)
	assert.Equal(t, http.StatusMethodNotAllowed, w.StatusCode())
	assert.Equal(t, "denied\nmore", w.Body())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestUTCFormatter(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(UTCFormatter{Formatter: &log.JSONFormatter{}})

	logger.Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Regexp(t, `"time":"[^"]+Z"`, buf.String())
}
