package telemetry

import (
	"net/http"
)

// PassThroughResponseWriter wraps a http.ResponseWriter but the status code can be accessed.
// This is useful for e.g. logging and tracing
type PassThroughResponseWriter struct {
	statusCode int
	written    bool
	writer     http.ResponseWriter
}

// NewPassThroughResponseWriter wraps the given http.ResponseWriter
func NewPassThroughResponseWriter(w http.ResponseWriter) *PassThroughResponseWriter {
	return &PassThroughResponseWriter{
		statusCode: http.StatusOK,
		writer:     w,
	}
}

// Header returns the response http.Header
func (w *PassThroughResponseWriter) Header() http.Header {
	return w.writer.Header()
}

// StatusCode returns the response status code
func (w *PassThroughResponseWriter) StatusCode() int {
	return w.statusCode
}

// Written reports whether anything was sent to the client.
func (w *PassThroughResponseWriter) Written() bool {
	return w.written
}

// Write passes the buffer to the underlying http.ResponseWriter
func (w *PassThroughResponseWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.writer.Write(b)
}

// WriteHeader records the statusCode and passes it on to the underlying http.ResponseWriter
func (w *PassThroughResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.writer.WriteHeader(statusCode)
}
