package util

import (
	"net/http"
)

// InMemResponseWriter records a response instead of sending it. Used to replay requests through the pipeline
// without a client connection.
type InMemResponseWriter struct {
	body       []byte
	statusCode int
	header     http.Header
}

func NewInMemResponseWriter() *InMemResponseWriter {
	return &InMemResponseWriter{
		header:     http.Header{},
		statusCode: http.StatusOK,
	}
}

func (w *InMemResponseWriter) Header() http.Header {
	return w.header
}

func (w *InMemResponseWriter) Body() string {
	return string(w.body)
}

func (w *InMemResponseWriter) StatusCode() int {
	return w.statusCode
}

func (w *InMemResponseWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return len(b), nil
}

func (w *InMemResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
}
