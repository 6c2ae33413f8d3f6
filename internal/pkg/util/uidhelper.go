// Package util contains small helpers shared by the proxies of devgate.
package util

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/unbasical/devgate/pkg/constants"
)

// AssignRequestUID attaches a correlation id to a http request.
// An id sent by the client in the X-Request-Id header is kept.
func AssignRequestUID(req *http.Request) *http.Request {
	reqID := req.Header.Get(constants.HeaderRequestID)
	if reqID == "" {
		reqID = uuid.New().String()
	}
	return req.WithContext(context.WithValue(req.Context(), constants.ContextKeyRequestID, reqID))
}

// GetRequestUID will get reqID from a http request and return it as a string
func GetRequestUID(req *http.Request) string {
	reqID := req.Context().Value(constants.ContextKeyRequestID)
	if ret, ok := reqID.(string); ok {
		return ret
	}
	return ""
}
