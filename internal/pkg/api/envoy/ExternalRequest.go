package envoy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"github.com/pkg/errors"
)

// externalRequest rebuilds the http request envoy asks to authorize.
type externalRequest struct {
	request *authv3.AttributeContext_HttpRequest
	source  *authv3.AttributeContext_Peer
}

func newExternalRequest(check *authv3.CheckRequest) externalRequest {
	return externalRequest{
		request: check.GetAttributes().GetRequest().GetHttp(),
		source:  check.GetAttributes().GetSource(),
	}
}

func (r externalRequest) scheme() string {
	if scheme := r.request.GetScheme(); scheme != "" {
		return scheme
	}
	if strings.HasPrefix(r.request.GetProtocol(), "HTTPS") {
		return "https"
	}
	return "http"
}

// remoteAddr returns "host:port" of the downstream peer or an empty string if envoy did not send it.
func (r externalRequest) remoteAddr() string {
	socket := r.source.GetAddress().GetSocketAddress()
	if socket.GetAddress() == "" {
		return ""
	}
	return net.JoinHostPort(socket.GetAddress(), strconv.FormatUint(uint64(socket.GetPortValue()), 10))
}

// toHTTP builds the request replayed through the pipeline. Envoy sends the query as part of the path.
func (r externalRequest) toHTTP(ctx context.Context) (*http.Request, error) {
	stringURL := fmt.Sprintf("%s://%s%s", r.scheme(), r.request.GetHost(), r.request.GetPath())
	if r.request.GetQuery() != "" && !strings.Contains(r.request.GetPath(), "?") {
		stringURL = fmt.Sprintf("%s?%s", stringURL, r.request.GetQuery())
	}

	httpRequest, err := http.NewRequestWithContext(ctx, r.request.GetMethod(), stringURL, strings.NewReader(r.request.GetBody()))
	if err != nil {
		return nil, errors.Wrap(err, "EnvoyProxy: Unable to reconstruct HTTP-Request")
	}
	for headerKey, headerValue := range r.request.GetHeaders() {
		// pseudo headers (:path, :method, ...) are already part of the request line
		if strings.HasPrefix(headerKey, ":") {
			continue
		}
		httpRequest.Header.Set(headerKey, headerValue)
	}
	if addr := r.remoteAddr(); addr != "" {
		httpRequest.RemoteAddr = addr
	}
	return httpRequest, nil
}
