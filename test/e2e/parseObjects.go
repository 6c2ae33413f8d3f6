//go:build e2e

package e2e

import "net/http"

// Request is a single call against devgate. Path is relative to "{prefix}/rest/rc4/hosts" and may
// reference the tango host with "{host}" and "{port}".
type Request struct {
	Name       string `yaml:"name"`
	Method     string `yaml:"method"`
	Path       string `yaml:"path"`
	User       string `yaml:"user"`
	StatusCode int    `yaml:"statusCode"`
	Contains   string `yaml:"contains"`
}

func (r *Request) Defaults() {
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	if r.StatusCode == 0 {
		r.StatusCode = http.StatusOK
	}
}
