package client

import (
	"net/http"
	"time"
)

type options struct {
	httpClient *http.Client
	apiKey     string
	jwtToken   string
}

// Option configures the client
type Option func(*options)

func defaultOptions() *options {
	return &options{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithAPIKey authenticates requests with an X-API-Key header
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithJWT authenticates requests with a bearer token
func WithJWT(token string) Option {
	return func(o *options) { o.jwtToken = token }
}

func (o *options) applyHeaders(req *http.Request) {
	if o.apiKey != "" {
		req.Header.Set("X-API-Key", o.apiKey)
	}
	if o.jwtToken != "" {
		req.Header.Set("Authorization", "Bearer "+o.jwtToken)
	}
}
