package finnhub

import (
	"net/http"
)

const (
	baseURL     = "https://finnhub.io/api/v1"
	tokenHeader = "X-Finnhub-Token"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=finnhub_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIClient is a client for the Finnhub REST API.
type APIClient struct {
	// name is reported as the source name in logs.
	name string
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP client.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
}

// APIClientOption is a configuration option for the Finnhub API client.
type APIClientOption func(*APIClient)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) APIClientOption {
	return func(c *APIClient) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) APIClientOption {
	return func(c *APIClient) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) APIClientOption {
	return func(c *APIClient) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithName overrides the source name.
func WithName(name string) APIClientOption {
	return func(c *APIClient) {
		if name != "" {
			c.name = name
		}
	}
}

// NewAPIClient creates a new Finnhub API client.
func NewAPIClient(token string, options ...APIClientOption) (*APIClient, error) {
	var client = &APIClient{
		name:       "Finnhub",
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	if token != "" {
		// https://finnhub.io/docs/api/authentication
		client.header.Set(tokenHeader, token)
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// Name implements provider.Source.
func (c *APIClient) Name() string { return c.name }
