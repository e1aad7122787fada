package legislation

import (
	"net/http"

	"golang.org/x/time/rate"
)

// ClientFactory hands out clients bound to the currently active endpoint.
// Consumers must not cache clients across calls; binding at call time is
// what makes failover effective without retry logic in the clients.
type ClientFactory struct {
	health  *HealthManager
	http    *http.Client
	limiter *rate.Limiter
}

// NewClientFactory builds a factory over the shared health manager. The
// HTTP client and limiter are shared by all handed-out clients.
func NewClientFactory(health *HealthManager, httpClient *http.Client, limiter *rate.Limiter) *ClientFactory {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ClientFactory{health: health, http: httpClient, limiter: limiter}
}

// Client returns a client bound to the active endpoint with the default
// timeout.
func (f *ClientFactory) Client() *Client {
	c, _ := NewClient(ClientOptions{
		BaseURL:    f.health.ActiveURL(),
		HTTPClient: f.http,
		Timeout:    DefaultTimeout,
		Limiter:    f.limiter,
	})
	return c
}

// VerificationClient returns a client bound to the active endpoint with the
// reduced verification-path timeout.
func (f *ClientFactory) VerificationClient() *Client {
	c, _ := NewClient(ClientOptions{
		BaseURL:    f.health.ActiveURL(),
		HTTPClient: f.http,
		Timeout:    VerificationTimeout,
		Limiter:    f.limiter,
	})
	return c
}
