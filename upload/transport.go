package upload

import (
	"context"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// TransportConfig holds configuration for the shared HTTP transport.
type TransportConfig struct {
	// MaxConnsPerHost limits the connections to the endpoint. Zero means no limit.
	MaxConnsPerHost int

	// MaxIdleConnsPerHost is the idle pool size. It should match the number of actors so every
	// actor can keep its connection between requests.
	MaxIdleConnsPerHost int

	// IdleConnTimeout closes pooled connections unused for this long.
	// Default: 90 seconds
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake of new connections.
	// Default: 10 seconds
	TLSHandshakeTimeout time.Duration
}

// DefaultTransportConfig returns the default configuration for the given actor count.
func DefaultTransportConfig(actors int) TransportConfig {
	if actors < 1 {
		actors = 1
	}

	return TransportConfig{
		MaxIdleConnsPerHost: actors,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// NewHTTPClient creates the pooled client shared by all actors.
// Retries are disabled: a failed step aborts the iteration instead of being repeated, and
// responses of every status code are handed back to the caller for checking.
func NewHTTPClient(config TransportConfig, logger log.Logger) *retryablehttp.Client {
	transport := cleanhttp.DefaultPooledTransport()
	transport.MaxConnsPerHost = config.MaxConnsPerHost
	if config.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = config.MaxIdleConnsPerHost
		if transport.MaxIdleConns < config.MaxIdleConnsPerHost {
			transport.MaxIdleConns = config.MaxIdleConnsPerHost
		}
	}
	if config.IdleConnTimeout > 0 {
		transport.IdleConnTimeout = config.IdleConnTimeout
	}
	if config.TLSHandshakeTimeout > 0 {
		transport.TLSHandshakeTimeout = config.TLSHandshakeTimeout
	}

	client := retryhttp.NewClient(logger)
	client.HTTPClient = &http.Client{Transport: transport}
	client.RetryMax = 0
	client.CheckRetry = noRetry
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return client
}

// CloseIdleConnections closes idle connections of the client's transport.
func CloseIdleConnections(client *retryablehttp.Client) {
	if client == nil || client.HTTPClient == nil {
		return
	}
	client.HTTPClient.CloseIdleConnections()
}

func noRetry(_ context.Context, _ *http.Response, err error) (bool, error) {
	return false, err
}
