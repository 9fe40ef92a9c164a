package client

import (
	"log/slog"
	"net/http"

	"github.com/Nine-Minds/alga-psa-sub020/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the API key sent in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client. Pass a client with
// no timeout when using long AwaitRun waits.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithRetry sets the retry budget and delay strategy for transient
// failures. retries is the number of re-attempts after the first try;
// zero disables retrying.
func WithRetry(retries int, strategy backoff.Strategy) Option {
	return func(c *Client) {
		c.retries = retries
		c.backoff = strategy
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}
