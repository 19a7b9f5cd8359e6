package proxy

import (
	"io"
	"net/http"
	"time"
)

// ClientConfig tunes the shared upstream HTTP client's connection pool.
type ClientConfig struct {
	// MaxIdleConns caps idle connections across all upstreams.
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections per upstream host.
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long an idle connection is kept alive.
	IdleConnTimeout time.Duration
}

// DefaultClientConfig returns the pool settings used when the
// configuration does not override them.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient creates the shared upstream client with connection
// pooling. The client carries no global timeout: streaming responses
// stay open indefinitely, and per-attempt deadlines are applied through
// the request context instead.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableCompression:  false,
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{
		Transport: transport,
	}
}

// readLimited reads at most n bytes from r. Used to capture upstream
// error bodies without trusting their size.
func readLimited(r io.Reader, n int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, n))
}
