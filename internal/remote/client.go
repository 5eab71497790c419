package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Store is the remote side of a sweep: a metadata-only existence check and a
// full body transfer.
type Store interface {
	// Head performs a single metadata request and returns the status code.
	Head(ctx context.Context, url string) (int, error)
	// Fetch performs a single GET. Non-2xx answers are returned as *StatusError.
	Fetch(ctx context.Context, url string) (*Response, error)
}

// Response is a successful fetch. Body must be closed by the caller.
type Response struct {
	Body io.ReadCloser
	Size int64 // -1 when the server did not announce a length
}

// Options configures the HTTP client.
type Options struct {
	// UserAgent is sent with every request.
	UserAgent string

	// ProbeTimeout bounds a single HEAD request.
	// Default: 10s
	ProbeTimeout time.Duration

	// FetchTimeout bounds a single GET, body included.
	// Default: 30s
	FetchTimeout time.Duration

	// MaxIdleConnsPerHost sets the size of the keep-alive pool.
	// Default: 16
	MaxIdleConnsPerHost int
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		UserAgent:           defaultUserAgent,
		ProbeTimeout:        10 * time.Second,
		FetchTimeout:        30 * time.Second,
		MaxIdleConnsPerHost: 16,
	}
}

// Client talks to the log store over HTTP. One client is created per sweep and
// must be closed when the sweep ends so pooled connections are released.
type Client struct {
	transport *http.Transport
	client    *http.Client
	opts      Options
}

// NewClient creates a client with its own connection pool.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = def.ProbeTimeout
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = def.FetchTimeout
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		transport: transport,
		client:    &http.Client{Transport: otelhttp.NewTransport(transport)},
		opts:      opts,
	}
}

// Close releases idle connections held by the client.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

// Head implements Store.
func (c *Client) Head(ctx context.Context, url string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodHead, url)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, &NetworkError{Operation: "head", URL: url, Err: err}
	}
	resp.Body.Close()

	return resp.StatusCode, nil
}

// Fetch implements Store. The request deadline covers reading the body, so it
// is only released when the body is closed.
func (c *Client) Fetch(ctx context.Context, url string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)

	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return nil, &NetworkError{Operation: "fetch", URL: url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, &StatusError{Operation: "fetch", URL: url, StatusCode: resp.StatusCode}
	}

	return &Response{
		Body: &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		Size: resp.ContentLength,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.opts.UserAgent)

	return req, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()

	return err
}
