package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// UserAgent is sent on every outbound request
	UserAgent = "toolhive-imagegen-server/1.0"

	// DefaultTimeout applies when a caller passes a zero timeout
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseSize applies when a caller passes a zero size limit
	DefaultMaxResponseSize int64 = 50 << 20

	// maxErrorBody bounds how much of an error response is kept as the message
	maxErrorBody = 1024
)

// Response is a fully read response body.
type Response struct {
	Body        []byte
	ContentType string
}

// Client fetches a URL into memory.
type Client interface {
	Get(ctx context.Context, url string) (*Response, error)
}

// DefaultClient is the Client used for artifact downloads.
type DefaultClient struct {
	client      *http.Client
	maxBodySize int64
}

var _ Client = (*DefaultClient)(nil)

// NewHTTPClient returns an *http.Client with the given timeout whose transport
// records OpenTelemetry spans and metrics for every request.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// NewDefaultClient creates a Client with the given timeout and body size limit.
func NewDefaultClient(timeout time.Duration, maxBodySize int64) *DefaultClient {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxResponseSize
	}
	return &DefaultClient{
		client:      NewHTTPClient(timeout),
		maxBodySize: maxBodySize,
	}
}

// Get performs a GET request and reads the whole body.
func (c *DefaultClient) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "image/*, */*;q=0.5")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, NewHTTPError(resp.StatusCode, url, string(msg))
	}

	if resp.ContentLength > c.maxBodySize {
		return nil, c.tooLarge()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > c.maxBodySize {
		return nil, c.tooLarge()
	}

	return &Response{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

func (c *DefaultClient) tooLarge() error {
	return fmt.Errorf("%w of %.2f MB", ErrResponseTooLarge, float64(c.maxBodySize)/(1024*1024))
}
