package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
)

// ResponseInfo carries response details.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Client wraps HTTP requests for CLI.
type Client struct {
	baseURL string
	timeout time.Duration
	// gzipThreshold compresses bodies at least this large; negative disables.
	gzipThreshold int
}

func New(baseURL string, timeout time.Duration, gzipThreshold int) *Client {
	return &Client{
		baseURL:       baseURL,
		timeout:       timeout,
		gzipThreshold: gzipThreshold,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Timeout() time.Duration { return c.timeout }

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout = timeout
	}
}

func (c *Client) Do(ctx context.Context, method, path string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo
	client := &http.Client{Timeout: c.timeout}

	var reader io.Reader
	compressed := false
	if len(body) > 0 {
		if c.gzipThreshold >= 0 && len(body) >= c.gzipThreshold {
			encoded, err := gzipBody(body)
			if err != nil {
				return info, err
			}
			body = encoded
			compressed = true
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s%s", c.baseURL, path), reader)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}

	start := time.Now()
	resp, err := client.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return info, fmt.Errorf("read response body failed: %w", err)
	}
	info.Body = bodyBytes
	return info, nil
}

func gzipBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("compress request body failed: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress request body failed: %w", err)
	}
	return buf.Bytes(), nil
}
