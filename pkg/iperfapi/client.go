package iperfapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("iperfapi")

// Endpoint paths on the test service
const (
	PathStart   = "/start_iperf"
	PathStop    = "/stop_iperf"
	PathRestart = "/restart_iperf"
)

// TransportError reports a request that did not produce a JSON body:
// the request failed, or the response could not be decoded.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client talks to the iperf test service
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// Option for client configuration
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every request. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates a client for the service at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Start asks the service to run a test
func (c *Client) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal start request: %w", err)
	}

	var resp StartResponse
	code, err := c.post(ctx, "start", PathStart, nil, body, &resp)
	if err != nil {
		return nil, err
	}
	resp.StatusCode = code
	return &resp, nil
}

// Stop asks the service to kill the running test
func (c *Client) Stop(ctx context.Context) (*StopResponse, error) {
	var resp StopResponse
	code, err := c.post(ctx, "stop", PathStop, nil, nil, &resp)
	if err != nil {
		return nil, err
	}
	resp.StatusCode = code
	return &resp, nil
}

// Restart asks the service to restart the iperf servers in the given mode
func (c *Client) Restart(ctx context.Context, proto Protocol) (*RestartResponse, error) {
	q := url.Values{}
	q.Set("protocol", string(proto))

	var resp RestartResponse
	code, err := c.post(ctx, "restart", PathRestart, q, nil, &resp)
	if err != nil {
		return nil, err
	}
	resp.StatusCode = code
	return &resp, nil
}

// post sends a POST and decodes the JSON body whatever the status code;
// the service reports application errors as JSON with 4xx/5xx.
func (c *Client) post(ctx context.Context, op, path string, query url.Values, body []byte, out interface{}) (int, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, rd)
	if err != nil {
		return 0, &TransportError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	log.Debugf("POST %s", u)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, &TransportError{
			Op:  op,
			Err: fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err),
		}
	}
	log.Debugf("POST %s -> %d", u, resp.StatusCode)
	return resp.StatusCode, nil
}
