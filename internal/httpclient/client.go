package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client performs requests against connector endpoints. Certificate
// verification is off unless VerifyTLS is set: the connectors it talks to run
// with self-signed certificates.
type Client struct {
	HTTPClient *http.Client
	Headers    http.Header
}

// Options configure New.
type Options struct {
	Timeout   time.Duration
	VerifyTLS bool
	// Authorization is sent verbatim as the Authorization header when set.
	Authorization string
}

// New creates a client with its own transport.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !opts.VerifyTLS}
	headers := http.Header{}
	if auth := strings.TrimSpace(opts.Authorization); auth != "" {
		headers.Set("Authorization", auth)
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout, Transport: transport},
		Headers:    headers,
	}
}

// Request describes one outbound call.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Params  url.Values
	Body    []byte
}

// Response is a fully read response. Non-2xx statuses are returned as
// responses, not errors; callers decide with CheckStatus.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do sends req. Only transport failures are returned as errors, always as
// *NetworkError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	target, err := withParams(req.URL, req.Params)
	if err != nil {
		return nil, &NetworkError{Method: req.Method, URL: req.URL, Err: err}
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, &NetworkError{Method: req.Method, URL: target, Err: err}
	}
	for k, vals := range c.Headers {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	for k, vals := range req.Headers {
		httpReq.Header.Del(k)
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	res, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Method: req.Method, URL: target, Err: err}
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &NetworkError{Method: req.Method, URL: target, Err: fmt.Errorf("read body: %w", err)}
	}
	return &Response{
		URL:        target,
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       data,
	}, nil
}

// Get is a shorthand for a GET with optional headers.
func (c *Client) Get(ctx context.Context, rawURL string, headers http.Header) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Headers: headers})
}

// GetJSON issues a GET asking for JSON.
func (c *Client) GetJSON(ctx context.Context, rawURL string) (*Response, error) {
	return c.Get(ctx, rawURL, http.Header{"Accept": {"application/json"}})
}

// Post sends body with the given content type.
func (c *Client) Post(ctx context.Context, rawURL string, params url.Values, contentType string, body []byte) (*Response, error) {
	var headers http.Header
	if contentType != "" {
		headers = http.Header{"Content-Type": {contentType}}
	}
	return c.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Params: params, Headers: headers, Body: body})
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	return c.HTTPClient
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// CheckStatus returns a *StatusError for non-2xx responses.
func (r *Response) CheckStatus() error {
	if r.OK() {
		return nil
	}
	return &StatusError{StatusCode: r.StatusCode, URL: r.URL, Body: string(r.Body)}
}

// DecodeJSON decodes the body into out, wrapping failures as *MalformedError.
func (r *Response) DecodeJSON(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return &MalformedError{URL: r.URL, Reason: "invalid json", Err: err}
	}
	return nil
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

func withParams(rawURL string, params url.Values) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vals := range params {
		for _, v := range vals {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
