/*
Copyright 2025 The Rollout authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package client talks to the Rollout hosting API: thin JSON calls for
// account and domain management, and the multipart artifact upload used
// by deploys.
package client

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

	"github.com/hashicorp/go-retryablehttp"
)

// AuthProvider supplies the bearer credential attached to API calls.
// The client does not manage credential acquisition.
type AuthProvider interface {
	Token() (string, error)
}

// StaticToken is an AuthProvider returning a fixed token. An empty token
// means unauthenticated.
type StaticToken string

// Token implements AuthProvider.
func (t StaticToken) Token() (string, error) {
	return string(t), nil
}

// Client holds the HTTP client that retries with backoff when the API
// is unreachable. One Client is constructed per command invocation and
// passed explicitly to whatever needs it.
type Client struct {
	httpClient *retryablehttp.Client
	baseURL    string
	auth       AuthProvider
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithAuth sets the credential provider for authenticated calls.
func WithAuth(p AuthProvider) Option {
	return func(c *Client) { c.auth = p }
}

// WithRetries sets the number of transport-level retries. Validation
// failures reported by the API are never retried.
func WithRetries(n int) Option {
	return func(c *Client) { c.httpClient.RetryMax = n }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New configures the retryable HTTP client used for API calls.
func New(baseURL string, opts ...Option) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryWaitMin = 1 * time.Second
	httpClient.RetryWaitMax = 10 * time.Second
	httpClient.RetryMax = 3
	httpClient.HTTPClient.Timeout = 5 * time.Minute
	httpClient.Logger = nil

	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       StaticToken(""),
		userAgent:  "rollout",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// endpoint joins the base URL with the given path and query values.
func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// setHeaders applies the default headers and the bearer credential, if any.
func (c *Client) setHeaders(h http.Header, contentType string) error {
	h.Set("Accept", "application/json")
	h.Set("User-Agent", c.userAgent)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	token, err := c.auth.Token()
	if err != nil {
		return fmt.Errorf("failed to obtain credential: %w", err)
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// doJSON performs a JSON request and decodes the structured result into
// out, which must embed Result. A response with success=false or a non-2xx
// status becomes an *APIError; network-level failures wrap ErrTransport.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reqBody io.Reader
	contentType := ""
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(buf)
		contentType = "application/json"
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.endpoint(path, query), reqBody)
	if err != nil {
		return err
	}
	if err := c.setHeaders(req.Header, contentType); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTransport, err)
	}
	defer resp.Body.Close()

	return decodeResult(resp, out)
}

// decodeResult decodes the structured API response and converts failures
// into an *APIError carrying the server's message and field errors.
func decodeResult(resp *http.Response, out any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTransport, err)
	}

	if out == nil {
		out = &struct{ Result }{}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: unexpected response (status %s)", ErrTransport, resp.Status)
	}

	res := resultOf(out)
	if res == nil {
		return nil
	}
	if !res.Success {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    res.Error,
			Fields:     res.Errors,
		}
		if apiErr.Message == "" {
			apiErr.Message = res.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		return apiErr
	}
	return nil
}

// resultOf extracts the embedded Result from a decoded response value.
func resultOf(out any) *Result {
	switch v := out.(type) {
	case *Result:
		return v
	case interface{ result() *Result }:
		return v.result()
	default:
		return nil
	}
}
