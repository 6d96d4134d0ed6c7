// Package apiclient is the single path for requests to the license API. It
// attaches the session credential to every request and turns a rejected
// credential into one session invalidation and ErrSessionExpired.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const maxErrorBody = 64 << 10

// Request describes one call to the license API.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is encoded as JSON when non-nil.
	Body any
	// Out receives the decoded JSON response body when non-nil.
	Out any
	// Anonymous requests carry no credential and a 401 response is returned
	// as an *APIError instead of expiring the session.
	Anonymous bool
}

// Options configures a Client.
type Options struct {
	Timeout    time.Duration
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Transport  http.RoundTripper
}

// Client sends authenticated JSON requests to the license API.
type Client struct {
	baseURL string
	creds   CredentialProvider
	client  *http.Client
	log     *zap.Logger
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, creds CredentialProvider, opts Options) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if creds == nil {
		creds = Anonymous{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if opts.Registerer != nil {
		instrumented, err := instrument(opts.Registerer, transport)
		if err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
		transport = instrumented
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		client:  &http.Client{Timeout: opts.Timeout, Transport: transport},
		log:     log,
	}, nil
}

// Get sends a GET with query and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query, Out: out})
}

// Post sends body as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body, Out: out})
}

// Patch sends body as JSON and decodes the response into out.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body, Out: out})
}

// Delete sends a DELETE and decodes the response into out when non-nil.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path, Out: out})
}

// Do sends req. A 401 on an authenticated request is retried once when the
// provider can refresh; otherwise the session is invalidated for the
// credential the request carried and ErrSessionExpired is returned.
func (c *Client) Do(ctx context.Context, req Request) error {
	var body []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = b
	}

	retried := false
	for {
		var cred Credential
		if !req.Anonymous {
			var err error
			cred, err = c.credential(ctx)
			if err != nil {
				return err
			}
			if !cred.Present() {
				c.log.Warn("no credential available, sending request unauthenticated",
					zap.String("method", req.Method),
					zap.String("path", req.Path),
				)
			}
		}

		resp, err := c.send(ctx, req, body, cred)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && !req.Anonymous {
			drain(resp)
			if !retried && cred.Present() {
				if r, ok := c.creds.(Refresher); ok {
					retried = true
					err := r.Refresh(ctx, cred)
					if err == nil {
						c.log.Debug("credential refreshed, retrying request",
							zap.String("method", req.Method),
							zap.String("path", req.Path),
						)
						continue
					}
					c.log.Warn("credential refresh failed", zap.Error(err))
				}
			}
			if c.creds.Invalidate(ctx, cred) {
				c.log.Info("session invalidated after rejected credential",
					zap.String("method", req.Method),
					zap.String("path", req.Path),
				)
			}
			return ErrSessionExpired
		}

		return c.handle(resp, req.Out)
	}
}

func (c *Client) credential(ctx context.Context) (Credential, error) {
	cred, err := c.creds.Credential(ctx)
	if err == nil {
		return cred, nil
	}
	if errors.Is(err, ErrSessionExpired) {
		return Credential{}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Credential{}, classifyError(ctxErr)
	}
	return Credential{}, fmt.Errorf("obtaining credential: %w", err)
}

func (c *Client) send(ctx context.Context, req Request, body []byte, cred Credential) (*http.Response, error) {
	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq, cred)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

func (c *Client) handle(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			return classifyError(err)
		}
		apiErr := parseAPIError(resp.StatusCode, b)
		c.log.Debug("api request failed",
			zap.Int("status", apiErr.Status),
			zap.String("message", apiErr.Message),
		)
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, cred Credential) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if cred.Present() {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
