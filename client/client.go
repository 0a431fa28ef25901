package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"

	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "go-portal"
	tracerName       = "github.com/goliatone/go-portal/client"
)

// TokenSource yields the bearer credential for outgoing requests. An empty
// token means the request goes out without an Authorization header.
// portal.Provider implements it.
type TokenSource interface {
	Token(ctx context.Context, forceRefresh bool) (string, error)
}

// TokenSourceFunc adapts a function to the TokenSource interface.
type TokenSourceFunc func(ctx context.Context, forceRefresh bool) (string, error)

// Token implements TokenSource.
func (f TokenSourceFunc) Token(ctx context.Context, forceRefresh bool) (string, error) {
	return f(ctx, forceRefresh)
}

// Request describes one API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
	// Token overrides the token source for this call. Requests with an
	// explicit token are not retried on 401.
	Token string
	// SkipAuth sends the request without any credential.
	SkipAuth bool
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Retried is set when the response comes from the replay after a 401.
	Retried bool
}

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out any) error {
	if out == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode response").
			WithTextCode(TextCodeDecodeError)
	}
	return nil
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTransport replaces the transport of the underlying HTTP client.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.http = &http.Client{Timeout: c.http.Timeout, Transport: rt}
		}
	}
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(src TokenSource) Option {
	return func(c *Client) {
		c.tokens = src
	}
}

// WithLogger sets the client logger.
func WithLogger(logger portal.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics registers request counters with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = newMetrics(reg)
	}
}

// WithTracerProvider sets the tracer provider used for request spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua = strings.TrimSpace(ua); ua != "" {
			c.userAgent = ua
		}
	}
}

// Client is the authenticated HTTP client for the portal backend. Every
// request picks up the current bearer token; a 401 triggers one forced
// token refresh and one replay.
type Client struct {
	baseURL   string
	http      *http.Client
	tokens    TokenSource
	logger    portal.Logger
	metrics   *metrics
	tracer    trace.Tracer
	userAgent string
}

// New returns a client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:      &http.Client{Timeout: defaultTimeout},
		logger:    portal.NopLogger{},
		tracer:    otel.GetTracerProvider().Tracer(tracerName),
		userAgent: defaultUserAgent,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends req. Non 2xx responses are returned as errors carrying the
// status code and the backend message.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var payload []byte
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to encode request body").
				WithTextCode(TextCodeEncodeError)
		}
		payload = raw
	}

	ctx, span := c.tracer.Start(ctx, "portal.client "+method, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", req.Path),
	)

	token, err := c.token(ctx, req, false)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	resp, err := c.send(ctx, method, req, payload, token)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.canRetry(req) {
		c.logger.Debug("unauthorized, refreshing token and replaying", "method", method, "path", req.Path)
		c.metrics.retry()
		span.AddEvent("token refresh")

		refreshed, rerr := c.token(ctx, req, true)
		if rerr != nil {
			recordSpanError(span, rerr)
			return nil, rerr
		}
		if refreshed != "" {
			replay, err := c.send(ctx, method, req, payload, refreshed)
			if err != nil {
				recordSpanError(span, err)
				return nil, err
			}
			replay.Retried = true
			resp = replay
		}
	}

	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Bool("portal.retried", resp.Retried),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		herr := newHTTPError(method, req.Path, resp.StatusCode, resp.Body)
		recordSpanError(span, herr)
		return resp, herr
	}

	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func (c *Client) canRetry(req Request) bool {
	return c.tokens != nil && !req.SkipAuth && req.Token == ""
}

func (c *Client) token(ctx context.Context, req Request, force bool) (string, error) {
	if req.SkipAuth {
		return "", nil
	}
	if req.Token != "" {
		return req.Token, nil
	}
	if c.tokens == nil {
		return "", nil
	}
	return c.tokens.Token(ctx, force)
}

func (c *Client) send(ctx context.Context, method string, req Request, payload []byte, token string) (*Response, error) {
	target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, newNetworkError(method, req.Path, err)
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(HeaderRequestID, uuid.NewString())
	if token != "" {
		httpReq.Header.Set(HeaderAuthorization, "Bearer "+token)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.request(method, "error")
		c.logger.Warn("request failed", "method", method, "path", req.Path, "error", err)
		return nil, newNetworkError(method, req.Path, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.metrics.request(method, "error")
		return nil, newNetworkError(method, req.Path, err)
	}

	c.metrics.request(method, strconv.Itoa(httpResp.StatusCode))
	c.logger.Debug("request done", "method", method, "path", req.Path, "status", httpResp.StatusCode)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       raw,
	}, nil
}

// Get sends a GET and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.call(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

// Post sends a POST with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Patch sends a PATCH with a JSON body and decodes the response into out.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, Request{Method: http.MethodPatch, Path: path, Body: body}, out)
}

// Delete sends a DELETE and decodes the response into out.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.call(ctx, Request{Method: http.MethodDelete, Path: path}, out)
}

// Call sends req and decodes the response into out.
func (c *Client) Call(ctx context.Context, req Request, out any) error {
	return c.call(ctx, req, out)
}

func (c *Client) call(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
