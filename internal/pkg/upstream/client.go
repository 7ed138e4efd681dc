// Package upstream holds the HTTP plumbing shared by the clients of external
// collaborators (family, user and classification services).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go"

	"github.com/familring/album-service/internal/pkg/logger"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultRetryDelay = 200 * time.Millisecond
	maxErrorBody      = 1000
)

var (
	// ErrUpstream matches every failure returned by a collaborator call.
	ErrUpstream = errors.New("upstream request failed")
	// ErrTimeout additionally matches failures caused by a deadline.
	ErrTimeout = errors.New("upstream request timed out")
)

// Error describes a failed collaborator call.
type Error struct {
	Collaborator string
	StatusCode   int
	Body         string
	Timeout      bool
	Err          error
}

func (e *Error) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s timeout: %v", e.Collaborator, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s http error: status=%d body=%s", e.Collaborator, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s request error: %v", e.Collaborator, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	if target == ErrUpstream {
		return true
	}
	return target == ErrTimeout && e.Timeout
}

// StatusCode extracts the HTTP status of a failed call, or 0.
func StatusCode(err error) int {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr.StatusCode
	}
	return 0
}

// Envelope is the response wrapper used by every collaborator.
type Envelope[T any] struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       T      `json:"data"`
}

// Config for a collaborator client
type Config struct {
	Name       string
	BaseURL    string
	Timeout    time.Duration
	Attempts   uint
	RetryDelay time.Duration
	UserAgent  string
}

// Client performs JSON requests against one collaborator with retry and backoff.
type Client struct {
	name       string
	baseURL    string
	ua         string
	attempts   uint
	retryDelay time.Duration
	http       *http.Client
}

// NewClient creates a collaborator client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = 1
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		ua:         cfg.UserAgent,
		attempts:   attempts,
		retryDelay: delay,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Name returns the collaborator name used in errors and metrics.
func (c *Client) Name() string { return c.name }

// Request describes one call. Body is re-sent on every attempt.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Header      http.Header
	Body        []byte
	ContentType string
}

// GetJSON issues a GET and decodes the envelope payload into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, header http.Header, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query, Header: header}, out)
}

// PostJSON marshals payload, issues a POST and decodes the envelope payload into out.
func (c *Client) PostJSON(ctx context.Context, path string, header http.Header, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Collaborator: c.name, Err: err}
	}
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Header: header, Body: body, ContentType: "application/json"}, out)
}

// Do executes the request, retrying transient failures with exponential backoff.
// out, when non-nil, receives the envelope's data field.
func (c *Client) Do(ctx context.Context, req Request, out interface{}) error {
	if c == nil || c.http == nil {
		return &Error{Collaborator: "upstream", Err: errors.New("client is nil")}
	}
	if c.baseURL == "" {
		return &Error{Collaborator: c.name, Err: errors.New("base_url is empty")}
	}

	err := retry.Do(
		func() error { return c.once(ctx, req, out) },
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			logger.FromContext(ctx).Warn().Err(err).Str("collaborator", c.name).Uint("attempt", n+1).Msg("Retrying collaborator call")
		}),
	)
	if err == nil {
		return nil
	}

	// retry returns the bare context error when cancelled between attempts.
	var upErr *Error
	if !errors.As(err, &upErr) {
		return c.classifyRequestError(ctx, err)
	}
	return err
}

func (c *Client) once(ctx context.Context, req Request, out interface{}) error {
	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return &Error{Collaborator: c.name, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.ua != "" {
		httpReq.Header.Set("User-Agent", c.ua)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.classifyRequestError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Collaborator: c.name, StatusCode: resp.StatusCode, Body: truncate(string(raw))}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}

	envelope := Envelope[json.RawMessage]{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &Error{Collaborator: c.name, StatusCode: resp.StatusCode, Body: truncate(string(raw)), Err: fmt.Errorf("decode envelope: %w", err)}
	}
	// Some collaborators report failures inside a 200 envelope.
	if envelope.StatusCode >= 400 {
		return &Error{Collaborator: c.name, StatusCode: envelope.StatusCode, Body: truncate(envelope.Message)}
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return &Error{Collaborator: c.name, StatusCode: resp.StatusCode, Err: errors.New("empty data in response")}
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return &Error{Collaborator: c.name, StatusCode: resp.StatusCode, Body: truncate(string(envelope.Data)), Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

func (c *Client) classifyRequestError(ctx context.Context, err error) error {
	return &Error{
		Collaborator: c.name,
		Timeout:      isTimeoutError(ctx, err),
		Err:          err,
	}
}

func isRetryable(err error) bool {
	var upErr *Error
	if !errors.As(err, &upErr) {
		return false
	}
	if errors.Is(upErr.Err, context.Canceled) {
		return false
	}
	switch {
	case upErr.StatusCode == 0:
		return upErr.Err != nil && (upErr.Timeout || isNetworkError(upErr.Err))
	case upErr.StatusCode == http.StatusTooManyRequests:
		return true
	case upErr.StatusCode >= 500 && upErr.Err == nil:
		return true
	}
	return false
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "...<truncated>"
	}
	return s
}
