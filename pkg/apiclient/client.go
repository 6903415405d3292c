// Package apiclient is the single chokepoint for calls to the shelflife REST API.
//
// It attaches the stored credential, asks the registered refresher for a new one
// when the stored access token has expired, clears the credential on 401 and
// translates every failure into the typed *Error taxonomy.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/blockchaincyberpunk1/shelflife-frontend/internal/util"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/tokenstore"
)

// Refresher obtains and stores a fresh credential.
type Refresher func(ctx context.Context) (tokenstore.Credential, error)

// InvalidationReason says why the client dropped the session.
type InvalidationReason string

const (
	ReasonUnauthorized  InvalidationReason = "unauthorized"
	ReasonRefreshFailed InvalidationReason = "refresh_failed"
)

// SessionInvalidated is emitted after the client cleared the stored credential.
type SessionInvalidated struct {
	Reason InvalidationReason
	Method string
	Path   string
	At     time.Time
}

// Config configures the client.
type Config struct {
	BaseURL    string
	Tokens     tokenstore.Store
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client calls the REST API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     tokenstore.Store
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.RWMutex
	refresher Refresher
	listeners map[int]func(SessionInvalidated)
	nextID    int
}

// RequestOptions describe one call.
type RequestOptions struct {
	Method string
	Header http.Header
	Body   any
	// Anonymous requests never carry a credential and never invalidate the session.
	Anonymous bool
}

// New constructs a client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("apiclient: base URL is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("apiclient: token store is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: &util.LoggingTransport{Service: "shelflife-api"},
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     cfg.Tokens,
		logger:     logger,
		now:        time.Now,
		listeners:  make(map[int]func(SessionInvalidated)),
	}, nil
}

// Tokens returns the credential store the client reads from.
func (c *Client) Tokens() tokenstore.Store {
	return c.tokens
}

// SetRefresher registers the function used to renew an expired access token.
func (c *Client) SetRefresher(r Refresher) {
	c.mu.Lock()
	c.refresher = r
	c.mu.Unlock()
}

// OnSessionInvalidated subscribes fn to invalidation signals. The returned func unsubscribes.
func (c *Client) OnSessionInvalidated(fn func(SessionInvalidated)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// DoJSON issues an authenticated JSON request.
func (c *Client) DoJSON(ctx context.Context, method, path string, payload, out any) error {
	return c.Request(ctx, path, RequestOptions{Method: method, Body: payload}, out)
}

// DoAnonymous issues a JSON request without a credential (login, signup, password reset).
func (c *Client) DoAnonymous(ctx context.Context, method, path string, payload, out any) error {
	return c.Request(ctx, path, RequestOptions{Method: method, Body: payload, Anonymous: true}, out)
}

// Request sends one call and decodes a 2xx JSON body into out (when out is non-nil).
func (c *Client) Request(ctx context.Context, path string, opts RequestOptions, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	ctx, requestID := util.EnsureRequestID(ctx)

	var attached string
	if !opts.Anonymous {
		token, err := c.credentialFor(ctx, method, path)
		if err != nil {
			return err
		}
		attached = token
	}

	var body io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return &Error{Kind: KindValidation, Message: "invalid request body", Err: err}
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Kind: KindValidation, Message: "invalid request", Err: err}
	}
	for key, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(util.RequestIDHeader, requestID)
	if attached != "" {
		req.Header.Set("Authorization", "Bearer "+attached)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: KindCanceled, Message: "request canceled", Err: ctx.Err()}
		}
		return &Error{Kind: KindNetwork, Message: "no response from server", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := decodeError(resp)
		if resp.StatusCode == http.StatusUnauthorized && attached != "" {
			c.invalidate(attached, ReasonUnauthorized, method, path)
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: KindCanceled, Message: "request canceled", Err: ctx.Err()}
		}
		return &Error{Kind: KindNetwork, Message: "read response", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindServer, Status: resp.StatusCode, Message: "invalid response body", Err: err}
	}
	return nil
}

// credentialFor re-reads the store on every call and refreshes an expired token first.
func (c *Client) credentialFor(ctx context.Context, method, path string) (string, error) {
	cred, ok, err := c.tokens.Get()
	if err != nil {
		c.logger.Warn("read credential failed", "err", err)
		return "", nil
	}
	if !ok || cred.Empty() {
		return "", nil
	}
	if !tokenstore.IsExpiredAt(cred, c.now()) {
		return cred.AccessToken, nil
	}

	c.mu.RLock()
	refresh := c.refresher
	c.mu.RUnlock()
	if refresh != nil {
		fresh, err := refresh(ctx)
		if err == nil && !fresh.Empty() {
			return fresh.AccessToken, nil
		}
		if ctx.Err() != nil {
			return "", &Error{Kind: KindCanceled, Message: "request canceled", Err: ctx.Err()}
		}
		if KindOf(err) == KindNetwork {
			// offline is recoverable: keep the credential for the next attempt
			return "", err
		}
		if err != nil {
			c.logger.Warn("credential refresh failed", "path", path, "err", err)
		}
	}
	c.invalidate(cred.AccessToken, ReasonRefreshFailed, method, path)
	return "", &Error{Kind: KindNotAuthenticated, Status: http.StatusUnauthorized, Message: "session expired"}
}

// invalidate clears the stored credential only if it is still the one that failed,
// so a credential stored by a concurrent login or refresh survives.
func (c *Client) invalidate(failedToken string, reason InvalidationReason, method, path string) {
	current, ok, err := c.tokens.Get()
	if err == nil && ok && current.AccessToken != failedToken {
		return
	}
	if err := c.tokens.Clear(); err != nil {
		c.logger.Error("clear credential failed", "err", err)
	}
	c.logger.Warn("security_event", "event", "session.invalidated", "reason", string(reason), "method", method, "path", path)

	evt := SessionInvalidated{Reason: reason, Method: method, Path: path, At: c.now().UTC()}
	c.mu.RLock()
	listeners := make([]func(SessionInvalidated), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(evt)
	}
}

func decodeError(resp *http.Response) *Error {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&errResp)
	msg := strings.TrimSpace(errResp.Error)
	if msg == "" {
		msg = strings.TrimSpace(errResp.Message)
	}
	if msg == "" {
		msg = defaultFailureMessage
	}
	return &Error{
		Kind:    kindForStatus(resp.StatusCode),
		Status:  resp.StatusCode,
		Code:    strings.TrimSpace(errResp.Code),
		Message: msg,
	}
}

// DecodeEnvelope decodes raw into out, unwrapping the first matching envelope key
// when raw is an object that carries one.
func DecodeEnvelope(raw json.RawMessage, out any, keys ...string) error {
	raw = json.RawMessage(bytes.TrimSpace(raw))
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '{' && len(keys) > 0 {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(raw, &envelope); err == nil {
			for _, key := range keys {
				if inner, ok := envelope[key]; ok && len(bytes.TrimSpace(inner)) > 0 && string(bytes.TrimSpace(inner)) != "null" {
					raw = inner
					break
				}
			}
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindServer, Message: "invalid response body", Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}
