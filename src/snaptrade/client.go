// Package snaptrade is a REST client for the brokerage aggregator. Its service objects are
// the capability provider the resolver searches; their methods all take capability.Args.
package snaptrade

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"golang.org/x/net/publicsuffix"

	"github.com/username/brokerbridge/backend/src/capability"
	"github.com/username/brokerbridge/backend/src/logger"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.snaptrade.com/api/v1"

// Config holds the client settings.
type Config struct {
	BaseURL     string
	ClientID    string
	ConsumerKey string
	Timeout     time.Duration
	// MaxRetries bounds additional attempts after a 429, a 5xx or a transport error.
	MaxRetries int
	// RetryDelay is the first backoff interval; later ones grow exponentially.
	RetryDelay time.Duration
}

// APIError is a non-2xx upstream response. Body is the decoded JSON error object, or
// {"message": text} when the response was not JSON.
type APIError struct {
	Status int
	Body   any
}

func (e *APIError) Error() string {
	msg := ""
	if m, ok := e.Body.(map[string]any); ok {
		for _, k := range []string{"detail", "message", "error"} {
			if s, ok := m[k].(string); ok && s != "" {
				msg = s
				break
			}
		}
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("snaptrade: status %d: %s", e.Status, msg)
}

// HTTPStatus reports the upstream status so callers can mirror it.
func (e *APIError) HTTPStatus() int { return e.Status }

// ResponseBody is the JSON-safe upstream error payload.
func (e *APIError) ResponseBody() any { return e.Body }

// Client is the aggregator REST client. Each service field is nil-safe to omit; the
// resolver skips absent services.
type Client struct {
	APIStatus          *APIStatusAPI
	Authentication     *AuthenticationAPI
	AccountInformation *AccountInformationAPI
	Transactions       *TransactionsAPI

	baseURL    *url.URL
	clientID   string
	signer     *Signer
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	now        func() time.Time
}

// NewClient creates a client with a cookie-carrying HTTP client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ConsumerKey) == "" {
		return nil, errors.New("snaptrade: client id and consumer key are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("snaptrade: invalid base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 300 * time.Millisecond
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		logger.L.Error("Failed to create cookie jar", "error", err)
	}

	c := &Client{
		baseURL:    u,
		clientID:   strings.TrimSpace(cfg.ClientID),
		signer:     NewSigner(strings.TrimSpace(cfg.ConsumerKey)),
		httpClient: &http.Client{Jar: jar, Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		now:        time.Now,
	}
	c.APIStatus = &APIStatusAPI{c: c}
	c.Authentication = &AuthenticationAPI{c: c}
	c.AccountInformation = &AccountInformationAPI{c: c}
	c.Transactions = &TransactionsAPI{c: c}
	return c, nil
}

// Targets lists the service objects by the names the capability catalog uses.
func (c *Client) Targets() []capability.Target {
	return []capability.Target{
		{Name: capability.ServiceAPIStatus, Value: c.APIStatus},
		{Name: capability.ServiceAuthentication, Value: c.Authentication},
		{Name: capability.ServiceAccountInformation, Value: c.AccountInformation},
		{Name: capability.ServiceTransactions, Value: c.Transactions},
	}
}

// do sends a signed request and decodes the JSON response into generic values, keeping
// numbers as json.Number. Rate limiting, 5xx and transport errors are retried.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (any, error) {
	var payload []byte
	if body != nil {
		b, err := encodeJSON(body)
		if err != nil {
			return nil, fmt.Errorf("snaptrade: encode request: %w", err)
		}
		payload = b
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.MaxInterval = 10 * c.retryDelay

	attempt := 0
	op := func() (any, error) {
		attempt++
		result, err := c.send(ctx, method, path, query, payload)
		if err == nil {
			return result, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.Status != http.StatusTooManyRequests && apiErr.Status < 500 {
				return nil, backoff.Permanent(err)
			}
		} else if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		logger.FromContext(ctx).Warn("Upstream request failed, retrying",
			"method", method, "path", path, "attempt", attempt, "error", err)
		return nil, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
	)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte) (any, error) {
	q := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			if v != "" {
				q.Add(k, v)
			}
		}
	}
	q.Set("clientId", c.clientID)
	q.Set("timestamp", strconv.FormatInt(c.now().Unix(), 10))
	rawQuery := q.Encode()

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = rawQuery

	signature, err := c.signer.Sign(u.Path, rawQuery, payload)
	if err != nil {
		return nil, fmt.Errorf("snaptrade: sign request: %w", err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("snaptrade: create request: %w", err)
	}
	req.Header.Set("Signature", signature)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snaptrade: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("snaptrade: read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &APIError{Status: resp.StatusCode, Body: errorBody(respBody)}
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}
	decoded, err := decodeJSON(respBody)
	if err != nil {
		return nil, fmt.Errorf("snaptrade: decode %s response: %w", path, err)
	}
	return decoded, nil
}

func decodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func errorBody(b []byte) any {
	if v, err := decodeJSON(b); err == nil && v != nil {
		return v
	}
	text := strings.TrimSpace(string(b))
	if len(text) > 500 {
		text = text[:500]
	}
	return map[string]any{"message": text}
}
