package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/username/brokerbridge/backend/src/logger"
	"github.com/username/brokerbridge/backend/src/models"
)

const (
	collectionEvents      = "webhook_events"
	collectionConnections = "connections"
	collectionSyncs       = "account_syncs"
	collectionUsers       = "users"
)

// HTTPStore writes documents to a remote key-value service as
// PUT {base}/{collection}/{key}, authenticating with a bearer token from tokens.
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// HTTPStoreConfig holds the remote store settings.
type HTTPStoreConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// statusError is a non-2xx reply from the remote store.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("store: remote status %d: %s", e.status, e.body)
}

func NewHTTPStore(cfg HTTPStoreConfig, tokens oauth2.TokenSource) *HTTPStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &oauth2.Transport{Source: tokens, Base: http.DefaultTransport},
		},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// RecordEvent uses If-None-Match: * so the remote side refuses to overwrite an existing
// event; 412 means the event was already recorded.
func (s *HTTPStore) RecordEvent(ctx context.Context, rec models.EventRecord) (bool, error) {
	doc := struct {
		models.EventRecord
		Payload json.RawMessage `json:"payload,omitempty"`
	}{EventRecord: rec}
	if json.Valid(rec.Payload) {
		doc.Payload = rec.Payload
	}
	_, err := s.put(ctx, collectionEvents, rec.EventID, doc, map[string]string{"If-None-Match": "*"})
	var se *statusError
	if errors.As(err, &se) && se.status == http.StatusPreconditionFailed {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *HTTPStore) ForgetEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return fmt.Errorf("store: empty key for %s", collectionEvents)
	}
	_, err := s.send(ctx, http.MethodDelete, s.documentURL(collectionEvents, eventID), nil, nil)
	var se *statusError
	if errors.As(err, &se) && se.status == http.StatusNotFound {
		return nil
	}
	return err
}

func (s *HTTPStore) UpsertConnection(ctx context.Context, state models.ConnectionState) error {
	_, err := s.put(ctx, collectionConnections, compositeKey(state.UserID, state.AuthorizationID), state, nil)
	return err
}

func (s *HTTPStore) UpsertAccountSync(ctx context.Context, sync models.AccountSync) error {
	_, err := s.put(ctx, collectionSyncs, compositeKey(sync.AccountID, sync.Kind), sync, nil)
	return err
}

func (s *HTTPStore) UpsertUser(ctx context.Context, user models.UserRecord) error {
	_, err := s.put(ctx, collectionUsers, user.UserID, user, nil)
	return err
}

func (s *HTTPStore) GetUser(ctx context.Context, userID string) (*models.UserRecord, error) {
	body, err := s.send(ctx, http.MethodGet, s.documentURL(collectionUsers, userID), nil, nil)
	var se *statusError
	if errors.As(err, &se) && se.status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var user models.UserRecord
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("store: decode user %s: %w", userID, err)
	}
	return &user, nil
}

func (s *HTTPStore) Ping(ctx context.Context) error {
	_, err := s.send(ctx, http.MethodGet, s.baseURL+"/health", nil, nil)
	return err
}

func (s *HTTPStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

func (s *HTTPStore) documentURL(collection, key string) string {
	return s.baseURL + "/" + collection + "/" + url.PathEscape(key)
}

func (s *HTTPStore) put(ctx context.Context, collection, key string, doc any, headers map[string]string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("store: empty key for %s", collection)
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("store: encode %s/%s: %w", collection, key, err)
	}
	return s.send(ctx, http.MethodPut, s.documentURL(collection, key), payload, headers)
}

// send retries 5xx replies and transport failures; any other status is final.
func (s *HTTPStore) send(ctx context.Context, method, target string, payload []byte, headers map[string]string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryDelay
	b.MaxInterval = 10 * s.retryDelay

	op := func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			logger.FromContext(ctx).Warn("Store request failed, retrying", "method", method, "url", target, "error", err)
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			logger.FromContext(ctx).Warn("Store returned server error, retrying", "method", method, "url", target, "status", resp.StatusCode)
			return nil, &statusError{status: resp.StatusCode, body: truncate(body)}
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, backoff.Permanent(&statusError{status: resp.StatusCode, body: truncate(body)})
		}
		return body, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.maxRetries+1)),
	)
}

func compositeKey(parts ...string) string {
	return strings.Join(parts, ":")
}

func truncate(b []byte) string {
	text := strings.TrimSpace(string(b))
	if len(text) > 200 {
		return text[:200]
	}
	return text
}
