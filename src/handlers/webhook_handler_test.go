package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/username/brokerbridge/backend/src/metrics"
	"github.com/username/brokerbridge/backend/src/models"
	"github.com/username/brokerbridge/backend/src/webhook"
)

const (
	hookClientID    = "client-123"
	hookConsumerKey = "consumer-key-abcdef"
	hookSecret      = "shared-webhook-secret"
	hookSigningKey  = "signing-key-0123456789"
)

type eventLog struct {
	mu     sync.Mutex
	events map[string]models.EventRecord
	conns  []models.ConnectionState
}

func (l *eventLog) RecordEvent(_ context.Context, rec models.EventRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.events[rec.EventID]; seen {
		return false, nil
	}
	l.events[rec.EventID] = rec
	return true, nil
}

func (l *eventLog) ForgetEvent(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, eventID)
	return nil
}

func (l *eventLog) UpsertConnection(_ context.Context, st models.ConnectionState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns = append(l.conns, st)
	return nil
}

func (l *eventLog) UpsertAccountSync(context.Context, models.AccountSync) error { return nil }

func newWebhookTest(skip bool) (*WebhookHandler, *eventLog) {
	log := &eventLog{events: map[string]models.EventRecord{}}
	m := metrics.New(prometheus.NewRegistry())
	auth := &webhook.Authenticator{
		ClientID:      hookClientID,
		ConsumerKey:   hookConsumerKey,
		SharedSecret:  hookSecret,
		SigningSecret: hookSigningKey,
		InsecureSkip:  skip,
	}
	h := NewWebhookHandler(auth, webhook.NewIngestor(log, nil, m, time.Second), m)
	h.now = func() time.Time { return time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC) }
	return h, log
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestWebhookBasicAuthPing(t *testing.T) {
	h, log := newWebhookTest(false)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{"type":"ping"}`))
	req.Header.Set("Authorization", basicAuth(hookClientID, hookConsumerKey))
	rec := httptest.NewRecorder()

	h.HandleWebhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["ok"])
	require.Equal(t, true, body["pong"])
	require.Equal(t, "basic", body["via"])
	require.Empty(t, log.events, "pings are not recorded")
}

func TestWebhookWrongSignatureIsUnauthorized(t *testing.T) {
	h, _ := newWebhookTest(false)
	payload := `{"type":"CONNECTION_COMPLETED","userId":"u1"}`
	mac := hmac.New(sha256.New, []byte("not-the-key"))
	mac.Write([]byte(payload))
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	rec := httptest.NewRecorder()

	h.HandleWebhook(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	require.Equal(t, false, body["ok"])
	require.Equal(t, "Unauthorized", body["error"])
	require.Equal(t, true, body["hasSig"])
	require.Equal(t, false, body["hmacOK"])
	require.NotContains(t, rec.Body.String(), "CONNECTION_COMPLETED")
	require.NotContains(t, rec.Body.String(), hookSigningKey)
}

func TestWebhookSignedEventIsRecordedOnce(t *testing.T) {
	h, log := newWebhookTest(false)
	payload := `{"eventId":"evt-1","type":"CONNECTION_COMPLETED","userId":"u1","authorizationId":"auth-1"}`
	mac := hmac.New(sha256.New, []byte(hookSigningKey))
	mac.Write([]byte(payload))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	post := func() map[string]any {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/snaptrade", strings.NewReader(payload))
		req.Header.Set("Signature", sig)
		rec := httptest.NewRecorder()
		h.HandleSnapTradeWebhook(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		return decode(t, rec)
	}

	first := post()
	require.Equal(t, "evt-1", first["eventId"])
	require.Equal(t, string(models.EventConnectionCompleted), first["kind"])
	require.Equal(t, "hmac", first["via"])
	require.Nil(t, first["duplicate"])

	second := post()
	require.Equal(t, true, second["duplicate"])
	require.Len(t, log.events, 1)
	require.Len(t, log.conns, 1)
	require.Equal(t, "connected", log.conns[0].Status)
}

func TestWebhookMalformedBodyAfterAuth(t *testing.T) {
	h, _ := newWebhookTest(false)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{not json`))
	req.Header.Set("X-Webhook-Secret", hookSecret)
	rec := httptest.NewRecorder()

	h.HandleWebhook(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Invalid JSON body", decode(t, rec)["error"])
}

func TestWebhookTrailingDataIsMalformed(t *testing.T) {
	h, log := newWebhookTest(false)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{"type":"SYNC_COMPLETED","accountId":"a1"} garbage`))
	req.Header.Set("X-Webhook-Secret", hookSecret)
	rec := httptest.NewRecorder()

	h.HandleWebhook(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, log.events)
}

func TestWebhookMalformedBodyWithoutAuth(t *testing.T) {
	h, _ := newWebhookTest(false)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()

	h.HandleWebhook(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookInsecureSkip(t *testing.T) {
	h, _ := newWebhookTest(true)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{"type":"SYNC_COMPLETED","accountId":"a1"}`))
	rec := httptest.NewRecorder()

	h.HandleWebhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "insecure", decode(t, rec)["via"])
}

func TestWebhookMethods(t *testing.T) {
	h, _ := newWebhookTest(false)

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, httptest.NewRequest(http.MethodGet, "/api/webhook", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, http.MethodPost, rec.Header().Get("Allow"))

	rec = httptest.NewRecorder()
	h.HandleSnapTradeWebhook(rec, httptest.NewRequest(http.MethodGet, "/api/webhooks/snaptrade", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["ok"])

	rec = httptest.NewRecorder()
	h.HandleSnapTradeWebhook(rec, httptest.NewRequest(http.MethodDelete, "/api/webhooks/snaptrade", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhookPing(t *testing.T) {
	h, _ := newWebhookTest(false)
	rec := httptest.NewRecorder()
	h.HandlePing(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["ok"])
	require.Equal(t, "2024-03-31T12:00:00.000Z", body["now"])
}
