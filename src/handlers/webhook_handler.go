package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/username/brokerbridge/backend/src/logger"
	"github.com/username/brokerbridge/backend/src/metrics"
	"github.com/username/brokerbridge/backend/src/models"
	"github.com/username/brokerbridge/backend/src/utils"
	"github.com/username/brokerbridge/backend/src/webhook"
)

const maxWebhookBody = 1 << 20

// WebhookHandler authenticates inbound events and hands them to the ingestor.
type WebhookHandler struct {
	auth     *webhook.Authenticator
	ingestor *webhook.Ingestor
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewWebhookHandler(auth *webhook.Authenticator, ingestor *webhook.Ingestor, m *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{auth: auth, ingestor: ingestor, metrics: m, now: time.Now}
}

type unauthorizedResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	webhook.Diagnostics
}

// HandleWebhook serves /api/webhook: POST only.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		utils.SendJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.receive(w, r)
}

// HandleSnapTradeWebhook serves /api/webhooks/snaptrade. A GET is a reachability probe.
func (h *WebhookHandler) HandleSnapTradeWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		utils.WriteJSON(w, http.StatusOK, map[string]any{
			"ok":   true,
			"info": "Webhook endpoint is up. Send events with POST.",
		})
	case http.MethodPost:
		h.receive(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		utils.SendJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *WebhookHandler) HandlePing(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":  true,
		"now": utils.FormatISO(h.now()),
	})
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		log.Warn("Failed to read webhook body", "error", err)
		utils.SendJSONError(w, "Request body too large or unreadable", http.StatusBadRequest)
		return
	}

	// Parsing is lenient here: a malformed body can still authenticate by header or signature.
	ev, parseErr := webhook.Parse(raw)
	var body map[string]any
	if parseErr == nil {
		body = ev.Body
	}

	decision, diag := h.auth.Authenticate(r.Header, raw, body)
	h.metrics.ObserveWebhookAuth(string(decision.Scheme), decision.Accepted)
	if !decision.Accepted {
		log.Warn("Webhook rejected",
			"hasAuth", diag.HasAuthorization, "hasSecretHeader", diag.HasSecretHeader,
			"hasBodySecret", diag.HasBodySecret, "hasSig", diag.HasSignature, "bodyLen", diag.BodyLength)
		utils.WriteJSON(w, http.StatusUnauthorized, unauthorizedResponse{Error: "Unauthorized", Diagnostics: diag})
		return
	}

	if parseErr != nil {
		log.Warn("Webhook body is not a JSON object", "error", parseErr, "bodyLen", len(raw))
		utils.SendError(w, parseErr)
		return
	}

	res := h.ingestor.Ingest(r.Context(), ev)
	if res.Kind == models.EventPing {
		utils.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "pong": true, "via": decision.Via})
		return
	}
	resp := map[string]any{
		"ok":      true,
		"eventId": res.EventID,
		"kind":    res.Kind,
		"via":     decision.Via,
	}
	if res.Duplicate {
		resp["duplicate"] = true
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}
