package models

// AuthScheme names the verification path that accepted a webhook.
type AuthScheme string

const (
	SchemeSharedSecret AuthScheme = "shared-secret"
	SchemeSignature    AuthScheme = "signature"
	SchemeNone         AuthScheme = "none"
)

// AuthDecision is the outcome of webhook authentication. At most one scheme needs to succeed.
type AuthDecision struct {
	Scheme   AuthScheme `json:"scheme"`
	Accepted bool       `json:"accepted"`
	// Via is the transport location that carried the accepted credential:
	// "basic", "header", "bearer", "body", "hmac" or "insecure".
	Via string `json:"via,omitempty"`
}

// EventKind is the classified meaning of a webhook event type.
type EventKind string

const (
	EventPing                EventKind = "ping"
	EventConnectionCompleted EventKind = "connection_completed"
	EventConnectionFailed    EventKind = "connection_failed"
	EventConnectionCancelled EventKind = "connection_cancelled"
	EventDisconnected        EventKind = "connection_disconnected"
	EventSyncCompleted       EventKind = "sync_completed"
	EventPositionsUpdated    EventKind = "positions_updated"
	EventUnknown             EventKind = "unknown"
)

// WebhookEvent is an inbound event. Raw keeps the exact request bytes because signature
// verification must run over them, not over a re-serialized Body.
type WebhookEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Kind       EventKind      `json:"kind"`
	UserID     *string        `json:"userId"`
	AccountID  *string        `json:"accountId"`
	AccountIDs []string       `json:"accountIds,omitempty"`
	AuthID     *string        `json:"authorizationId,omitempty"`
	Raw        []byte         `json:"-"`
	Body       map[string]any `json:"body"`
}
