package models

import "time"

// EventRecord is one entry of the webhook event log, keyed by EventID.
type EventRecord struct {
	EventID    string    `json:"eventId"`
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	AccountID  string    `json:"accountId"`
	Payload    []byte    `json:"-"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ConnectionState is the latest known state of a user's brokerage connection,
// keyed by (UserID, AuthorizationID).
type ConnectionState struct {
	UserID          string    `json:"userId"`
	AuthorizationID string    `json:"authorizationId"`
	Status          string    `json:"status"`
	EventType       string    `json:"eventType"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// AccountSync records the last sync of one kind for an account, keyed by (AccountID, Kind).
type AccountSync struct {
	UserID    string    `json:"userId"`
	AccountID string    `json:"accountId"`
	Kind      string    `json:"kind"` // "transactions" or "holdings"
	EventType string    `json:"eventType"`
	SyncedAt  time.Time `json:"syncedAt"`
}

// UserRecord is a registered upstream user, keyed by UserID.
// SecretHash is a bcrypt fingerprint, never the secret itself.
type UserRecord struct {
	UserID       string    `json:"userId"`
	SecretHash   string    `json:"secretHash,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
}
