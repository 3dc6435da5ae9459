package webhook

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc/pool"

	"github.com/username/brokerbridge/backend/src/errs"
	"github.com/username/brokerbridge/backend/src/logger"
	"github.com/username/brokerbridge/backend/src/metrics"
	"github.com/username/brokerbridge/backend/src/models"
)

// EventStore is the persisted state the ingestor writes to. Every write is an upsert
// keyed by the event's subject identifiers.
type EventStore interface {
	// RecordEvent stores the event once; it reports false when EventID was already recorded.
	RecordEvent(ctx context.Context, rec models.EventRecord) (bool, error)
	// ForgetEvent removes the record so a redelivery of EventID is processed again.
	ForgetEvent(ctx context.Context, eventID string) error
	UpsertConnection(ctx context.Context, state models.ConnectionState) error
	UpsertAccountSync(ctx context.Context, sync models.AccountSync) error
}

// Alerter is told about connections that need user attention.
type Alerter interface {
	ConnectionAlert(ctx context.Context, ev models.WebhookEvent) error
}

// vocabulary maps sender event types to kinds. Matching is case-sensitive.
var vocabulary = map[string]models.EventKind{
	"ping":                                models.EventPing,
	"CONNECTION_COMPLETED":                models.EventConnectionCompleted,
	"CONNECTION_ADDED":                    models.EventConnectionCompleted,
	"CONNECTION_FIXED":                    models.EventConnectionCompleted,
	"CONNECTION_FAILED":                   models.EventConnectionFailed,
	"CONNECTION_CANCELLED":                models.EventConnectionCancelled,
	"CONNECTION_DISCONNECTED":             models.EventDisconnected,
	"CONNECTION_BROKEN":                   models.EventDisconnected,
	"CONNECTION_DELETED":                  models.EventDisconnected,
	"SYNC_COMPLETED":                      models.EventSyncCompleted,
	"ACCOUNT_TRANSACTIONS_INITIAL_UPDATE": models.EventSyncCompleted,
	"ACCOUNT_TRANSACTIONS_UPDATED":        models.EventSyncCompleted,
	"POSITIONS_UPDATED":                   models.EventPositionsUpdated,
	"ACCOUNT_HOLDINGS_UPDATED":            models.EventPositionsUpdated,
}

var connectionStatus = map[models.EventKind]string{
	models.EventConnectionCompleted: "connected",
	models.EventConnectionFailed:    "failed",
	models.EventConnectionCancelled: "cancelled",
	models.EventDisconnected:        "disconnected",
}

const maxParallelUpserts = 8

// Classify maps an event type onto its kind; unrecognised types are EventUnknown.
func Classify(eventType string) models.EventKind {
	if kind, ok := vocabulary[eventType]; ok {
		return kind
	}
	return models.EventUnknown
}

// Parse decodes a raw webhook body. An empty body is an empty object; anything that is
// not a JSON object is a malformed payload.
func Parse(raw []byte) (models.WebhookEvent, error) {
	ev := models.WebhookEvent{Raw: raw, Body: map[string]any{}}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
		var err error
		if !json.Valid(trimmed) {
			err = errors.New("body is not a single JSON value")
		} else {
			dec := json.NewDecoder(bytes.NewReader(trimmed))
			dec.UseNumber()
			if err = dec.Decode(&ev.Body); err == nil && ev.Body == nil {
				err = errors.New("body is not a JSON object")
			}
		}
		if err != nil {
			return ev, errs.New("webhook.parse", errs.CodeMalformed,
				errs.WithMessage("Invalid JSON body"), errs.WithCause(err))
		}
	}

	ev.Type = stringField(ev.Body, "type", "event", "eventType")
	ev.Kind = Classify(ev.Type)
	if ping, _ := ev.Body["ping"].(bool); ping {
		ev.Kind = models.EventPing
	}
	ev.UserID = optional(stringField(ev.Body, "userId", "user_id"))
	ev.AccountID = optional(stringField(ev.Body, "accountId", "account_id"))
	ev.AuthID = optional(stringField(ev.Body, "brokerageAuthorizationId", "authorizationId", "brokerage_authorization_id"))
	ev.AccountIDs = accountIDs(ev.Body, ev.AccountID)

	ev.ID = stringField(ev.Body, "eventId", "webhookId", "event_id")
	if ev.ID == "" {
		sum := sha256.Sum256(raw)
		ev.ID = "sha256:" + hex.EncodeToString(sum[:])
	}
	return ev, nil
}

// Result is the acknowledgement of one event.
type Result struct {
	EventID   string           `json:"eventId,omitempty"`
	Kind      models.EventKind `json:"kind"`
	Duplicate bool             `json:"duplicate,omitempty"`
	Pong      bool             `json:"pong,omitempty"`
}

// Ingestor dispatches authenticated events to their side effects.
type Ingestor struct {
	store   EventStore
	alerter Alerter
	metrics *metrics.Metrics
	timeout time.Duration
	now     func() time.Time
}

// NewIngestor builds an Ingestor. alerter and m may be nil.
func NewIngestor(store EventStore, alerter Alerter, m *metrics.Metrics, timeout time.Duration) *Ingestor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ingestor{store: store, alerter: alerter, metrics: m, timeout: timeout, now: time.Now}
}

// Ingest runs the side effects of ev and always acknowledges. Side-effect failures are
// logged and counted, never returned, so the sender does not retry what it cannot fix.
func (in *Ingestor) Ingest(ctx context.Context, ev models.WebhookEvent) Result {
	log := logger.FromContext(ctx).With("eventId", ev.ID, "eventType", ev.Type, "kind", string(ev.Kind))
	in.metrics.ObserveEvent(string(ev.Kind))

	res := Result{EventID: ev.ID, Kind: ev.Kind}
	if ev.Kind == models.EventPing {
		res.Pong = true
		log.Info("Webhook ping received")
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	fresh, err := in.store.RecordEvent(ctx, models.EventRecord{
		EventID:    ev.ID,
		Type:       ev.Type,
		UserID:     deref(ev.UserID),
		AccountID:  deref(ev.AccountID),
		Payload:    ev.Raw,
		ReceivedAt: in.now().UTC(),
	})
	if err != nil {
		// Without the log entry duplicates cannot be detected; upserts stay safe to repeat.
		log.Error("Failed to record webhook event", "error", err)
	} else if !fresh {
		log.Info("Duplicate webhook event acknowledged")
		res.Duplicate = true
		return res
	}

	var applyErr error
	switch ev.Kind {
	case models.EventConnectionCompleted, models.EventConnectionFailed,
		models.EventConnectionCancelled, models.EventDisconnected:
		applyErr = in.connectionChanged(ctx, ev)
	case models.EventSyncCompleted:
		applyErr = in.accountsSynced(ctx, ev, "transactions")
	case models.EventPositionsUpdated:
		applyErr = in.accountsSynced(ctx, ev, "holdings")
	default:
		log.Info("Unhandled webhook event type acknowledged")
	}

	// An event whose upserts failed is released so its redelivery applies them.
	if applyErr != nil && err == nil {
		fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), in.timeout)
		defer fcancel()
		if ferr := in.store.ForgetEvent(fctx, ev.ID); ferr != nil {
			log.Error("Failed to release webhook event after side-effect failure", "error", ferr)
		} else {
			log.Warn("Webhook event released for redelivery", "error", applyErr)
		}
	}
	return res
}

// connectionChanged upserts the connection state and sends the alert concurrently. Only the
// upsert error is returned; a failed alert is logged.
func (in *Ingestor) connectionChanged(ctx context.Context, ev models.WebhookEvent) error {
	log := logger.FromContext(ctx).With("eventId", ev.ID, "eventType", ev.Type)
	if ev.UserID == nil {
		log.Warn("Connection event without userId, skipping state update")
		return nil
	}

	p := pool.New().WithErrors().WithContext(ctx)
	p.Go(func(ctx context.Context) error {
		err := in.store.UpsertConnection(ctx, models.ConnectionState{
			UserID:          *ev.UserID,
			AuthorizationID: deref(ev.AuthID),
			Status:          connectionStatus[ev.Kind],
			EventType:       ev.Type,
			UpdatedAt:       in.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("upsert connection: %w", err)
		}
		return nil
	})
	if in.alerter != nil && (ev.Kind == models.EventConnectionFailed || ev.Kind == models.EventDisconnected) {
		p.Go(func(ctx context.Context) error {
			if err := in.alerter.ConnectionAlert(ctx, ev); err != nil {
				log.Error("Connection alert failed", "error", err)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		log.Error("Webhook side effect failed", "error", err)
		return err
	}
	return nil
}

// accountsSynced upserts one sync record per account; each account proceeds independently.
func (in *Ingestor) accountsSynced(ctx context.Context, ev models.WebhookEvent, kind string) error {
	log := logger.FromContext(ctx).With("eventId", ev.ID, "eventType", ev.Type)
	if len(ev.AccountIDs) == 0 {
		log.Warn("Sync event without account ids, nothing to update")
		return nil
	}

	p := pool.New().WithErrors().WithMaxGoroutines(maxParallelUpserts)
	for _, accountID := range ev.AccountIDs {
		p.Go(func() error {
			err := in.store.UpsertAccountSync(ctx, models.AccountSync{
				UserID:    deref(ev.UserID),
				AccountID: accountID,
				Kind:      kind,
				EventType: ev.Type,
				SyncedAt:  in.now().UTC(),
			})
			if err != nil {
				log.Error("Account sync upsert failed", "accountId", accountID, "error", err)
				return err
			}
			return nil
		})
	}
	return p.Wait()
}

func stringField(body map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := body[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// accountIDs merges the single and list forms of the account subject, without duplicates.
func accountIDs(body map[string]any, single *string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if single != nil {
		add(*single)
	}
	for _, key := range []string{"accountIds", "accounts"} {
		list, _ := body[key].([]any)
		for _, item := range list {
			switch v := item.(type) {
			case string:
				add(v)
			case map[string]any:
				add(stringField(v, "id", "accountId"))
			}
		}
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
