// Package store persists webhook side effects and registered users. Every write is an
// upsert keyed by the subject identifiers, so replayed events converge on the same state.
package store

import (
	"context"
	"errors"

	"github.com/username/brokerbridge/backend/src/models"
)

// ErrNotFound is returned by lookups for keys that were never written.
var ErrNotFound = errors.New("store: not found")

// Store is implemented by SQLStore and HTTPStore.
type Store interface {
	// RecordEvent appends to the event log once per EventID; false means already recorded.
	RecordEvent(ctx context.Context, rec models.EventRecord) (bool, error)
	// ForgetEvent deletes the record for eventID; a missing record is not an error.
	ForgetEvent(ctx context.Context, eventID string) error
	UpsertConnection(ctx context.Context, state models.ConnectionState) error
	UpsertAccountSync(ctx context.Context, sync models.AccountSync) error
	UpsertUser(ctx context.Context, user models.UserRecord) error
	GetUser(ctx context.Context, userID string) (*models.UserRecord, error)
	Ping(ctx context.Context) error
	Close() error
}
