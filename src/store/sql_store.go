package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/username/brokerbridge/backend/src/models"
)

// SQLStore keeps state in the SQLite database prepared by database.InitDB.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) RecordEvent(ctx context.Context, rec models.EventRecord) (bool, error) {
	query := `
	INSERT INTO webhook_events (event_id, type, user_id, account_id, payload, received_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(event_id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query,
		rec.EventID, rec.Type, rec.UserID, rec.AccountID, rec.Payload, utc(rec.ReceivedAt))
	if err != nil {
		return false, fmt.Errorf("recording event %s: %w", rec.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("recording event %s: %w", rec.EventID, err)
	}
	return n > 0, nil
}

func (s *SQLStore) ForgetEvent(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("forgetting event %s: %w", eventID, err)
	}
	return nil
}

func (s *SQLStore) UpsertConnection(ctx context.Context, state models.ConnectionState) error {
	query := `
	INSERT INTO connection_states (user_id, authorization_id, status, event_type, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id, authorization_id) DO UPDATE SET
		status = excluded.status,
		event_type = excluded.event_type,
		updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		state.UserID, state.AuthorizationID, state.Status, state.EventType, utc(state.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting connection for user %s: %w", state.UserID, err)
	}
	return nil
}

func (s *SQLStore) UpsertAccountSync(ctx context.Context, sync models.AccountSync) error {
	query := `
	INSERT INTO account_syncs (account_id, kind, user_id, event_type, synced_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(account_id, kind) DO UPDATE SET
		user_id = excluded.user_id,
		event_type = excluded.event_type,
		synced_at = excluded.synced_at`
	_, err := s.db.ExecContext(ctx, query,
		sync.AccountID, sync.Kind, sync.UserID, sync.EventType, utc(sync.SyncedAt))
	if err != nil {
		return fmt.Errorf("upserting %s sync for account %s: %w", sync.Kind, sync.AccountID, err)
	}
	return nil
}

func (s *SQLStore) UpsertUser(ctx context.Context, user models.UserRecord) error {
	query := `
	INSERT INTO bridge_users (user_id, secret_hash, registered_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		secret_hash = CASE WHEN excluded.secret_hash != '' THEN excluded.secret_hash ELSE bridge_users.secret_hash END,
		updated_at = excluded.updated_at`
	registered := utc(user.RegisteredAt)
	_, err := s.db.ExecContext(ctx, query, user.UserID, user.SecretHash, registered, registered)
	if err != nil {
		return fmt.Errorf("upserting user %s: %w", user.UserID, err)
	}
	return nil
}

func (s *SQLStore) GetUser(ctx context.Context, userID string) (*models.UserRecord, error) {
	query := `
	SELECT user_id, secret_hash, registered_at
	FROM bridge_users
	WHERE user_id = ?`
	var user models.UserRecord
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&user.UserID, &user.SecretHash, &user.RegisteredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading user %s: %w", userID, err)
	}
	return &user, nil
}

// connectionStatus returns the stored state for a connection.
func (s *SQLStore) connectionStatus(ctx context.Context, userID, authorizationID string) (*models.ConnectionState, error) {
	query := `
	SELECT user_id, authorization_id, status, event_type, updated_at
	FROM connection_states
	WHERE user_id = ? AND authorization_id = ?`
	var st models.ConnectionState
	err := s.db.QueryRowContext(ctx, query, userID, authorizationID).
		Scan(&st.UserID, &st.AuthorizationID, &st.Status, &st.EventType, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading connection for user %s: %w", userID, err)
	}
	return &st, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
