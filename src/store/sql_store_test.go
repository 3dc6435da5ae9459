package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/username/brokerbridge/backend/src/database"
	"github.com/username/brokerbridge/backend/src/models"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	s := NewSQLStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStoreRecordEventOnce(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	rec := models.EventRecord{EventID: "evt-1", Type: "SYNC_COMPLETED", UserID: "u1", Payload: []byte(`{}`)}

	fresh, err := s.RecordEvent(ctx, rec)
	require.NoError(t, err)
	require.True(t, fresh)

	fresh, err = s.RecordEvent(ctx, rec)
	require.NoError(t, err)
	require.False(t, fresh)
}

func TestSQLStoreForgetEvent(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	rec := models.EventRecord{EventID: "evt-2", Type: "CONNECTION_BROKEN", Payload: []byte(`{}`)}

	fresh, err := s.RecordEvent(ctx, rec)
	require.NoError(t, err)
	require.True(t, fresh)

	require.NoError(t, s.ForgetEvent(ctx, "evt-2"))
	require.NoError(t, s.ForgetEvent(ctx, "never-recorded"))

	fresh, err = s.RecordEvent(ctx, rec)
	require.NoError(t, err)
	require.True(t, fresh, "a forgotten event is recorded again")
}

func TestSQLStoreUpsertConnection(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertConnection(ctx, models.ConnectionState{
		UserID: "u1", AuthorizationID: "auth-1", Status: "connected", EventType: "CONNECTION_COMPLETED", UpdatedAt: at,
	}))
	require.NoError(t, s.UpsertConnection(ctx, models.ConnectionState{
		UserID: "u1", AuthorizationID: "auth-1", Status: "disconnected", EventType: "CONNECTION_BROKEN", UpdatedAt: at.Add(time.Hour),
	}))

	st, err := s.connectionStatus(ctx, "u1", "auth-1")
	require.NoError(t, err)
	require.Equal(t, "disconnected", st.Status)
	require.Equal(t, "CONNECTION_BROKEN", st.EventType)
	require.True(t, at.Add(time.Hour).Equal(st.UpdatedAt))

	var rows int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM connection_states`).Scan(&rows))
	require.Equal(t, 1, rows)

	_, err = s.connectionStatus(ctx, "u1", "other")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreUpsertAccountSync(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.UpsertAccountSync(ctx, models.AccountSync{
			UserID: "u1", AccountID: "a1", Kind: "holdings", EventType: "POSITIONS_UPDATED",
		}))
	}
	require.NoError(t, s.UpsertAccountSync(ctx, models.AccountSync{AccountID: "a1", Kind: "transactions"}))

	var rows int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM account_syncs WHERE account_id = 'a1'`).Scan(&rows))
	require.Equal(t, 2, rows)
}

func TestSQLStoreUsers(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	_, err := s.GetUser(ctx, "u1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpsertUser(ctx, models.UserRecord{UserID: "u1", SecretHash: "hash-1"}))
	require.NoError(t, s.UpsertUser(ctx, models.UserRecord{UserID: "u1"}))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "hash-1", u.SecretHash)
	require.False(t, u.RegisteredAt.IsZero())
}

func TestSQLStorePing(t *testing.T) {
	require.NoError(t, newSQLStore(t).Ping(context.Background()))
}
