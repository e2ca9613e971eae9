package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"congregation-admin-go/internal/models"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDB = errors.New("db unavailable")

var (
	auditCols = []string{"id", "action", "actor", "target", "description", "metadata", "logged_at"}
	binCols   = []string{"id", "type", "original_id", "data", "deleted_by", "deleted_at", "expires_at"}
	userCols  = []string{"id", "username", "password_hash", "role", "totp_secret", "totp_enabled", "last_password_change", "created_at"}
)

var fixedNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func newPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewPostgresStoreWithDB(db)
	s.SetClock(func() time.Time { return fixedNow })
	return s, mock
}

func recordEntries(s interface{ AddAuditListener(AuditListener) }) *[]models.AuditLogEntry {
	var got []models.AuditLogEntry
	s.AddAuditListener(AuditListenerFunc(func(_ context.Context, e models.AuditLogEntry) {
		got = append(got, e)
	}))
	return &got
}

// ---------------------------------------------------------------------------
// Event log
// ---------------------------------------------------------------------------

func TestPostgresAppend_StampsTimestamp(t *testing.T) {
	s, mock := newPostgresStore(t)
	fired := recordEntries(s)

	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(models.ActionLogin, "Ana", "user:u1", "signed in", nil, fixedNow.UnixMilli()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	entry, err := s.Append(context.Background(), models.AuditLogEntry{
		Action:      models.ActionLogin,
		Actor:       "Ana",
		Target:      "user:u1",
		Description: "signed in",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), entry.ID)
	assert.Equal(t, fixedNow.UnixMilli(), entry.Timestamp)
	assert.Len(t, *fired, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppend_DBError(t *testing.T) {
	s, mock := newPostgresStore(t)
	fired := recordEntries(s)

	mock.ExpectQuery("INSERT INTO audit_logs").WillReturnError(errDB)

	_, err := s.Append(context.Background(), models.AuditLogEntry{Action: models.ActionLogin})
	assert.ErrorIs(t, err, errDB)
	assert.Empty(t, *fired)
}

func TestPostgresListRecent_DefaultsLimit(t *testing.T) {
	s, mock := newPostgresStore(t)

	mock.ExpectQuery("SELECT .* FROM audit_logs ORDER BY logged_at DESC, id DESC LIMIT").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(auditCols).
			AddRow(2, "RESTORE_USER", "Admin", "user:u1", "", nil, int64(2000)).
			AddRow(1, "SOFT_DELETE", "Admin", "user:u1", "", []byte(`{"binId":"b1"}`), int64(1000)))

	logs, err := s.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "RESTORE_USER", logs[0].Action)
	assert.Nil(t, logs[0].Metadata)
	assert.Equal(t, "b1", logs[1].Metadata["binId"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListAll_QueryError(t *testing.T) {
	s, mock := newPostgresStore(t)
	mock.ExpectQuery("SELECT .* FROM audit_logs").WillReturnError(errDB)

	_, err := s.ListAll(context.Background())
	assert.ErrorIs(t, err, errDB)
}

// ---------------------------------------------------------------------------
// Recycle bin
// ---------------------------------------------------------------------------

func TestPostgresAdd_InsertsItemAndSoftDeleteEntry(t *testing.T) {
	s, mock := newPostgresStore(t)
	fired := recordEntries(s)
	deletedAt := fixedNow.UnixMilli()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bin_items").
		WithArgs(sqlmock.AnyArg(), "user", "u1", []byte(`{"id":"u1"}`), "Admin", deletedAt, deletedAt+2_592_000_000).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(models.ActionSoftDelete, "Admin", "user:u1", sqlmock.AnyArg(), sqlmock.AnyArg(), deletedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectCommit()

	item, err := s.Add(context.Background(), "user", "u1", json.RawMessage(`{"id":"u1"}`), "")
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "Admin", item.DeletedBy)
	assert.Equal(t, item.DeletedAt+models.BinRetentionMillis, item.ExpiresAt)

	require.Len(t, *fired, 1)
	assert.Equal(t, models.ActionSoftDelete, (*fired)[0].Action)
	assert.Equal(t, "user:u1", (*fired)[0].Target)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAdd_AuditFailureRollsBack(t *testing.T) {
	s, mock := newPostgresStore(t)
	fired := recordEntries(s)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bin_items").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO audit_logs").WillReturnError(errDB)
	mock.ExpectRollback()

	_, err := s.Add(context.Background(), "user", "u1", nil, "Admin")
	assert.ErrorIs(t, err, errDB)
	assert.Empty(t, *fired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetBinItem(t *testing.T) {
	s, mock := newPostgresStore(t)
	id := "6f1c2a4e-8d9b-4c3a-9e2f-1a2b3c4d5e6f"

	mock.ExpectQuery("SELECT (.+) FROM bin_items WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(binCols).
			AddRow(id, "user", "u1", []byte(`{"id":"u1"}`), "Admin", int64(1), int64(2)))

	item, err := s.GetBinItem(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "u1", item.OriginalID)

	mock.ExpectQuery("SELECT (.+) FROM bin_items").WithArgs(id).WillReturnRows(sqlmock.NewRows(binCols))
	_, err = s.GetBinItem(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetBinItem(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRemove_ReturnsSnapshot(t *testing.T) {
	s, mock := newPostgresStore(t)
	id := "6f1c2a4e-8d9b-4c3a-9e2f-1a2b3c4d5e6f"

	mock.ExpectQuery("DELETE FROM bin_items WHERE id = \\$1 RETURNING").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(binCols).
			AddRow(id, "user", "u1", []byte(`{"id":"u1"}`), "Admin", int64(1), int64(2)))

	item, err := s.Remove(context.Background(), id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"u1"}`, string(item.Data))
	assert.Equal(t, "u1", item.OriginalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRemove_NotFound(t *testing.T) {
	s, mock := newPostgresStore(t)
	id := "6f1c2a4e-8d9b-4c3a-9e2f-1a2b3c4d5e6f"

	mock.ExpectQuery("DELETE FROM bin_items").WithArgs(id).WillReturnRows(sqlmock.NewRows(binCols))

	_, err := s.Remove(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRemove_MalformedIDIsNotFound(t *testing.T) {
	s, mock := newPostgresStore(t)

	_, err := s.Remove(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRemoveByOriginal(t *testing.T) {
	s, mock := newPostgresStore(t)
	mock.ExpectExec("DELETE FROM bin_items WHERE type = \\$1 AND original_id = \\$2").
		WithArgs("user", "u1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.RemoveByOriginal(context.Background(), "user", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func expectExpired(mock sqlmock.Sqlmock, now time.Time, ids ...string) {
	rows := sqlmock.NewRows(binCols)
	for _, id := range ids {
		rows.AddRow(id, "user", "orig-"+id, []byte(`{}`), "Admin", int64(1), int64(2))
	}
	mock.ExpectQuery("SELECT .* FROM bin_items WHERE expires_at < \\$1").
		WithArgs(now.UnixMilli()).
		WillReturnRows(rows)
}

func expectPurge(mock sqlmock.Sqlmock, id string) {
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM bin_items WHERE id = \\$1").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(models.ActionPermanentDeleteAuto, "System", "user:orig-"+id, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()
}

func TestPostgresPurgeExpired_LogsEachItem(t *testing.T) {
	s, mock := newPostgresStore(t)
	fired := recordEntries(s)

	expectExpired(mock, fixedNow, "a", "b")
	expectPurge(mock, "a")
	expectPurge(mock, "b")

	n, err := s.PurgeExpired(context.Background(), fixedNow, SweepContinue)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, *fired, 2)
	for _, e := range *fired {
		assert.Equal(t, models.ActionPermanentDeleteAuto, e.Action)
		assert.Equal(t, "System", e.Actor)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPurgeExpired_AlreadyGoneIsNotLogged(t *testing.T) {
	s, mock := newPostgresStore(t)

	expectExpired(mock, fixedNow, "a")
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM bin_items WHERE id").WithArgs("a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	n, err := s.PurgeExpired(context.Background(), fixedNow, SweepContinue)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPurgeExpired_ContinuePastFailure(t *testing.T) {
	s, mock := newPostgresStore(t)

	expectExpired(mock, fixedNow, "a", "b")
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM bin_items WHERE id").WithArgs("a").WillReturnError(errDB)
	mock.ExpectRollback()
	expectPurge(mock, "b")

	n, err := s.PurgeExpired(context.Background(), fixedNow, SweepContinue)
	assert.ErrorIs(t, err, errDB)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPurgeExpired_FailFastStops(t *testing.T) {
	s, mock := newPostgresStore(t)

	expectExpired(mock, fixedNow, "a", "b")
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM bin_items WHERE id").WithArgs("a").WillReturnError(errDB)
	mock.ExpectRollback()

	n, err := s.PurgeExpired(context.Background(), fixedNow, SweepFailFast)
	assert.ErrorIs(t, err, errDB)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Local users
// ---------------------------------------------------------------------------

func TestPostgresCreateLocalUser_Conflict(t *testing.T) {
	s, mock := newPostgresStore(t)
	mock.ExpectQuery("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})

	_, err := s.CreateLocalUser(context.Background(), "ana", "password123", models.RoleUser)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPostgresGetLocalUserByUsername(t *testing.T) {
	s, mock := newPostgresStore(t)
	mock.ExpectQuery("SELECT .* FROM users WHERE username = \\$1").
		WithArgs("ana").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(4, "ana", "hash", "admin", nil, nil, nil, fixedNow))

	u, err := s.GetLocalUserByUsername(context.Background(), "ana")
	require.NoError(t, err)
	assert.Equal(t, 4, u.ID)
	assert.False(t, u.TOTPEnabled)
	assert.Empty(t, u.TOTPSecret)
}

func TestPostgresGetLocalUser_NotFound(t *testing.T) {
	s, mock := newPostgresStore(t)
	mock.ExpectQuery("SELECT .* FROM users WHERE id").WillReturnError(sql.ErrNoRows)

	_, err := s.GetLocalUser(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresUpdateLocalUserPassword_NoRows(t *testing.T) {
	s, mock := newPostgresStore(t)
	mock.ExpectExec("UPDATE users SET password_hash").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateLocalUserPassword(context.Background(), 9, "hash")
	assert.ErrorIs(t, err, ErrNotFound)
}
